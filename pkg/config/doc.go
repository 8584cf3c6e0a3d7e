/*
Package config loads MongoRelay's runtime configuration.

Configuration is environment-first: every tunable has a default, a .env file
in the working directory is honored (real environment wins), and only
SOURCE_URI and TARGET_URI are required. Collection mappings come from a
separate file, collections.json by default.

# Tunables

	SOURCE_URI / TARGET_URI   connection strings (required)
	BATCH_SIZE                max documents per fetch/apply (1000)
	CONCURRENCY               bulk worker pool size (4)
	MAX_THREADS               CDC fan-out; 0 = one worker per collection
	POLLING_INTERVAL          idle seconds between poll cycles (5)
	RETRY_LIMIT / RETRY_DELAY retry policy (5 attempts, 2s linear base)
	CONNECTION_TIMEOUT        dial deadline in ms (60000)
	SOCKET_TIMEOUT            per-operation deadline in ms (60000)
	MAX_POOL_SIZE             driver pool cap per endpoint (50)
	CDC_FORCE_REFRESH         ignore saved watermarks, scan fully (false)
	CDC_DEBUG                 per-document comparison logs (false)
	SOURCE_CA_FILE/TARGET_CA_FILE  optional CA bundles for TLS
	STATE_DIR                 root for progress/, verification/, logs/ (".")
	STATE_BACKEND             checkpoint persistence, "file" or "bolt" ("file")
	LOG_LEVEL / LOG_JSON / LOG_FILE  logging setup
	METRICS_ADDR              optional Prometheus listener for cdc mode

# Mappings File

collections.json is an array of replication units:

	[
	  {"source_db": "app", "target_db": "app", "collection": "users"},
	  {"source_db": "app", "target_db": "app_archive", "collection": "orders"}
	]

The same shape is accepted as YAML when the file ends in .yaml/.yml:

	- source_db: app
	  target_db: app
	  collection: users

# Usage

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	mappings, err := config.LoadMappings("collections.json")

Durations are normalized at load time: POLLING_INTERVAL and RETRY_DELAY are
given in seconds, the network timeouts in milliseconds, matching the units
their names historically carried.
*/
package config

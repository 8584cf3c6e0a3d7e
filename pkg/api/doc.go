/*
Package api implements the HTTP observability server for replication runs.

The server is the single network surface of the engine. Replication itself
needs no inbound traffic; everything served here is read-only telemetry
for operators and scrapers.

# Architecture

	┌──────────── CLIENT (Prometheus / operator / dashboard) ────────────┐
	│                                                                    │
	│   GET /metrics      GET /healthz       GET /progress               │
	└─────────┬───────────────┬────────────────────┬────────────────────┘
	          │               │                    │
	┌─────────▼───────────────▼────────────────────▼────────────────────┐
	│                      HTTP Server (pkg/api)                         │
	│                                                                    │
	│   promhttp           component health       checkpoint snapshot    │
	│   (pkg/metrics)      registry (pkg/metrics) (pkg/monitor)          │
	└────────────────────────────────────────────────┬───────────────────┘
	                                                 │ reads files only
	                                      progress/*.json

# Endpoints

  - /metrics: Prometheus exposition of every registered instrument
  - /healthz, /health: component health map, 503 when any component is unhealthy
  - /ready: critical components (source, target, state) registered and healthy
  - /live: process liveness, always 200
  - /progress: per-collection replication status as JSON

The /progress payload is assembled from checkpoint files on every request
and never opens a database connection, so polling it aggressively adds no
load to either cluster.

# Usage

	server := api.NewServer(store, mappings)

	go func() {
		if err := server.Start(":9216"); err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	}()
	defer server.Shutdown(ctx)

The CDC orchestrator starts this server when --metrics-addr is set; the
monitor daemon always runs one.

# See Also

  - pkg/metrics: the instruments and health registry served here
  - pkg/monitor: the snapshot behind /progress
*/
package api

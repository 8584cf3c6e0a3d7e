package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stratumhq/mongorelay/pkg/types"
)

// AppName identifies this application in database server logs
const AppName = "mongorelay"

// Defaults for every tunable. Each can be overridden via environment.
const (
	DefaultBatchSize              = 1000
	DefaultConcurrency            = 4
	DefaultPollingInterval        = 5 * time.Second
	DefaultRetryLimit             = 5
	DefaultRetryDelay             = 2 * time.Second
	DefaultConnectionTimeout      = 60000 * time.Millisecond
	DefaultSocketTimeout          = 60000 * time.Millisecond
	DefaultServerSelectionTimeout = 60 * time.Second
	DefaultMaxPoolSize            = 50
	DefaultMaxIdleTime            = 60 * time.Second
	DefaultMonitorRefresh         = 2 * time.Second
)

// Config holds all runtime configuration for the replication engine.
type Config struct {
	// Endpoints
	SourceURI string
	TargetURI string

	// Performance
	BatchSize   int
	Concurrency int
	// Threads controls CDC fan-out: 0 means one worker per collection.
	Threads int

	// CDC behavior
	PollingInterval time.Duration
	ForceRefresh    bool
	Debug           bool

	// Reliability
	RetryLimit             int
	RetryDelay             time.Duration
	ConnectionTimeout      time.Duration
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	MaxIdleTime            time.Duration

	// Optional TLS trust anchors for the driver
	SourceCAFile string
	TargetCAFile string

	// State layout root; progress/, verification/ and logs/ live under it.
	StateDir string

	// StateBackend selects checkpoint persistence: "file" (default) or
	// "bolt". Engine and monitor must agree on it.
	StateBackend string

	// Logging
	LogLevel string
	LogJSON  bool
	LogFile  string

	// Optional metrics listener for long-running modes ("" disables)
	MetricsAddr string
}

// Load builds the configuration from the environment. A .env file in the
// working directory is honored first; real environment variables win over
// file entries. SOURCE_URI and TARGET_URI are required.
func Load() (*Config, error) {
	// Missing .env is not an error; env-only deployments are the norm.
	_ = godotenv.Load()

	cfg := &Config{
		SourceURI:              os.Getenv("SOURCE_URI"),
		TargetURI:              os.Getenv("TARGET_URI"),
		BatchSize:              getEnvInt("BATCH_SIZE", DefaultBatchSize),
		Concurrency:            getEnvInt("CONCURRENCY", DefaultConcurrency),
		Threads:                getEnvInt("MAX_THREADS", 0),
		PollingInterval:        getEnvSeconds("POLLING_INTERVAL", DefaultPollingInterval),
		ForceRefresh:           getEnvBool("CDC_FORCE_REFRESH", false),
		Debug:                  getEnvBool("CDC_DEBUG", false),
		RetryLimit:             getEnvInt("RETRY_LIMIT", DefaultRetryLimit),
		RetryDelay:             getEnvSeconds("RETRY_DELAY", DefaultRetryDelay),
		ConnectionTimeout:      getEnvMillis("CONNECTION_TIMEOUT", DefaultConnectionTimeout),
		SocketTimeout:          getEnvMillis("SOCKET_TIMEOUT", DefaultSocketTimeout),
		ServerSelectionTimeout: DefaultServerSelectionTimeout,
		MaxPoolSize:            uint64(getEnvInt("MAX_POOL_SIZE", DefaultMaxPoolSize)),
		MaxIdleTime:            DefaultMaxIdleTime,
		SourceCAFile:           os.Getenv("SOURCE_CA_FILE"),
		TargetCAFile:           os.Getenv("TARGET_CA_FILE"),
		StateDir:               getEnv("STATE_DIR", "."),
		StateBackend:           getEnv("STATE_BACKEND", "file"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogJSON:                getEnvBool("LOG_JSON", false),
		LogFile:                os.Getenv("LOG_FILE"),
		MetricsAddr:            os.Getenv("METRICS_ADDR"),
	}

	if cfg.SourceURI == "" {
		return nil, fmt.Errorf("SOURCE_URI environment variable not set")
	}
	if cfg.TargetURI == "" {
		return nil, fmt.Errorf("TARGET_URI environment variable not set")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("CONCURRENCY must be positive, got %d", cfg.Concurrency)
	}

	return cfg, nil
}

// ProgressDir is where checkpoint files live.
func (c *Config) ProgressDir() string {
	return filepath.Join(c.StateDir, "progress")
}

// VerificationDir is where verification and report records live.
func (c *Config) VerificationDir() string {
	return filepath.Join(c.StateDir, "verification")
}

// LogsDir is where per-collection failure logs live.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// EnsureDirs creates the state directories if missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.ProgressDir(), c.VerificationDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// LoadMappings reads the collection mappings file. JSON is the primary
// format; .yaml/.yml files with the same shape are accepted.
func LoadMappings(path string) ([]types.CollectionMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file %s: %w", path, err)
	}

	var mappings []types.CollectionMapping
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &mappings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &mappings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if len(mappings) == 0 {
		return nil, fmt.Errorf("mappings file %s contains no collections", path)
	}
	for i, m := range mappings {
		if m.SourceDB == "" || m.TargetDB == "" || m.Collection == "" {
			return nil, fmt.Errorf("mapping %d in %s is incomplete: source_db, target_db and collection are required", i, path)
		}
	}

	return mappings, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvSeconds reads a tunable expressed in whole seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// getEnvMillis reads a tunable expressed in milliseconds.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

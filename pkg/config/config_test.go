package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SOURCE_URI", "mongodb://localhost:27017")
	t.Setenv("TARGET_URI", "mongodb://localhost:27018")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 0, cfg.Threads)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.Equal(t, 5, cfg.RetryLimit)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 60*time.Second, cfg.SocketTimeout)
	assert.Equal(t, uint64(50), cfg.MaxPoolSize)
	assert.False(t, cfg.ForceRefresh)
	assert.False(t, cfg.Debug)
	assert.Equal(t, ".", cfg.StateDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SOURCE_URI", "mongodb://src:27017")
	t.Setenv("TARGET_URI", "mongodb://tgt:27017")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("CONCURRENCY", "8")
	t.Setenv("POLLING_INTERVAL", "15")
	t.Setenv("RETRY_DELAY", "1")
	t.Setenv("CONNECTION_TIMEOUT", "5000")
	t.Setenv("CDC_FORCE_REFRESH", "true")
	t.Setenv("CDC_DEBUG", "1")
	t.Setenv("STATE_DIR", "/tmp/relay-state")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 15*time.Second, cfg.PollingInterval)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.ConnectionTimeout)
	assert.True(t, cfg.ForceRefresh)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/relay-state", cfg.StateDir)
	assert.Equal(t, filepath.Join("/tmp/relay-state", "progress"), cfg.ProgressDir())
	assert.Equal(t, filepath.Join("/tmp/relay-state", "logs"), cfg.LogsDir())
}

func TestLoadMissingURIs(t *testing.T) {
	t.Setenv("SOURCE_URI", "")
	t.Setenv("TARGET_URI", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCE_URI")
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SOURCE_URI", "mongodb://src:27017")
	t.Setenv("TARGET_URI", "mongodb://tgt:27017")
	t.Setenv("BATCH_SIZE", "not-a-number")
	t.Setenv("POLLING_INTERVAL", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
}

func TestEnsureDirs(t *testing.T) {
	cfg := &Config{StateDir: t.TempDir()}
	require.NoError(t, cfg.EnsureDirs())

	for _, dir := range []string{cfg.ProgressDir(), cfg.VerificationDir(), cfg.LogsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadMappingsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.json")
	data := `[
		{"source_db": "app", "target_db": "app", "collection": "users"},
		{"source_db": "app", "target_db": "archive", "collection": "orders"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	mappings, err := LoadMappings(path)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "app", mappings[0].SourceDB)
	assert.Equal(t, "users", mappings[0].Collection)
	assert.Equal(t, "archive", mappings[1].TargetDB)
}

func TestLoadMappingsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.yaml")
	data := `
- source_db: app
  target_db: app
  collection: users
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	mappings, err := LoadMappings(path)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "users", mappings[0].Collection)
}

func TestLoadMappingsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty array", content: `[]`},
		{name: "invalid json", content: `{not json`},
		{name: "incomplete entry", content: `[{"source_db": "app", "collection": "users"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "collections.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadMappings(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMappingsMissingFile(t *testing.T) {
	_, err := LoadMappings(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

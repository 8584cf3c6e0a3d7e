package framework

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// DefaultHarnessConfig reads the cluster endpoints from the environment
// and picks a unique scratch database so parallel runs cannot collide.
func DefaultHarnessConfig() *HarnessConfig {
	return &HarnessConfig{
		SourceURI: os.Getenv(SourceURIEnv),
		TargetURI: os.Getenv(TargetURIEnv),
		Database:  fmt.Sprintf("mongorelay_it_%d", time.Now().UnixNano()),
		Timeout:   30 * time.Second,
	}
}

// NewHarness connects to the configured clusters, or skips the test when
// no clusters are configured. Cleanup drops the scratch database on both
// sides and disconnects.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	hc := DefaultHarnessConfig()
	if hc.SourceURI == "" || hc.TargetURI == "" {
		t.Skipf("Set %s and %s to run integration tests", SourceURIEnv, TargetURIEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.Timeout)
	defer cancel()

	source := connect(t, ctx, "source", hc.SourceURI)
	target := connect(t, ctx, "target", hc.TargetURI)

	h := &Harness{
		Config: hc,
		Source: source,
		Target: target,
		t:      t,
	}
	t.Cleanup(h.cleanup)
	return h
}

func connect(t *testing.T, ctx context.Context, role, uri string) *mongo.Client {
	t.Helper()

	c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", role, err)
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		t.Fatalf("Failed to ping %s: %v", role, err)
	}
	return c
}

// cleanup drops the scratch database on both clusters and disconnects.
// Drop failures are logged, not fatal: a half-removed scratch database
// must not mask the test outcome.
func (h *Harness) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), h.Config.Timeout)
	defer cancel()

	if err := h.Source.Database(h.Config.Database).Drop(ctx); err != nil {
		h.t.Logf("Warning: failed to drop %s on source: %v", h.Config.Database, err)
	}
	if err := h.Target.Database(h.Config.Database).Drop(ctx); err != nil {
		h.t.Logf("Warning: failed to drop %s on target: %v", h.Config.Database, err)
	}

	if err := h.Source.Disconnect(ctx); err != nil {
		h.t.Logf("Warning: failed to disconnect source: %v", err)
	}
	if err := h.Target.Disconnect(ctx); err != nil {
		h.t.Logf("Warning: failed to disconnect target: %v", err)
	}
}

// Mapping returns a collection mapping inside the scratch database.
func (h *Harness) Mapping(collection string) types.CollectionMapping {
	return types.CollectionMapping{
		SourceDB:   h.Config.Database,
		TargetDB:   h.Config.Database,
		Collection: collection,
	}
}

// EngineConfig returns a runnable engine configuration pointed at the
// harness clusters, with a per-test state directory and timeouts sized
// for a local test run.
func (h *Harness) EngineConfig() *config.Config {
	h.t.Helper()

	cfg := &config.Config{
		SourceURI:              h.Config.SourceURI,
		TargetURI:              h.Config.TargetURI,
		BatchSize:              100,
		Concurrency:            2,
		PollingInterval:        time.Second,
		RetryLimit:             3,
		RetryDelay:             time.Second,
		ConnectionTimeout:      10 * time.Second,
		SocketTimeout:          10 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
		MaxPoolSize:            10,
		MaxIdleTime:            time.Minute,
		StateDir:               h.t.TempDir(),
		StateBackend:           "file",
		LogLevel:               "info",
	}
	if err := cfg.EnsureDirs(); err != nil {
		h.t.Fatalf("Failed to prepare state directories: %v", err)
	}
	return cfg
}

// SourceCollection returns the source handle for a mapping.
func (h *Harness) SourceCollection(mapping types.CollectionMapping) *mongo.Collection {
	return h.Source.Database(mapping.SourceDB).Collection(mapping.Collection)
}

// TargetCollection returns the target handle for a mapping.
func (h *Harness) TargetCollection(mapping types.CollectionMapping) *mongo.Collection {
	return h.Target.Database(mapping.TargetDB).Collection(mapping.Collection)
}

package framework

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Environment variables pointing integration tests at live clusters.
// Tests skip when either is unset, so the suite is safe to run anywhere.
const (
	// SourceURIEnv names the cluster documents are replicated from
	SourceURIEnv = "MONGORELAY_TEST_SOURCE_URI"
	// TargetURIEnv names the cluster documents are replicated to
	TargetURIEnv = "MONGORELAY_TEST_TARGET_URI"
)

// HarnessConfig defines the clusters and scratch space an integration
// harness uses.
type HarnessConfig struct {
	// SourceURI is the connection string for the source cluster
	SourceURI string
	// TargetURI is the connection string for the target cluster
	TargetURI string
	// Database is the scratch database used on both clusters; the
	// harness drops it on cleanup
	Database string
	// Timeout bounds individual harness operations
	Timeout time.Duration
}

// Harness wires a test to two live MongoDB deployments and owns the
// scratch database lifecycle.
type Harness struct {
	// Config is the harness configuration
	Config *HarnessConfig
	// Source is the driver handle for the source cluster
	Source *mongo.Client
	// Target is the driver handle for the target cluster
	Target *mongo.Client

	t *testing.T
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
}

package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is satisfied by anything that can answer a liveness ping,
// typically a wrapper around a mongo client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MongoChecker verifies that a MongoDB deployment answers pings
type MongoChecker struct {
	// Name identifies the deployment being checked (e.g., "source", "target")
	Name string

	// Pinger performs the actual ping
	Pinger Pinger

	// Timeout is the ping timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewMongoChecker creates a new MongoDB health checker
func NewMongoChecker(name string, pinger Pinger) *MongoChecker {
	return &MongoChecker{
		Name:    name,
		Pinger:  pinger,
		Timeout: 5 * time.Second,
	}
}

// Check performs the ping
func (m *MongoChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if err := m.Pinger.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping %s failed: %v", m.Name, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s reachable", m.Name),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (m *MongoChecker) Type() CheckType {
	return CheckTypeMongo
}

// WithTimeout sets the ping timeout
func (m *MongoChecker) WithTimeout(timeout time.Duration) *MongoChecker {
	m.Timeout = timeout
	return m
}

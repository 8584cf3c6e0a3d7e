package framework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults (30s timeout, 1s interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForCount waits for a collection to hold exactly want documents.
// Replication applies changes asynchronously, so counts converge rather
// than jump.
func (w *Waiter) WaitForCount(ctx context.Context, coll *mongo.Collection, want int64) error {
	return w.WaitFor(ctx, func() bool {
		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return false
		}
		return count == want
	}, fmt.Sprintf("collection %s to hold %d documents", coll.Name(), want))
}

// WaitForDoc waits for a document with the given id to appear
func (w *Waiter) WaitForDoc(ctx context.Context, coll *mongo.Collection, id string) error {
	return w.WaitFor(ctx, func() bool {
		return coll.FindOne(ctx, bson.M{"_id": id}).Err() == nil
	}, fmt.Sprintf("document %s to appear in %s", id, coll.Name()))
}

// WaitForGone waits for a document with the given id to disappear
func (w *Waiter) WaitForGone(ctx context.Context, coll *mongo.Collection, id string) error {
	return w.WaitFor(ctx, func() bool {
		err := coll.FindOne(ctx, bson.M{"_id": id}).Err()
		return errors.Is(err, mongo.ErrNoDocuments)
	}, fmt.Sprintf("document %s to disappear from %s", id, coll.Name()))
}

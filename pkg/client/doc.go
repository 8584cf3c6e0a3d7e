/*
Package client manages the database connections for both replication
endpoints and wraps every network operation in a bounded retry policy.

# Architecture

	┌────────────────── CONNECTION MANAGER ──────────────────┐
	│                                                          │
	│  Manager                                                 │
	│  ├── source *mongo.Client ── pool (≤50) ──► SOURCE      │
	│  └── target *mongo.Client ── pool (≤50) ──► TARGET      │
	│                                                          │
	│  Connect() dials and pings both endpoints;              │
	│  nothing else runs until both validate.                 │
	│                                                          │
	│  WithRetry(ctx, op, fn):                                │
	│    attempt 1 ── fail (transient) ── sleep 2s            │
	│    attempt 2 ── fail (transient) ── sleep 4s            │
	│    attempt 3 ── ok                                       │
	│    (linear backoff: delay = RETRY_DELAY · attempt)      │
	└──────────────────────────────────────────────────────────┘

# Error Classification

IsTransient splits failures into two kinds:

Transient (retried):
  - driver-detected timeouts and network errors
  - server codes for elections and shutdowns (91, 189, 10107, 11600, ...)
  - RetryableWriteError / TransientTransactionError / NetworkError labels

Permanent (returned immediately):
  - context cancellation (shutdown is never retried against)
  - authentication and authorization failures (13, 18)
  - duplicate key and other data errors
  - anything unrecognized: unknown failures fail fast rather than loop

# Usage

	manager := client.NewManager(cfg)
	if err := manager.Connect(ctx); err != nil {
		return err
	}
	defer manager.Close(context.Background())

	coll := manager.SourceCollection(mapping)
	err := manager.WithRetry(ctx, "fetch_batch", func(ctx context.Context) error {
		cursor, err := coll.Find(ctx, filter, opts)
		...
		return err
	})

Connection strings never reach the logs raw; they pass through
security.RedactURI first.

# Thread Safety

mongo.Client is goroutine-safe and internally pooled, so a single Manager
serves every worker concurrently. WithRetry carries no state between
calls; each invocation runs its own attempt loop.
*/
package client

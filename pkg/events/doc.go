/*
Package events provides an in-memory event broker for replication lifecycle events.

The events package implements a lightweight event bus for broadcasting
replication progress to interested subscribers. It supports asynchronous event
delivery with bounded buffers, enabling loose coupling between the workers
that produce progress and the components that report it.

# Architecture

The event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                  │          │
	│  │  - In-memory message bus                   │          │
	│  │  - Topic-agnostic (all events broadcast)   │          │
	│  │  - Non-blocking publish                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                │          │
	│  │                                            │          │
	│  │  Publisher → Event Channel (buffer: 100)   │          │
	│  │       ↓                                    │          │
	│  │  Broadcast Loop                            │          │
	│  │       ↓                                    │          │
	│  │  Subscriber Channels (buffer: 50 each)     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                      │          │
	│  │                                            │          │
	│  │  Collection Events:                        │          │
	│  │    - collection.started                    │          │
	│  │    - collection.batch_applied              │          │
	│  │    - collection.indexes_created            │          │
	│  │    - collection.completed                  │          │
	│  │    - collection.failed                     │          │
	│  │                                            │          │
	│  │  Stream Events:                            │          │
	│  │    - stream.resumed                        │          │
	│  │    - stream.fallback                       │          │
	│  │                                            │          │
	│  │  Maintenance Events:                       │          │
	│  │    - reconcile.deletes                     │          │
	│  │    - verify.passed, verify.failed          │          │
	│  └────────────────────────────────────────────┘          │
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                     │          │
	│  │                                            │          │
	│  │  Orchestrator: Aggregates run report       │          │
	│  │  Monitor: Live progress display            │          │
	│  │  Logging: Structured lifecycle records     │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Delivery Semantics

Publishing never blocks a replication worker. The broker channel holds 100
events and each subscriber channel holds 50; when a subscriber stops
draining, its events are dropped rather than stalling the publisher. Events
are progress notifications, not durable state: everything that matters for
correctness lives in the checkpoint store, so losing a notification under
backpressure is acceptable.

Events carry a unique ID (UUID v4, minted on publish when absent) and a
timestamp, so subscribers can order and deduplicate what they observed.

# Usage

Publishing from a worker:

	broker.Publish(&events.Event{
		Type:       events.EventBatchApplied,
		Collection: "orders",
		Mode:       "migrate",
		Count:      int64(len(batch)),
	})

Consuming in the orchestrator:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		switch event.Type {
		case events.EventCollectionCompleted:
			// fold into the run report
		case events.EventCollectionFailed:
			// mark the run degraded
		}
	}

# Integration Points

This package integrates with:

  - pkg/bulk: Publishes started, batch, indexes, completed, failed events
  - pkg/stream: Publishes resume and fallback events
  - pkg/poll: Publishes batch and failure events
  - pkg/reconciler: Publishes delete reconciliation results
  - pkg/verify: Publishes verification outcomes
  - pkg/orchestrator: Subscribes to build the final run report

# Thread Safety

All broker methods are safe for concurrent use. Subscription state is guarded
by a RWMutex; distribution happens on a single broadcast goroutine started by
Start and stopped by Stop.
*/
package events

// Package stream tails MongoDB change streams and replays every event
// onto the target cluster in source order. It is the low-latency capture
// path: once the bulk load finishes, one stream worker per collection
// keeps the target converged within seconds of the source.
//
// # Architecture
//
// Each worker runs an open/tail/recover loop around a single server-side
// change stream cursor:
//
//	          ┌────────────────────────────────────────────────┐
//	          │                 Worker.Run                     │
//	          │                                                │
//	 token ──▶│  open ──▶ tail ──▶ apply ──▶ token save        │
//	  store   │    ▲        │                 (every 100)      │
//	          │    │        │ error                            │
//	          │    │        ▼                                  │
//	          │    └── sleep 5s ◀── transient / cursor killed  │
//	          │    └── drop token ◀── history lost (286)       │
//	          │                                                │
//	          │  unsupported (40573) ──▶ ErrStreamsUnsupported │
//	          └────────────────────────────────────────────────┘
//
// Streams open with fullDocument=updateLookup so updates arrive with the
// complete post-image, which the worker writes as an upsert replace keyed
// on _id. Deletes replay as a DeleteOne on the document key. Because both
// writes are idempotent, replaying a stretch of already-applied events
// after a restart converges to the same target state.
//
// # Resume Tokens
//
// The worker persists the stream's resume token through the checkpoint
// store every 100 applied events and once more on shutdown. On startup
// the saved token is presented via resumeAfter, so capture continues
// exactly where the previous run stopped. A token is only saved after the
// event it covers has been applied; an apply failure tears the session
// down with the token still pointing before the failed event, and the
// reconnect replays it.
//
// When the server reports the token as unusable (ChangeStreamHistoryLost,
// code 286, or an invalid token), the worker drops it and reopens from
// the present. Events in the gap are not recoverable from the stream;
// the log notes that a verify or polling pass is needed to close it.
//
// # Failure Handling
//
// Transient errors (elections, network resets, killed cursors) close the
// session, wait five seconds, and reopen with the last saved token.
// A deployment that cannot serve change streams at all, such as a
// standalone server, surfaces as ErrStreamsUnsupported and the
// orchestrator falls back to the polling worker. Probe exists so that
// decision can be made once, before workers start.
//
// Per-event failures that survive retries and are not transient are
// logged, counted in the documents_failed_total metric, and skipped.
// Tearing the session down for a poison event would replay it forever.
//
// # Usage
//
//	worker := stream.NewWorker(clients, store, cfg, broker)
//
//	if err := worker.Probe(ctx, mapping); err != nil {
//		// errors.Is(err, stream.ErrStreamsUnsupported) → poll instead
//	}
//
//	err := worker.Run(ctx, mapping) // blocks until ctx is canceled
//
// # See Also
//
//   - pkg/poll: the fallback capture path for stream-less deployments
//   - pkg/checkpoint: resume token persistence
//   - pkg/client: retry policy and transient error classification
package stream

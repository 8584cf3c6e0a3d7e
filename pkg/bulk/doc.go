/*
Package bulk implements the resumable full copy of a collection from
source to target.

The loader drains a source collection in ascending _id order, applying each
batch to the target as an unordered bulk of upserts keyed on _id, and
persists a checkpoint after every batch. Restarting after a crash or
shutdown continues from the last checkpointed id instead of re-reading the
whole collection; re-applied documents are harmless because every write is
an idempotent replace.

# Copy Pipeline

	┌────────────┐   Find(_id > last)   ┌────────────┐
	│   Source   │ ───── sorted ──────▶ │   Batch    │
	│ collection │      ascending       │ (≤ BATCH)  │
	└────────────┘                      └─────┬──────┘
	                                          │ unordered BulkWrite
	                                          ▼ ReplaceOne upsert
	┌────────────┐                      ┌────────────┐
	│ Checkpoint │ ◀── save last_id ─── │   Target   │
	│   store    │      and count       │ collection │
	└────────────┘                      └─────┬──────┘
	                                          │ ≤ 10 strided docs
	                                          ▼
	                                    hash comparison
	                                    (warn, never fatal)

Index replication runs once before the first batch: every non-_id_ index
spec from the source (key pattern, unique, sparse, TTL, partial filter) is
created on the target. Per-index failures are logged and skipped so an
exotic index never blocks the data copy.

# Failure Behavior

Fetches and writes retry transient errors through the connection manager's
policy. A batch that still fails afterwards aborts this collection only;
the error travels to the orchestrator while sibling collections keep
copying. Cancellation is observed between batches: the in-flight batch
completes, its checkpoint is saved, and Copy returns the context error.

# Usage

	loader := bulk.NewLoader(clients, store, cfg, broker)
	result, err := loader.Copy(ctx, mapping)
	if err != nil {
		log.Error().Err(err).Str("collection", result.Collection).Msg("copy failed")
	}

Progress surfaces three ways: structured logs per batch, lifecycle events
on the broker (started, batch applied, indexes created, completed, failed),
and the documents-synced and batch-duration metrics.
*/
package bulk

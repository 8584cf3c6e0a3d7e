/*
Package poll implements change capture by repeated watermark scans of the
source collection.

Polling is the universal fallback: it needs nothing beyond find and count,
so it works against standalone servers and restricted hosting tiers where
change streams are unavailable. Each cycle scans every document past the
last watermark, compares it against the target copy, and upserts the ones
the source won. After a bulk copy the same cycle doubles as the drift
pass that catches writes which landed mid-copy.

# Poll Cycle

	     ┌─────────────────────────────────────────────────────┐
	     │ target count > source count? ──▶ reconcile deletes  │
	     └──────────────────────┬──────────────────────────────┘
	                            ▼
	     ┌─────────────────────────────────────────────────────┐
	     │ fetch batch: updatedAt > watermark (sorted asc)     │
	     │              or _id > last id when the field is     │
	     │              absent; empty filter on force-refresh  │
	     └──────────────────────┬──────────────────────────────┘
	              empty ◀───────┤ docs
	                │           ▼
	                │  ┌──────────────────────────────────────┐
	                │  │ per document:                        │
	                │  │   missing on target  → stage upsert  │
	                │  │   hashes equal       → skip          │
	                │  │   differ             → last-writer-  │
	                │  │                        wins on       │
	                │  │                        updatedAt     │
	                │  └──────────────┬───────────────────────┘
	                │                 ▼
	                │  unordered BulkWrite, verify ≤ 10 docs,
	                │  advance checkpoint, next batch
	                ▼
	     reconcile deletes, sleep POLLING_INTERVAL

# Watermark Semantics

The watermark is the highest updatedAt (or _id) already applied. One
sampled document decides both which field orders the scan and which BSON
representation the query value must use: a collection storing string
timestamps is queried with strings, one storing datetimes with datetimes,
because range comparisons never cross BSON types. The checkpoint persists
the watermark as a canonical string and merges update counters across
cycles.

# Conflict Policy

Content differences resolve by last-writer-wins: when both copies carry
updatedAt, the source must be strictly newer to overwrite the target.
Stamps that fail to parse as timestamps compare lexicographically, which
preserves chronological order for RFC 3339 strings. A missing stamp on
either side always replaces, as does force-refresh.

# Failure Behavior

Fetches, counts and writes retry transient errors through the connection
manager's policy. A bulk write that still fails afterwards appends one
NDJSON record per staged document to logs/<collection>_failed_docs.log
and fails the cycle; RunLoop logs the failure, sleeps briefly and starts
the next cycle, so a transient outage never kills the worker. Only
context cancellation ends the loop.

# Force Refresh

CDC_FORCE_REFRESH widens every knob at once: the checkpoint is ignored
(full rescan in id order), the last-writer-wins gate is bypassed, delete
reconciliation escalates its sample, and a targeted pass re-reads up to
500 existing target documents to replace any whose content drifted while
their updatedAt never advanced.

# Usage

	worker := poll.NewWorker(clients, store, cfg, broker, rec)

	// Continuous capture, one goroutine per collection.
	go worker.RunLoop(ctx, mapping)

	// Single drift pass, used by the migrate and update modes.
	result, err := worker.RunCycle(ctx, mapping)

CDC_DEBUG logs each cycle's query and counts; per-document comparison
decisions are emitted at debug level.
*/
package poll

/*
Package reconciler detects and removes target documents whose source
counterpart was deleted.

Polling-based change capture sees inserts and updates through watermark
queries but never sees deletions: a deleted source document simply stops
appearing. The reconciler closes that gap probabilistically. Each pass
samples documents from the target, probes the source for each sampled id,
and bulk-deletes the ones the source no longer has.

# Sampling Pass

	┌─────────────┐   find().limit(S)    ┌─────────────┐
	│   Target    │ ── project _id ────▶ │  Sampled    │
	│ collection  │                      │  ids (≤ S)  │
	└─────────────┘                      └──────┬──────┘
	                                            │ FindOne per id
	                                            ▼
	┌─────────────┐                      ┌─────────────┐
	│   Source    │ ◀─── probe ───────── │   Probe     │
	│ collection  │                      │   loop      │
	└─────────────┘                      └──────┬──────┘
	                      ErrNoDocuments │ stage DeleteOne
	                                     ▼
	                              unordered BulkWrite
	                              against the target

The sample size starts at 100 documents. When the target count exceeds the
source count the pass escalates to 1000, because a count surplus is direct
evidence of missed deletions; forced passes escalate unconditionally.

# Safety Properties

A failed source probe never stages a delete. Transient errors prove
nothing about the document, and deleting on uncertainty would destroy data
the source still owns. Deletes are idempotent: re-running a pass after a
crash re-issues at most the same removals, and a concurrent writer
re-inserting a sampled id wins the race harmlessly.

Reconciliation is probabilistic, not exhaustive. A small sample holds the
per-cycle cost constant on large collections while repeated cycles
converge on full cleanup; the escalation bound keeps convergence time
acceptable when drift is known to exist.

Removed counts are folded into the polling checkpoint's deletion total
through the store's merge save, published on the event bus, and exported
as the documents-deleted metric.

# Usage

	rec := reconciler.NewReconciler(clients, store, broker)
	result, err := rec.Reconcile(ctx, mapping, reconciler.Opts{})
	if err != nil {
		return err
	}
	log.Info().
		Int64("deleted", result.Deleted).
		Int("sampled", result.Sampled).
		Msg("reconciliation pass complete")
*/
package reconciler

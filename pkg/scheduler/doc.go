/*
Package scheduler provides the bounded worker pool that fans replication
work out across collections.

Every multi-collection phase of a run, the bulk copy, the verifier, and
the per-collection CDC workers, dispatches through the same pool so one
knob (CONCURRENCY) bounds cluster load everywhere.

# Architecture

The pool dispatches one job per collection mapping and blocks until the
last job returns:

	mappings ──▶ ┌──────────────────────────────┐
	             │          Pool.Run            │
	             │                              │
	             │  ┌──────┐ ┌──────┐ ┌──────┐  │
	             │  │ job  │ │ job  │ │ job  │  │  at most `size`
	             │  └──────┘ └──────┘ └──────┘  │  jobs in flight
	             │      ...queued mappings...   │
	             └──────────────┬───────────────┘
	                            │
	                            ▼
	              first failure + failure count

Collections are independent: a failing job is logged and counted but
never cancels its siblings, so a single bad collection cannot abort the
rest of a run. Cancellation stops further dispatch; running jobs observe
ctx themselves and drain.

# Usage

	pool := scheduler.NewPool(cfg.Concurrency)

	err := pool.Run(ctx, mappings, func(ctx context.Context, m types.CollectionMapping) error {
		_, err := loader.Copy(ctx, m)
		return err
	})

The pool is stateless between runs and safe to reuse across phases.

# See Also

  - pkg/orchestrator: composes pools into the run modes
  - pkg/bulk, pkg/verify: the jobs the pool typically runs
*/
package scheduler

// Package orchestrator assembles the replication components into complete
// runs. It owns the lifecycle that every mode shares: connect, preflight,
// event plumbing, metrics, and the shutdown order, so the commands stay
// thin and every mode behaves the same way around the edges.
//
// # Modes
//
// Each mode is one pipeline over the same component set:
//
//	migrate   bulk copy ──▶ drift catch-up ──▶ verify ──▶ report
//	cdc       probe streams ──▶ stream per collection
//	                       └──▶ polling loops (fallback)
//	update    one polling cycle per collection
//	verify    verification only
//	status    checkpoint snapshot, no connections
//
// Migrate runs its phases through a bounded worker pool and keeps going
// when individual collections fail: a half-finished run still catches
// drift on the collections that copied, still verifies, and still writes
// the report, with the failures carried in the exit error. Only context
// cancellation stops the pipeline between phases.
//
// CDC probes change stream support once, against the first mapping.
// A deployment with no stream support at all polls instead; a mixed
// deployment starts stream workers and lets any collection that cannot
// be streamed degrade to its own polling loop.
//
// # Run Lifecycle
//
// Run connects both clusters, then runs preflight health checks (source
// ping, target ping, state directory) that seed the readiness registry
// before any checkpoint is touched. The event broker, the checkpoint
// metrics collector, and, when configured, the HTTP observability
// listener all start before the mode body and stop after it. Broker
// events are also folded into a run tally that becomes the single
// summary line emitted when Run returns.
//
// Cancellation of a continuous mode is clean shutdown: workers persist
// their checkpoints, Run returns nil, and the process exits zero.
// Cancellation of a migrate run is an interruption and exits nonzero,
// because the target is not yet complete.
//
// # Usage
//
//	o, err := orchestrator.New(cfg, mappings)
//	if err != nil {
//		return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	return o.Run(ctx, types.ModeMigrate)
//
// # See Also
//
//   - pkg/bulk, pkg/stream, pkg/poll: the workers each mode drives
//   - pkg/scheduler: the bounded pool used by migrate and update
//   - pkg/monitor: the files-only snapshot behind Status
package orchestrator

// Package monitor assembles replication progress views from checkpoint
// files. It never opens a database connection: everything the status
// tooling shows comes from the progress directory, so watching a
// migration adds zero load to either cluster.
//
// # Data Flow
//
//	progress/*.json ──▶ Snapshot ──▶ []CollectionStatus
//	                       │
//	                       ├──▶ UpdateHistory ──▶ checkpoint_history.json
//	                       │         (ring of ≤10 observations)
//	                       │
//	                       └──▶ ETA ──▶ docs/sec, remaining, drain time
//
// Snapshot merges the three checkpoint kinds per collection: bulk copy
// position, polling watermark and counter totals, and resume token
// presence with its age. UpdateHistory records each new bulk observation
// into a per-collection ring; ETA reads the ring's endpoints to derive a
// copy rate, and projects a finish time when the caller knows the source
// total.
//
// The `mongorelay status` command renders one snapshot as a table; the
// monitor daemon loops Snapshot/UpdateHistory on an interval, serves the
// snapshot over HTTP, and mirrors it to monitor_current.json for
// file-based dashboards.
//
// # See Also
//
//   - pkg/checkpoint: the files this package reads
//   - pkg/api: the HTTP surface serving these snapshots
package monitor

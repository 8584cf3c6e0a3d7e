/*
Package types defines the core data structures used throughout MongoRelay.

This package contains all fundamental types that represent the replication
domain model: collection mappings, per-workload checkpoints, worker stats,
verification records and run reports. These types are used by all other
packages for checkpointing, orchestration, and reporting.

# Architecture

The types package is the foundation of the replication data model. It defines:

  - Replication units (CollectionMapping)
  - Durable progress markers (BulkCheckpoint, PollingCheckpoint, StreamCheckpoint)
  - Observability state (CheckpointHistory)
  - In-memory worker counters (Stats)
  - Outcome records (CollectionResult, VerificationResult, Report)
  - Mode and lifecycle enums (Mode, WorkerState, ResultStatus)

All types are designed to be:
  - Serializable (JSON for the on-disk contracts, YAML for mappings input)
  - Immutable where possible (checkpoints are replaced whole, never mutated)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums)

# File Contracts

Several types ARE the on-disk format. External monitors read these files
without any coordination with the running workers; the atomic-replace
guarantee of pkg/checkpoint is the only synchronization. Their JSON field
names therefore must not change:

	progress/<collection>.json              BulkCheckpoint
	progress/<collection>_cdc.json          PollingCheckpoint
	progress/<collection>_resume_token.json StreamCheckpoint
	progress/checkpoint_history.json        CheckpointHistory
	verification/verification_<stamp>.json  VerificationReport
	verification/migration_report_<stamp>.json Report

Example BulkCheckpoint file:

	{
	  "last_id": "671f2a9e8c4b5d3e2f1a0b9c",
	  "count": 125000,
	  "timestamp": "2024-10-13T10:30:00Z"
	}

Example PollingCheckpoint file:

	{
	  "last_updated_at": "2024-10-13T10:29:58Z",
	  "last_operation_time": "",
	  "updates": 4821,
	  "deletions": 17,
	  "timestamp": "2024-10-13T10:30:00Z"
	}

# State Machine

CDC workers follow a state machine:

	Starting → Running → Stopped
	    ↓        ↕
	  Failed  Reconnecting

Valid transitions:
  - Starting → Running (subscription opened, token presented)
  - Starting → Failed (unsupported deployment, authorization error)
  - Running → Reconnecting (transient error; reopen with last token)
  - Reconnecting → Running (stream reopened)
  - Running → Stopped (shutdown signal; token persisted)
  - Any → Failed (unrecoverable error; token persisted if present)

# Usage

Loading a mapping and tracking work:

	mapping := types.CollectionMapping{
		SourceDB:   "app",
		TargetDB:   "app",
		Collection: "users",
	}

	stats := &types.Stats{}
	stats.Add(1000, 0, 0, 0) // one bulk batch applied

	snap := stats.Snapshot()
	fmt.Printf("synced=%d", snap.Synced)

Building a result for the report:

	result := types.CollectionResult{
		Collection: mapping.Collection,
		SourceDB:   mapping.SourceDB,
		TargetDB:   mapping.TargetDB,
		Status:     types.ResultCompleted,
		Synced:     snap.Synced,
	}

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type Mode string
	  const (
	      ModeMigrate Mode = "migrate"
	      ModeCDC     Mode = "cdc"
	  )

Counter Merge Pattern:

	PollingCheckpoint.Updates/Deletions are cumulative totals. Workers pass
	increments; pkg/checkpoint merges them with the persisted values on save,
	so a restart never resets the totals.

Timestamps:

	Checkpoint timestamps are RFC 3339 strings because they are file
	contracts read by other processes and humans. Report types use
	time.Time and rely on Go's standard RFC 3339 JSON encoding.

# Integration Points

This package integrates with:

  - pkg/checkpoint: persists checkpoint types atomically
  - pkg/bulk: advances BulkCheckpoint, fills CollectionResult
  - pkg/poll: advances PollingCheckpoint, updates Stats
  - pkg/stream: persists StreamCheckpoint, updates Stats
  - pkg/verify: produces VerificationResult/VerificationReport
  - pkg/orchestrator: aggregates CollectionResult into Report
  - pkg/monitor: reads all checkpoint types for status and ETA

# Thread Safety

Stats is the one concurrency-aware type; its counters are mutex-guarded and
read via Snapshot. Every other type is plain data: written by exactly one
worker, or constructed once and never mutated. The storage layer
(pkg/checkpoint) handles durable synchronization via atomic file replace.

# See Also

  - pkg/checkpoint for the persistence layer
  - pkg/orchestrator for how results roll up into reports
  - pkg/monitor for the external consumption of the file contracts
*/
package types

/*
Package checkpoint persists replication progress so every workload can
resume after a crash or restart.

Each collection has up to three independent progress markers, one per
workload kind, plus a shared history ring consumed by the monitor:

	┌───────────────── CHECKPOINT STORE ──────────────────┐
	│                                                       │
	│  progress/                                            │
	│  ├── users.json                (bulk: last_id, count) │
	│  ├── users_cdc.json            (polling: watermarks,  │
	│  │                              updates, deletions)   │
	│  ├── users_resume_token.json   (stream: opaque token) │
	│  └── checkpoint_history.json   (ring, ≤10 per coll)   │
	│                                                       │
	│  save = write .tmp sibling → fsync → rename           │
	│  load = missing or corrupt → nil (start from zero)    │
	└───────────────────────────────────────────────────────┘

# Atomicity

Saves never leave a torn file behind: the new content is written to a
sibling .tmp path, synced, and renamed over the final path. Rename within
one directory is atomic on POSIX filesystems, so any reader (a resuming
worker or the external monitor) sees either the old checkpoint or the new
one. No locking is needed because at most one writer exists per file.

# Corruption Policy

An unparseable checkpoint is logged and treated as absent. The worker then
restarts that workload from zero, which is safe: every apply is an
idempotent upsert or delete, so reprocessing converges to the same target
state.

# Counter Merge

Polling checkpoints carry cumulative update/deletion totals. Workers pass
per-cycle increments; SavePolling folds them into the persisted totals
before the write. Watermark fields replace the stored values only when the
caller provides them, so a deletes-only cycle does not wipe the watermark.

# Backends

FileStore is the default and keeps the layout above, which external
monitor processes read while replication runs. BoltStore keeps the same
markers in a single checkpoints.db with per-transaction atomicity; the
file is exclusively locked while open, so it suits deployments where one
process owns the state and nothing tails it live. Open selects by the
STATE_BACKEND configuration; both implement Store, and every consumer
goes through the interface.

# Usage

	store, err := checkpoint.Open(cfg.StateBackend, cfg.ProgressDir())
	if err != nil {
		return err
	}

	cp, err := store.LoadBulk("users")
	if err != nil {
		return err
	}
	if cp != nil {
		// resume strictly after cp.LastID
	}

	err = store.SaveBulk("users", &types.BulkCheckpoint{
		LastID: codec.FormatID(lastID),
		Count:  copied,
	})

# Integration Points

  - pkg/bulk: bulk checkpoints per batch
  - pkg/poll: polling checkpoints per cycle
  - pkg/stream: resume tokens every 100 events and at shutdown
  - pkg/reconciler: deletion totals via the polling merge-save
  - pkg/monitor + cmd/mongorelay-monitor: read-only consumers of all files
*/
package checkpoint

package checkpoint

import (
	"fmt"

	"github.com/stratumhq/mongorelay/pkg/types"
)

// Checkpoint storage backends.
const (
	// BackendFile keeps one JSON file per collection per workload kind.
	// External monitors can read the files while replication runs.
	BackendFile = "file"

	// BackendBolt keeps everything in a single BoltDB file. The file is
	// exclusively locked while a process holds it open.
	BackendBolt = "bolt"
)

// Store defines the interface for durable replication progress state.
// Implementations must guarantee that a crash during save never leaves a
// partially written entry: readers observe either the previous state or
// the new state, nothing in between.
type Store interface {
	// Bulk copy progress
	LoadBulk(collection string) (*types.BulkCheckpoint, error)
	SaveBulk(collection string, cp *types.BulkCheckpoint) error

	// Polling CDC progress. SavePolling merges the Updates and Deletions
	// fields as increments into the previously persisted totals, so
	// counters are cumulative across cycles and restarts.
	LoadPolling(collection string) (*types.PollingCheckpoint, error)
	SavePolling(collection string, cp *types.PollingCheckpoint) error

	// Change stream resume tokens, replaced whole.
	LoadResumeToken(collection string) (*types.StreamCheckpoint, error)
	SaveResumeToken(collection string, cp *types.StreamCheckpoint) error
	ClearResumeToken(collection string) error

	// Checkpoint history ring for ETA estimation. SaveHistory trims each
	// collection's entries to the newest types.HistoryLimit.
	LoadHistory() (types.CheckpointHistory, error)
	SaveHistory(history types.CheckpointHistory) error
}

// Open returns the store for the configured backend, rooted at dir.
// An empty backend selects BackendFile. Stores that hold resources
// implement io.Closer; callers should type-assert at shutdown.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendBolt:
		return NewBoltStore(dir)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (valid: %s, %s)", backend, BackendFile, BackendBolt)
	}
}

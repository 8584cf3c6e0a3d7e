package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/types"
)

const historyFile = "checkpoint_history.json"

// FileStore persists checkpoints as JSON files under a progress directory.
// One file per collection per workload kind:
//
//	<collection>.json               bulk copy progress
//	<collection>_cdc.json           polling CDC progress
//	<collection>_resume_token.json  change stream resume token
//	checkpoint_history.json         history ring for all collections
//
// Saves write a sibling .tmp file, fsync it, and rename it over the final
// path, so readers (including external monitor processes) never observe a
// partial write. Corrupt files are treated as absent: replication restarts
// from zero, which is safe because every apply is an idempotent upsert.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates the progress directory if needed and returns a
// store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		logger: log.WithComponent("checkpoint"),
	}, nil
}

// Dir returns the progress directory this store is rooted at.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) bulkPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *FileStore) pollingPath(collection string) string {
	return filepath.Join(s.dir, collection+"_cdc.json")
}

func (s *FileStore) tokenPath(collection string) string {
	return filepath.Join(s.dir, collection+"_resume_token.json")
}

// LoadBulk returns the bulk checkpoint for collection, or nil when no
// valid checkpoint exists.
func (s *FileStore) LoadBulk(collection string) (*types.BulkCheckpoint, error) {
	var cp types.BulkCheckpoint
	ok, err := s.load(s.bulkPath(collection), &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// SaveBulk atomically replaces the bulk checkpoint for collection. The
// Timestamp field is stamped at save time.
func (s *FileStore) SaveBulk(collection string, cp *types.BulkCheckpoint) error {
	cp.Timestamp = now()
	if err := s.save(s.bulkPath(collection), cp); err != nil {
		return fmt.Errorf("failed to save bulk checkpoint for %s: %w", collection, err)
	}
	return nil
}

// LoadPolling returns the polling checkpoint for collection, or nil when
// no valid checkpoint exists.
func (s *FileStore) LoadPolling(collection string) (*types.PollingCheckpoint, error) {
	var cp types.PollingCheckpoint
	ok, err := s.load(s.pollingPath(collection), &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// SavePolling atomically replaces the polling checkpoint for collection.
// Updates and Deletions are treated as increments and merged into the
// previously persisted totals; watermarks replace the stored values only
// when non-empty. The Timestamp field is stamped at save time.
func (s *FileStore) SavePolling(collection string, cp *types.PollingCheckpoint) error {
	merged := *cp
	if prior, err := s.LoadPolling(collection); err == nil && prior != nil {
		merged.Updates += prior.Updates
		merged.Deletions += prior.Deletions
		if merged.LastUpdatedAt == "" {
			merged.LastUpdatedAt = prior.LastUpdatedAt
		}
		if merged.LastOperationTime == "" {
			merged.LastOperationTime = prior.LastOperationTime
		}
	}
	merged.Timestamp = now()

	if err := s.save(s.pollingPath(collection), &merged); err != nil {
		return fmt.Errorf("failed to save polling checkpoint for %s: %w", collection, err)
	}
	return nil
}

// LoadResumeToken returns the stream checkpoint for collection, or nil
// when no valid token exists.
func (s *FileStore) LoadResumeToken(collection string) (*types.StreamCheckpoint, error) {
	var cp types.StreamCheckpoint
	ok, err := s.load(s.tokenPath(collection), &cp)
	if err != nil || !ok {
		return nil, err
	}
	if len(cp.Token) == 0 {
		return nil, nil
	}
	return &cp, nil
}

// SaveResumeToken atomically replaces the stream checkpoint for
// collection. The Timestamp field is stamped at save time.
func (s *FileStore) SaveResumeToken(collection string, cp *types.StreamCheckpoint) error {
	cp.Timestamp = now()
	if err := s.save(s.tokenPath(collection), cp); err != nil {
		return fmt.Errorf("failed to save resume token for %s: %w", collection, err)
	}
	return nil
}

// ClearResumeToken removes a saved token, typically after the server
// reports it no longer falls inside the retained change log.
func (s *FileStore) ClearResumeToken(collection string) error {
	err := os.Remove(s.tokenPath(collection))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear resume token for %s: %w", collection, err)
	}
	return nil
}

// LoadHistory returns the checkpoint history ring, empty when the file is
// missing or corrupt.
func (s *FileStore) LoadHistory() (types.CheckpointHistory, error) {
	history := types.CheckpointHistory{}
	if _, err := s.load(filepath.Join(s.dir, historyFile), &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = types.CheckpointHistory{}
	}
	return history, nil
}

// SaveHistory atomically replaces the history ring, trimming every
// collection to the newest types.HistoryLimit entries.
func (s *FileStore) SaveHistory(history types.CheckpointHistory) error {
	for collection, entries := range history {
		if len(entries) > types.HistoryLimit {
			history[collection] = entries[len(entries)-types.HistoryLimit:]
		}
	}
	if err := s.save(filepath.Join(s.dir, historyFile), history); err != nil {
		return fmt.Errorf("failed to save checkpoint history: %w", err)
	}
	return nil
}

// load reads path into v. Returns false when the file is missing or
// unparseable; corruption is logged and treated as absent so workers can
// restart from zero.
func (s *FileStore) load(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().
			Str("path", path).
			Err(err).
			Msg("Checkpoint file corrupt, treating as absent")
		return false, nil
	}
	return true, nil
}

// save writes v to a sibling temp file, syncs, and renames it over path.
// The temp file lives in the same directory so the rename is atomic.
func (s *FileStore) save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

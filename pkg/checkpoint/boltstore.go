package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/types"
)

const boltFile = "checkpoints.db"

var (
	// Bucket names
	bucketBulk    = []byte("bulk")
	bucketPolling = []byte("polling")
	bucketTokens  = []byte("tokens")
	bucketHistory = []byte("history")
)

// BoltStore persists checkpoints in a single BoltDB file under the
// progress directory. Compared to FileStore it trades the shared JSON
// layout for one transactional file: saves are atomic by transaction
// instead of by rename, and the polling counter merge happens inside a
// single update. The file is exclusively locked while open, so external
// monitors can read it only between runs; deployments that watch a live
// migration should keep the default file backend.
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewBoltStore opens checkpoints.db in dir, creating both as needed.
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, boltFile)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBulk, bucketPolling, bucketTokens, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:     db,
		logger: log.WithComponent("checkpoint"),
	}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LoadBulk returns the bulk checkpoint for collection, or nil when no
// valid checkpoint exists.
func (s *BoltStore) LoadBulk(collection string) (*types.BulkCheckpoint, error) {
	var cp types.BulkCheckpoint
	ok, err := s.get(bucketBulk, collection, &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// SaveBulk replaces the bulk checkpoint for collection. The Timestamp
// field is stamped at save time.
func (s *BoltStore) SaveBulk(collection string, cp *types.BulkCheckpoint) error {
	cp.Timestamp = now()
	if err := s.put(bucketBulk, collection, cp); err != nil {
		return fmt.Errorf("failed to save bulk checkpoint for %s: %w", collection, err)
	}
	return nil
}

// LoadPolling returns the polling checkpoint for collection, or nil when
// no valid checkpoint exists.
func (s *BoltStore) LoadPolling(collection string) (*types.PollingCheckpoint, error) {
	var cp types.PollingCheckpoint
	ok, err := s.get(bucketPolling, collection, &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// SavePolling merges cp into the stored checkpoint within a single
// transaction: Updates and Deletions are increments, watermarks replace
// stored values only when non-empty. The Timestamp field is stamped at
// save time.
func (s *BoltStore) SavePolling(collection string, cp *types.PollingCheckpoint) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolling)

		merged := *cp
		if data := b.Get([]byte(collection)); data != nil {
			var prior types.PollingCheckpoint
			if err := json.Unmarshal(data, &prior); err == nil {
				merged.Updates += prior.Updates
				merged.Deletions += prior.Deletions
				if merged.LastUpdatedAt == "" {
					merged.LastUpdatedAt = prior.LastUpdatedAt
				}
				if merged.LastOperationTime == "" {
					merged.LastOperationTime = prior.LastOperationTime
				}
			}
		}
		merged.Timestamp = now()

		data, err := json.Marshal(&merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(collection), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save polling checkpoint for %s: %w", collection, err)
	}
	return nil
}

// LoadResumeToken returns the stream checkpoint for collection, or nil
// when no valid token exists.
func (s *BoltStore) LoadResumeToken(collection string) (*types.StreamCheckpoint, error) {
	var cp types.StreamCheckpoint
	ok, err := s.get(bucketTokens, collection, &cp)
	if err != nil || !ok {
		return nil, err
	}
	if len(cp.Token) == 0 {
		return nil, nil
	}
	return &cp, nil
}

// SaveResumeToken replaces the stream checkpoint for collection. The
// Timestamp field is stamped at save time.
func (s *BoltStore) SaveResumeToken(collection string, cp *types.StreamCheckpoint) error {
	cp.Timestamp = now()
	if err := s.put(bucketTokens, collection, cp); err != nil {
		return fmt.Errorf("failed to save resume token for %s: %w", collection, err)
	}
	return nil
}

// ClearResumeToken removes a saved token. Clearing an absent token is
// not an error.
func (s *BoltStore) ClearResumeToken(collection string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(collection))
	})
	if err != nil {
		return fmt.Errorf("failed to clear resume token for %s: %w", collection, err)
	}
	return nil
}

// LoadHistory assembles the history ring from one entry per collection.
func (s *BoltStore) LoadHistory() (types.CheckpointHistory, error) {
	history := types.CheckpointHistory{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var entries []types.HistoryEntry
			if err := json.Unmarshal(v, &entries); err != nil {
				s.logger.Warn().
					Str("collection", string(k)).
					Err(err).
					Msg("History entry corrupt, skipping")
				return nil
			}
			history[string(k)] = entries
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint history: %w", err)
	}
	return history, nil
}

// SaveHistory replaces the stored ring with history, trimming every
// collection to the newest types.HistoryLimit entries. Collections absent
// from history are removed.
func (s *BoltStore) SaveHistory(history types.CheckpointHistory) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)

		var stale [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			if _, ok := history[string(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		for collection, entries := range history {
			if len(entries) > types.HistoryLimit {
				entries = entries[len(entries)-types.HistoryLimit:]
				history[collection] = entries
			}
			data, err := json.Marshal(entries)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(collection), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint history: %w", err)
	}
	return nil
}

// get reads bucket[key] into v. Returns false when the key is missing;
// corrupt values are logged and treated as absent so workers can restart
// from zero.
func (s *BoltStore) get(bucket []byte, key string, v interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			s.logger.Warn().
				Str("bucket", string(bucket)).
				Str("key", key).
				Err(err).
				Msg("Checkpoint entry corrupt, treating as absent")
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	return found, nil
}

// put marshals v and upserts bucket[key].
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

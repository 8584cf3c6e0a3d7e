package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// currentFile is the fixed-name snapshot external dashboards tail.
const currentFile = "monitor_current.json"

// CollectionStatus is one collection's replication state assembled from
// checkpoint files alone. Reading it never touches either cluster, so
// status tooling stays safe to run against a loaded migration.
type CollectionStatus struct {
	Collection     string    `json:"collection"`
	SourceDB       string    `json:"source_db"`
	TargetDB       string    `json:"target_db"`
	Copied         int64     `json:"copied"`
	LastID         string    `json:"last_id,omitempty"`
	CopiedAt       string    `json:"copied_at,omitempty"`
	Updates        int64     `json:"updates"`
	Deletions      int64     `json:"deletions"`
	Watermark      string    `json:"watermark,omitempty"`
	HasResumeToken bool      `json:"resume_token"`
	TokenAge       float64   `json:"resume_token_age_seconds,omitempty"`
	LastSyncedAt   string    `json:"last_synced_at,omitempty"`
	AgeSeconds     float64   `json:"age_seconds,omitempty"`
	Estimate       *Estimate `json:"eta,omitempty"`
}

// Estimate is a copy-rate projection derived from the checkpoint history
// ring. Remaining and ETA are present only when the caller supplied a
// source total.
type Estimate struct {
	DocsPerSecond float64 `json:"docs_per_sec"`
	RemainingDocs int64   `json:"remaining_docs,omitempty"`
	ETASeconds    float64 `json:"eta_seconds,omitempty"`
	ETA           string  `json:"eta,omitempty"`
}

// Snapshot reads every checkpoint kind for the mappings into a status
// slice, one entry per mapping in input order. Unreadable checkpoint
// files are logged and leave their fields zero.
func Snapshot(store checkpoint.Store, mappings []types.CollectionMapping) []CollectionStatus {
	logger := log.WithComponent("monitor")

	history, err := store.LoadHistory()
	if err != nil {
		logger.Warn().Err(err).Msg("Could not load checkpoint history")
		history = types.CheckpointHistory{}
	}

	statuses := make([]CollectionStatus, 0, len(mappings))
	for _, mapping := range mappings {
		status := CollectionStatus{
			Collection: mapping.Collection,
			SourceDB:   mapping.SourceDB,
			TargetDB:   mapping.TargetDB,
		}

		var newest time.Time

		if cp, err := store.LoadBulk(mapping.Collection); err != nil {
			logger.Warn().Err(err).Str("collection", mapping.Collection).Msg("Could not read bulk checkpoint")
		} else if cp != nil {
			status.Copied = cp.Count
			status.LastID = cp.LastID
			status.CopiedAt = cp.Timestamp
			newest = laterStamp(newest, cp.Timestamp)
		}

		if cp, err := store.LoadPolling(mapping.Collection); err != nil {
			logger.Warn().Err(err).Str("collection", mapping.Collection).Msg("Could not read polling checkpoint")
		} else if cp != nil {
			status.Updates = cp.Updates
			status.Deletions = cp.Deletions
			status.Watermark = cp.LastUpdatedAt
			if status.Watermark == "" {
				status.Watermark = cp.LastOperationTime
			}
			newest = laterStamp(newest, cp.Timestamp)
		}

		if cp, err := store.LoadResumeToken(mapping.Collection); err != nil {
			logger.Warn().Err(err).Str("collection", mapping.Collection).Msg("Could not read resume token")
		} else if cp != nil {
			status.HasResumeToken = true
			if t, err := codec.ParseTime(cp.Timestamp); err == nil {
				status.TokenAge = time.Since(t).Seconds()
			}
			newest = laterStamp(newest, cp.Timestamp)
		}

		if !newest.IsZero() {
			status.LastSyncedAt = codec.FormatTime(newest)
			status.AgeSeconds = time.Since(newest).Seconds()
		}

		status.Estimate = ETA(history[mapping.Collection], 0)
		statuses = append(statuses, status)
	}
	return statuses
}

// UpdateHistory appends each collection's current bulk observation to the
// history ring and saves it. An observation identical to the newest ring
// entry is skipped, so a stalled copy does not flood the ring with
// duplicates and flatten the rate window.
func UpdateHistory(store checkpoint.Store, statuses []CollectionStatus) error {
	history, err := store.LoadHistory()
	if err != nil {
		return fmt.Errorf("failed to load checkpoint history: %w", err)
	}

	changed := false
	for _, status := range statuses {
		if status.CopiedAt == "" {
			continue
		}

		entries := history[status.Collection]
		if n := len(entries); n > 0 && entries[n-1].Timestamp == status.CopiedAt && entries[n-1].Count == status.Copied {
			continue
		}
		history[status.Collection] = append(entries, types.HistoryEntry{
			Timestamp: status.CopiedAt,
			Count:     status.Copied,
		})
		changed = true
	}

	if !changed {
		return nil
	}
	return store.SaveHistory(history)
}

// ETA derives the copy rate from the ring's endpoints. With total > 0 it
// also projects remaining documents and drain time. Returns nil when the
// ring is too short or shows no forward progress.
func ETA(entries []types.HistoryEntry, total int64) *Estimate {
	if len(entries) < 2 {
		return nil
	}

	sorted := make([]types.HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	t0, err := codec.ParseTime(first.Timestamp)
	if err != nil {
		return nil
	}
	t1, err := codec.ParseTime(last.Timestamp)
	if err != nil {
		return nil
	}

	seconds := t1.Sub(t0).Seconds()
	docs := last.Count - first.Count
	if seconds <= 0 || docs <= 0 {
		return nil
	}

	est := &Estimate{DocsPerSecond: float64(docs) / seconds}
	if total > 0 {
		remaining := total - last.Count
		if remaining < 0 {
			remaining = 0
		}
		est.RemainingDocs = remaining
		est.ETASeconds = float64(remaining) / est.DocsPerSecond
		est.ETA = time.Duration(est.ETASeconds * float64(time.Second)).Round(time.Second).String()
	}
	return est
}

// SaveCurrent overwrites monitor_current.json in dir with the snapshot.
func SaveCurrent(dir string, statuses []CollectionStatus) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create monitor directory: %w", err)
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode monitor snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, currentFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write monitor snapshot: %w", err)
	}
	return nil
}

// Render formats the snapshot as a fixed-width table for terminal output.
func Render(statuses []CollectionStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-24s %-12s %-10s %-10s %-12s %-8s %s\n",
		"COLLECTION", "COPIED", "UPDATES", "DELETES", "RATE", "TOKEN", "LAST SYNC")

	for _, status := range statuses {
		rate := "-"
		if status.Estimate != nil {
			rate = fmt.Sprintf("%.1f/s", status.Estimate.DocsPerSecond)
		}
		token := "no"
		if status.HasResumeToken {
			token = "yes"
		}
		lastSync := "never"
		if status.LastSyncedAt != "" {
			lastSync = fmt.Sprintf("%s (%s ago)", status.LastSyncedAt, roundAge(status.AgeSeconds))
		}

		fmt.Fprintf(&b, "%-24s %-12d %-10d %-10d %-12s %-8s %s\n",
			status.Collection, status.Copied, status.Updates, status.Deletions, rate, token, lastSync)
	}
	return b.String()
}

func roundAge(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	return (time.Duration(seconds) * time.Second).Round(time.Second).String()
}

func laterStamp(current time.Time, stamp string) time.Time {
	t, err := codec.ParseTime(stamp)
	if err != nil {
		return current
	}
	if t.After(current) {
		return t
	}
	return current
}

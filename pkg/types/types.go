package types

import (
	"sync"
	"time"
)

// CollectionMapping identifies one replication unit: a collection copied from
// a source database to a target database. Immutable once loaded.
type CollectionMapping struct {
	SourceDB   string `json:"source_db" yaml:"source_db"`
	TargetDB   string `json:"target_db" yaml:"target_db"`
	Collection string `json:"collection" yaml:"collection"`
}

// String returns the mapping in source_db.collection -> target_db.collection form.
func (m CollectionMapping) String() string {
	return m.SourceDB + "." + m.Collection + " -> " + m.TargetDB + "." + m.Collection
}

// Mode selects the orchestrator's operating mode
type Mode string

const (
	ModeMigrate Mode = "migrate" // bulk copy, drift pass, verify, report
	ModeCDC     Mode = "cdc"     // continuous change capture
	ModeVerify  Mode = "verify"  // verification only
	ModeUpdate  Mode = "update"  // one polling pass, no loop
	ModeStatus  Mode = "status"  // print checkpoint snapshot
)

// WorkerState tracks the lifecycle of a CDC worker
type WorkerState string

const (
	WorkerStarting     WorkerState = "starting"
	WorkerRunning      WorkerState = "running"
	WorkerReconnecting WorkerState = "reconnecting"
	WorkerStopped      WorkerState = "stopped"
	WorkerFailed       WorkerState = "failed"
)

// BulkCheckpoint marks bulk copy progress for one collection.
// LastID is the canonical string form of the highest id already copied;
// resumption reads strictly greater ids.
type BulkCheckpoint struct {
	LastID    string `json:"last_id"`
	Count     int64  `json:"count"`
	Timestamp string `json:"timestamp"`
}

// PollingCheckpoint marks polling CDC progress for one collection.
// Updates and Deletions are cumulative across runs; the store merges
// increments into the previously persisted totals on save.
type PollingCheckpoint struct {
	LastUpdatedAt     string `json:"last_updated_at,omitempty"`
	LastOperationTime string `json:"last_operation_time,omitempty"`
	Updates           int64  `json:"updates"`
	Deletions         int64  `json:"deletions"`
	Timestamp         string `json:"timestamp"`
}

// StreamCheckpoint holds the opaque change stream resume token for one
// collection. Re-presenting the token resumes the stream just after the
// last delivered event.
type StreamCheckpoint struct {
	Token     map[string]interface{} `json:"resume_token"`
	Timestamp string                 `json:"timestamp"`
}

// HistoryEntry is one (timestamp, count) observation of a bulk checkpoint,
// kept in a ring of at most HistoryLimit entries per collection for ETA
// estimation.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	Count     int64  `json:"count"`
}

// HistoryLimit bounds the checkpoint history ring per collection.
const HistoryLimit = 10

// CheckpointHistory maps collection name to its recent checkpoint
// observations, newest last.
type CheckpointHistory map[string][]HistoryEntry

// Stats aggregates per-worker replication counters. Safe for concurrent use.
type Stats struct {
	mu                   sync.Mutex
	Synced               int64
	Updated              int64
	Deleted              int64
	VerificationFailures int64
	LastError            string
}

// Add accumulates counter deltas.
func (s *Stats) Add(synced, updated, deleted, verifyFailed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Synced += synced
	s.Updated += updated
	s.Deleted += deleted
	s.VerificationFailures += verifyFailed
}

// SetError records the most recent worker error.
func (s *Stats) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastError = err.Error()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Synced:               s.Synced,
		Updated:              s.Updated,
		Deleted:              s.Deleted,
		VerificationFailures: s.VerificationFailures,
		LastError:            s.LastError,
	}
}

// StatsSnapshot is an immutable copy of Stats counters.
type StatsSnapshot struct {
	Synced               int64  `json:"synced"`
	Updated              int64  `json:"updated"`
	Deleted              int64  `json:"deleted"`
	VerificationFailures int64  `json:"verification_failures"`
	LastError            string `json:"last_error,omitempty"`
}

// ResultStatus is the terminal state of one collection's run
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultSkipped   ResultStatus = "skipped"
)

// CollectionResult records the outcome of one collection under one mode.
type CollectionResult struct {
	Collection      string        `json:"collection"`
	SourceDB        string        `json:"source_db"`
	TargetDB        string        `json:"target_db"`
	Status          ResultStatus  `json:"status"`
	Synced          int64         `json:"synced"`
	Updated         int64         `json:"updated"`
	Deleted         int64         `json:"deleted"`
	VerifyFailed    int64         `json:"verify_failed"`
	IndexesCreated  int           `json:"indexes_created"`
	DurationSeconds float64       `json:"duration_seconds"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Elapsed         time.Duration `json:"-"`
}

// VerificationStatus is the overall outcome of a collection verification
type VerificationStatus string

const (
	VerificationOK     VerificationStatus = "OK"
	VerificationFailed VerificationStatus = "FAILED"
)

// ExistsCheck reports whether the target has the collection.
type ExistsCheck struct {
	Passed bool `json:"passed"`
}

// CountCheck compares document counts within the allowed tolerance
// max(5, 1% of source).
type CountCheck struct {
	Source    int64 `json:"source"`
	Target    int64 `json:"target"`
	Diff      int64 `json:"diff"`
	Tolerance int64 `json:"tolerance"`
	Passed    bool  `json:"passed"`
}

// IndexCheck compares index name sets and key patterns.
type IndexCheck struct {
	SourceIndexes []string `json:"source_indexes"`
	TargetIndexes []string `json:"target_indexes"`
	Missing       []string `json:"missing,omitempty"`
	Mismatched    []string `json:"mismatched,omitempty"`
	Passed        bool     `json:"passed"`
}

// SampleCheck compares strided document samples by canonical hash.
type SampleCheck struct {
	Sampled int64   `json:"sampled"`
	Matched int64   `json:"matched"`
	Ratio   float64 `json:"ratio"`
	Passed  bool    `json:"passed"`
}

// VerificationResult is the per-collection verification record.
type VerificationResult struct {
	Collection string             `json:"collection"`
	SourceDB   string             `json:"source_db"`
	TargetDB   string             `json:"target_db"`
	Exists     ExistsCheck        `json:"exists"`
	Count      CountCheck         `json:"count"`
	Indexes    IndexCheck         `json:"indexes"`
	Sample     SampleCheck        `json:"sample"`
	Status     VerificationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// VerificationReport is the run-level verification record written to
// verification/verification_<stamp>.json.
type VerificationReport struct {
	RunID     string               `json:"run_id"`
	Timestamp time.Time            `json:"timestamp"`
	Total     int                  `json:"total"`
	Passed    int                  `json:"passed"`
	Failed    int                  `json:"failed"`
	Results   []VerificationResult `json:"results"`
}

// OK reports whether every collection verified clean.
func (r *VerificationReport) OK() bool {
	return r.Failed == 0
}

// Report is the run-level migration record written to
// verification/migration_report_<stamp>.json.
type Report struct {
	RunID           string              `json:"run_id"`
	Mode            Mode                `json:"mode"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	Collections     []CollectionResult  `json:"collections"`
	TotalSynced     int64               `json:"total_synced"`
	TotalFailed     int                 `json:"total_failed"`
	Verification    *VerificationReport `json:"verification,omitempty"`
}

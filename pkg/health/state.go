package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateDirChecker verifies that the state directory exists and is writable.
// Checkpoints are useless if they cannot be persisted, so this is a
// readiness gate for every mode.
type StateDirChecker struct {
	// Dir is the state directory to probe
	Dir string
}

// NewStateDirChecker creates a new state directory checker
func NewStateDirChecker(dir string) *StateDirChecker {
	return &StateDirChecker{Dir: dir}
}

// Check probes the directory by writing and removing a marker file
func (s *StateDirChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("state directory unavailable: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	probe := filepath.Join(s.Dir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("state directory not writable: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	_ = os.Remove(probe)

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("state directory %s writable", s.Dir),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (s *StateDirChecker) Type() CheckType {
	return CheckTypeState
}

// CheckpointAgeChecker verifies that checkpoint files are still being
// written. A stalled worker stops refreshing its checkpoints long before
// it stops answering pings, so file age is the earlier signal.
type CheckpointAgeChecker struct {
	// Dir is the progress directory holding checkpoint files
	Dir string

	// MaxAge is the oldest acceptable age for the newest checkpoint
	MaxAge time.Duration
}

// NewCheckpointAgeChecker creates a new checkpoint freshness checker
func NewCheckpointAgeChecker(dir string, maxAge time.Duration) *CheckpointAgeChecker {
	return &CheckpointAgeChecker{
		Dir:    dir,
		MaxAge: maxAge,
	}
}

// Check scans the progress directory for the newest checkpoint file
func (c *CheckpointAgeChecker) Check(ctx context.Context) Result {
	start := time.Now()

	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("cannot read progress directory: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	var newest time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}

	if newest.IsZero() {
		return Result{
			Healthy:   false,
			Message:   "no checkpoint files written yet",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	age := time.Since(newest)
	if age > c.MaxAge {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("newest checkpoint is %s old (max %s)", age.Round(time.Second), c.MaxAge),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("newest checkpoint is %s old", age.Round(time.Second)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (c *CheckpointAgeChecker) Type() CheckType {
	return CheckTypeState
}

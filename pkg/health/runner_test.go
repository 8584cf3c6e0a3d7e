package health

import (
	"context"
	"testing"
	"time"
)

type scriptedChecker struct {
	results []Result
	calls   int
}

func (s *scriptedChecker) Check(ctx context.Context) Result {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

func (s *scriptedChecker) Type() CheckType {
	return CheckTypeMongo
}

func TestRunnerTracksStatus(t *testing.T) {
	config := DefaultConfig()
	config.Retries = 2

	runner := NewRunner(config)
	checker := &scriptedChecker{results: []Result{
		{Healthy: false, Message: "down", CheckedAt: time.Now()},
		{Healthy: false, Message: "down", CheckedAt: time.Now()},
		{Healthy: true, Message: "up", CheckedAt: time.Now()},
	}}
	runner.Register("source", checker)

	ctx := context.Background()

	runner.runChecks(ctx)
	status, ok := runner.Status("source")
	if !ok {
		t.Fatal("status should exist after registration")
	}
	if !status.Healthy {
		t.Error("one failure should not flip status with two retries")
	}

	runner.runChecks(ctx)
	status, _ = runner.Status("source")
	if status.Healthy {
		t.Error("two consecutive failures should mark the checker unhealthy")
	}

	runner.runChecks(ctx)
	status, _ = runner.Status("source")
	if !status.Healthy {
		t.Error("a success should recover the checker")
	}

	if checker.calls != 3 {
		t.Errorf("expected 3 checks, got %d", checker.calls)
	}
}

func TestRunnerStatusUnknownChecker(t *testing.T) {
	runner := NewRunner(DefaultConfig())

	if _, ok := runner.Status("missing"); ok {
		t.Error("unknown checker should report no status")
	}
}

func TestRunnerRunStopsOnCancel(t *testing.T) {
	config := DefaultConfig()
	config.Interval = 10 * time.Millisecond
	config.Timeout = 50 * time.Millisecond

	runner := NewRunner(config)
	runner.Register("source", &scriptedChecker{results: []Result{
		{Healthy: true, CheckedAt: time.Now()},
	}})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
}

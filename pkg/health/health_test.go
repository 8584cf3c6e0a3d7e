package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubPinger struct {
	err   error
	calls int
}

func (s *stubPinger) Ping(ctx context.Context) error {
	s.calls++
	return s.err
}

func TestStatusUpdate_FailureThreshold(t *testing.T) {
	config := DefaultConfig()
	config.Retries = 3

	status := NewStatus()
	if !status.Healthy {
		t.Fatal("new status should start healthy")
	}

	failed := Result{Healthy: false, Message: "down", CheckedAt: time.Now()}

	// Two failures are not enough to flip the status
	status.Update(failed, config)
	status.Update(failed, config)
	if !status.Healthy {
		t.Error("status should stay healthy below the retry threshold")
	}

	// Third consecutive failure crosses the threshold
	status.Update(failed, config)
	if status.Healthy {
		t.Error("status should be unhealthy after three consecutive failures")
	}

	if status.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", status.ConsecutiveFailures)
	}
}

func TestStatusUpdate_RecoversOnSuccess(t *testing.T) {
	config := DefaultConfig()
	config.Retries = 2

	status := NewStatus()
	failed := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	status.Update(failed, config)
	status.Update(failed, config)
	if status.Healthy {
		t.Fatal("status should be unhealthy")
	}

	// A single success recovers immediately
	status.Update(ok, config)
	if !status.Healthy {
		t.Error("status should recover after one successful check")
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("failure counter should reset, got %d", status.ConsecutiveFailures)
	}
}

func TestStatusInStartPeriod(t *testing.T) {
	config := DefaultConfig()

	status := NewStatus()
	if status.InStartPeriod(config) {
		t.Error("zero start period should never report in-grace")
	}

	config.StartPeriod = time.Hour
	if !status.InStartPeriod(config) {
		t.Error("fresh status should be inside a one hour start period")
	}

	status.StartedAt = time.Now().Add(-2 * time.Hour)
	if status.InStartPeriod(config) {
		t.Error("status older than the start period should not be in grace")
	}
}

func TestMongoChecker_Healthy(t *testing.T) {
	pinger := &stubPinger{}
	checker := NewMongoChecker("source", pinger)

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got: %s", result.Message)
	}
	if pinger.calls != 1 {
		t.Errorf("expected 1 ping, got %d", pinger.calls)
	}
	if checker.Type() != CheckTypeMongo {
		t.Errorf("expected type %s, got %s", CheckTypeMongo, checker.Type())
	}
}

func TestMongoChecker_Unhealthy(t *testing.T) {
	pinger := &stubPinger{err: errors.New("server selection error")}
	checker := NewMongoChecker("target", pinger)

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("expected unhealthy result")
	}
	if result.Message == "" {
		t.Error("expected message describing the failure")
	}
}

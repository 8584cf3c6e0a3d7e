package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/mongorelay/pkg/config"
)

// timeoutError satisfies net.Error, which is how the driver classifies
// connection timeouts.
type timeoutError struct{}

func (timeoutError) Error() string   { return "operation timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "nil", err: nil, transient: false},
		{name: "context canceled", err: context.Canceled, transient: false},
		{name: "context deadline", err: context.DeadlineExceeded, transient: false},
		{name: "timeout", err: timeoutError{}, transient: true},
		{name: "timeout only in message", err: errors.New("no timeout here"), transient: false},
		{name: "shutdown in progress", err: mongo.CommandError{Code: 91, Message: "shutdown in progress"}, transient: true},
		{name: "primary stepped down", err: mongo.CommandError{Code: 189, Message: "stepdown"}, transient: true},
		{name: "not writable primary", err: mongo.CommandError{Code: 10107}, transient: true},
		{name: "authentication failed", err: mongo.CommandError{Code: 18, Message: "auth failed"}, transient: false},
		{name: "unauthorized", err: mongo.CommandError{Code: 13}, transient: false},
		{name: "duplicate key", err: mongo.CommandError{Code: 11000, Message: "E11000 duplicate key"}, transient: false},
		{name: "retryable label", err: mongo.CommandError{Code: 1, Labels: []string{"RetryableWriteError"}}, transient: true},
		{name: "network label", err: mongo.CommandError{Code: 1, Labels: []string{"NetworkError"}}, transient: true},
		{name: "plain error", err: errors.New("malformed query"), transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func newTestManager(retryLimit int) *Manager {
	return &Manager{
		cfg: &config.Config{
			RetryLimit: retryLimit,
			RetryDelay: time.Millisecond,
		},
		logger: zerolog.Nop(),
	}
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	m := newTestManager(5)
	calls := 0

	err := m.WithRetry(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	m := newTestManager(5)
	calls := 0

	err := m.WithRetry(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return mongo.CommandError{Code: 91, Message: "shutdown in progress"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	m := newTestManager(5)
	calls := 0
	permanent := mongo.CommandError{Code: 18, Message: "auth failed"}

	err := m.WithRetry(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	m := newTestManager(3)
	calls := 0
	transient := mongo.CommandError{Code: 189, Message: "stepdown"}

	err := m.WithRetry(context.Background(), "write", func(ctx context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var cmdErr mongo.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, int32(189), cmdErr.Code)
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	m := newTestManager(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := m.WithRetry(ctx, "fetch", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestSleepReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

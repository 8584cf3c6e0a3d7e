package client

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/mongorelay/pkg/metrics"
)

// Server error codes that indicate a recoverable condition: elections,
// stepdowns, interrupted operations, unreachable hosts. Anything not
// listed here and not caught by the driver's own timeout/network
// detection is treated as permanent.
var transientCodes = map[int32]bool{
	6:     true, // HostUnreachable
	7:     true, // HostNotFound
	89:    true, // NetworkTimeout
	91:    true, // ShutdownInProgress
	189:   true, // PrimarySteppedDown
	262:   true, // ExceededTimeLimit
	10107: true, // NotWritablePrimary
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	13435: true, // NotPrimaryNoSecondaryOk
	13436: true, // NotPrimaryOrSecondary
}

// Permanent command codes checked before the generic probes so that an
// authorization failure inside a timeout wrapper is never retried.
var permanentCodes = map[int32]bool{
	13:   true, // Unauthorized
	18:   true, // AuthenticationFailed
	59:   true, // CommandNotFound
	8000: true, // AtlasError
}

// IsTransient reports whether err is worth retrying. Cancellation,
// authentication failures, malformed operations and data errors are
// permanent; timeouts, network drops and replica set transitions are
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if permanentCodes[cmdErr.Code] {
			return false
		}
		if transientCodes[cmdErr.Code] {
			return true
		}
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		if srvErr.HasErrorLabel("RetryableWriteError") ||
			srvErr.HasErrorLabel("TransientTransactionError") ||
			srvErr.HasErrorLabel("NetworkError") {
			return true
		}
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return false
}

// WithRetry runs fn up to RETRY_LIMIT times, sleeping RETRY_DELAY·attempt
// between tries (linear backoff). Permanent errors and cancellation end
// the loop immediately. op names the operation in logs and metrics.
func (m *Manager) WithRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.RetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == m.cfg.RetryLimit {
			break
		}

		delay := time.Duration(attempt) * m.cfg.RetryDelay
		m.logger.Warn().
			Str("operation", op).
			Int("attempt", attempt).
			Int("limit", m.cfg.RetryLimit).
			Dur("delay", delay).
			Err(err).
			Msg("Transient error, retrying")
		metrics.RetryAttempts.WithLabelValues(op).Inc()

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is canceled, whichever comes first.
// Shared by retry backoff, poll idle sleeps and stream reconnect delays.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
)

// Runner periodically executes registered checkers and publishes the
// outcome to the component health registry in pkg/metrics.
type Runner struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	checkers map[string]Checker
	statuses map[string]*Status
}

// NewRunner creates a runner with the given check configuration
func NewRunner(config Config) *Runner {
	return &Runner{
		config:   config,
		logger:   log.WithComponent("health"),
		checkers: make(map[string]Checker),
		statuses: make(map[string]*Status),
	}
}

// Register adds a named checker. The name becomes the component name in
// health reports, so critical checkers should use "source", "target",
// and "state".
func (r *Runner) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	r.statuses[name] = NewStatus()
	metrics.RegisterComponent(name, true, "not checked yet")
}

// Status returns a copy of the tracked status for a checker
func (r *Runner) Status(name string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Run executes all checkers on the configured interval until the context
// is cancelled. The first round runs immediately.
func (r *Runner) Run(ctx context.Context) {
	r.runChecks(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runChecks(ctx)
		}
	}
}

func (r *Runner) runChecks(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.runCheck(ctx, name)
	}
}

func (r *Runner) runCheck(ctx context.Context, name string) {
	r.mu.Lock()
	checker := r.checkers[name]
	status := r.statuses[name]
	r.mu.Unlock()

	if checker == nil || status == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	result := checker.Check(checkCtx)
	cancel()

	r.mu.Lock()
	status.Update(result, r.config)
	healthy := status.Healthy
	inGrace := status.InStartPeriod(r.config)
	r.mu.Unlock()

	if !result.Healthy {
		r.logger.Warn().
			Str("check", name).
			Str("type", string(checker.Type())).
			Str("message", result.Message).
			Msg("Health check failed")
	}

	// During the grace period failures are recorded but not published,
	// so a slow initial sync does not flap readiness.
	if inGrace && !healthy {
		return
	}
	metrics.UpdateComponent(name, healthy, result.Message)
}

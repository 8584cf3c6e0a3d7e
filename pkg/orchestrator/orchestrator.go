package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/mongorelay/pkg/api"
	"github.com/stratumhq/mongorelay/pkg/bulk"
	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/events"
	"github.com/stratumhq/mongorelay/pkg/health"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/monitor"
	"github.com/stratumhq/mongorelay/pkg/poll"
	"github.com/stratumhq/mongorelay/pkg/reconciler"
	"github.com/stratumhq/mongorelay/pkg/scheduler"
	"github.com/stratumhq/mongorelay/pkg/stream"
	"github.com/stratumhq/mongorelay/pkg/types"
	"github.com/stratumhq/mongorelay/pkg/verify"
)

// serverShutdownTimeout bounds how long Run waits for the metrics
// listener to finish in-flight requests.
const serverShutdownTimeout = 5 * time.Second

// disconnectTimeout bounds the driver disconnects at the end of a run.
const disconnectTimeout = 10 * time.Second

// drainTimeout bounds the worker join after cancellation. Every worker
// observes ctx at its suspension points, so the join normally completes
// within one batch; the bound keeps a stuck driver call from hanging
// shutdown.
const drainTimeout = 10 * time.Second

// pingerFunc adapts a bare ping function to the Pinger interfaces used by
// the health checkers and the metrics collector.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Orchestrator wires the replication components together and drives a
// single run in one of the operating modes. Connections are opened on Run,
// not on construction, so a misconfigured instance fails fast and cheap.
type Orchestrator struct {
	cfg      *config.Config
	mappings []types.CollectionMapping
	clients  *client.Manager
	store    checkpoint.Store
	broker   *events.Broker
	pool     *scheduler.Pool
	logger   zerolog.Logger
}

// New builds an orchestrator from loaded configuration and collection
// mappings.
func New(cfg *config.Config, mappings []types.CollectionMapping) (*Orchestrator, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("no collection mappings configured")
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare state directories: %w", err)
	}

	store, err := checkpoint.Open(cfg.StateBackend, cfg.ProgressDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		mappings: mappings,
		clients:  client.NewManager(cfg),
		store:    store,
		broker:   events.NewBroker(),
		pool:     scheduler.NewPool(cfg.Concurrency),
		logger:   log.WithComponent("orchestrator"),
	}, nil
}

// Status renders the checkpoint snapshot for every mapped collection. It
// reads state files only and never opens a database connection, so it is
// safe to run beside a live replication.
func (o *Orchestrator) Status() string {
	return monitor.Render(monitor.Snapshot(o.store, o.mappings))
}

// Run executes one orchestration in the given mode and blocks until the
// mode finishes or ctx is cancelled. The returned error is nil only when
// the run can be considered clean; cancellation of a continuous mode
// counts as clean shutdown.
func (o *Orchestrator) Run(ctx context.Context, mode types.Mode) error {
	start := time.Now()
	o.logger.Info().
		Str("mode", string(mode)).
		Int("collections", len(o.mappings)).
		Str("state_dir", o.cfg.StateDir).
		Msg("Starting run")

	if err := o.connect(ctx); err != nil {
		return err
	}
	defer o.closeClients()
	defer o.closeStore()

	o.broker.Start()
	defer o.broker.Stop()

	sub := o.broker.Subscribe()
	t := &tally{}
	tallyDone := make(chan struct{})
	go func() {
		defer close(tallyDone)
		consume(sub, t, o.logger)
	}()

	collector := metrics.NewCollector(o.store, o.mappings)
	collector.AddPinger("source", pingerFunc(o.clients.PingSource))
	collector.AddPinger("target", pingerFunc(o.clients.PingTarget))
	collector.Start()
	defer collector.Stop()

	// The collector keeps source/target readiness current while a mode
	// runs; the runner does the same for the state directory, which the
	// preflight otherwise checked exactly once.
	checkCtx, cancelChecks := context.WithCancel(ctx)
	defer cancelChecks()
	runner := health.NewRunner(health.DefaultConfig())
	runner.Register("state", health.NewStateDirChecker(o.cfg.StateDir))
	go runner.Run(checkCtx)

	if o.cfg.MetricsAddr != "" {
		stop := o.serveMetrics(o.cfg.MetricsAddr)
		defer stop()
	}

	var err error
	switch mode {
	case types.ModeMigrate:
		err = o.runMigrate(ctx, start)
	case types.ModeCDC:
		err = o.runCDC(ctx)
	case types.ModeVerify:
		err = o.runVerify(ctx)
	case types.ModeUpdate:
		err = o.runUpdate(ctx)
	default:
		err = fmt.Errorf("unknown mode %q (valid: migrate, cdc, verify, update)", mode)
	}

	o.broker.Unsubscribe(sub)
	<-tallyDone
	o.logSummary(mode, t, time.Since(start), err)
	return err
}

// closeClients disconnects both clusters. Run may be past its context by
// now, so the disconnect carries its own deadline.
func (o *Orchestrator) closeClients() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := o.clients.Close(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to disconnect cleanly")
	}
}

// closeStore releases store resources for backends that hold them.
func (o *Orchestrator) closeStore() {
	if c, ok := o.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to close checkpoint store")
		}
	}
}

// connect opens both clusters and runs the preflight checks before any
// worker starts.
func (o *Orchestrator) connect(ctx context.Context) error {
	if err := o.clients.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return o.preflight(ctx)
}

// preflight verifies both endpoints and the state directory, seeding the
// readiness registry served on /ready. A failed check aborts the run
// before any checkpoint is touched.
func (o *Orchestrator) preflight(ctx context.Context) error {
	checks := []struct {
		name    string
		checker health.Checker
	}{
		{"source", health.NewMongoChecker("source", pingerFunc(o.clients.PingSource))},
		{"target", health.NewMongoChecker("target", pingerFunc(o.clients.PingTarget))},
		{"state", health.NewStateDirChecker(o.cfg.StateDir)},
	}

	for _, c := range checks {
		result := c.checker.Check(ctx)
		metrics.RegisterComponent(c.name, result.Healthy, result.Message)
		if !result.Healthy {
			return fmt.Errorf("preflight check %s failed: %s", c.name, result.Message)
		}
		o.logger.Debug().Str("check", c.name).Msg("Preflight check passed")
	}
	return nil
}

// serveMetrics starts the observability listener and returns a func that
// shuts it down. Listener failures are logged, never fatal: replication
// does not stop because scraping broke.
func (o *Orchestrator) serveMetrics(addr string) func() {
	server := api.NewServer(o.store, o.mappings)
	go func() {
		if err := server.Start(addr); err != nil {
			o.logger.Error().Err(err).Str("addr", addr).Msg("Metrics listener failed")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn().Err(err).Msg("Metrics listener shutdown failed")
		}
	}
}

// runMigrate copies every mapped collection, runs one polling cycle per
// collection to catch writes that landed during the copy, verifies the
// result, and writes the run report. Later phases still run when earlier
// ones had per-collection failures; only cancellation stops the pipeline.
func (o *Orchestrator) runMigrate(ctx context.Context, start time.Time) error {
	report := &types.Report{
		RunID:     uuid.New().String(),
		Mode:      types.ModeMigrate,
		StartedAt: start.UTC(),
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		report.DurationSeconds = report.FinishedAt.Sub(report.StartedAt).Seconds()
		for _, result := range report.Collections {
			report.TotalSynced += result.Synced
			if result.Status == types.ResultFailed {
				report.TotalFailed++
			}
		}
		if err := o.writeReport(report); err != nil {
			o.logger.Error().Err(err).Msg("Failed to write migration report")
		}
	}()

	o.logger.Info().Int("workers", o.pool.Size()).Msg("Phase 1/3: bulk copy")
	loader := bulk.NewLoader(o.clients, o.store, o.cfg, o.broker)

	var mu sync.Mutex
	copyErr := o.pool.Run(ctx, o.mappings, func(ctx context.Context, mapping types.CollectionMapping) error {
		result, err := loader.Copy(ctx, mapping)
		mu.Lock()
		report.Collections = append(report.Collections, *result)
		mu.Unlock()
		return err
	})
	if ctx.Err() != nil {
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}
	if copyErr != nil {
		o.logger.Error().Err(copyErr).Msg("Bulk copy finished with failures")
	}

	o.logger.Info().Msg("Phase 2/3: drift catch-up")
	rec := reconciler.NewReconciler(o.clients, o.store, o.broker)
	pollWorker := poll.NewWorker(o.clients, o.store, o.cfg, o.broker, rec)

	driftErr := o.pool.Run(ctx, o.mappings, func(ctx context.Context, mapping types.CollectionMapping) error {
		_, err := pollWorker.RunCycle(ctx, mapping)
		return err
	})
	if ctx.Err() != nil {
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}
	if driftErr != nil {
		o.logger.Error().Err(driftErr).Msg("Drift catch-up finished with failures")
	}

	o.logger.Info().Msg("Phase 3/3: verification")
	verifier := verify.NewVerifier(o.clients, o.cfg, o.broker)
	verification, err := verifier.VerifyAll(ctx, o.mappings)
	if err != nil {
		return fmt.Errorf("migration interrupted: %w", err)
	}
	report.Verification = verification

	switch {
	case copyErr != nil:
		return fmt.Errorf("migration finished with copy failures: %w", copyErr)
	case driftErr != nil:
		return fmt.Errorf("migration finished with drift failures: %w", driftErr)
	case !verification.OK():
		return fmt.Errorf("%d of %d collections failed verification", verification.Failed, verification.Total)
	}

	o.logger.Info().
		Int("collections", len(o.mappings)).
		Int64("synced", report.TotalSynced).
		Msg("Migration complete")
	return nil
}

// runCDC keeps the target in sync continuously. Change streams are probed
// once against the first mapping; a deployment that cannot serve them at
// all drops the whole run to polling instead of letting every worker
// discover the same thing five seconds apart.
func (o *Orchestrator) runCDC(ctx context.Context) error {
	streamWorker := stream.NewWorker(o.clients, o.store, o.cfg, o.broker)

	err := streamWorker.Probe(ctx, o.mappings[0])
	switch {
	case err == nil:
		o.logger.Info().Msg("Change streams supported, tailing in real time")
		err = o.runStreamWorkers(ctx, streamWorker)
	case errors.Is(err, stream.ErrStreamsUnsupported):
		o.logger.Warn().Err(err).Msg("Change streams unsupported, falling back to polling")
		err = o.runPollingWorkers(ctx)
	default:
		return fmt.Errorf("failed to probe change streams: %w", err)
	}

	// Cancellation is how a continuous mode is asked to stop.
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runStreamWorkers tails one change stream per collection. A collection
// that turns out not to be streamable degrades to its own polling loop
// without disturbing the rest; any other worker error tears the run down
// so a supervisor restarts it from checkpoints.
func (o *Orchestrator) runStreamWorkers(ctx context.Context, worker *stream.Worker) error {
	rec := reconciler.NewReconciler(o.clients, o.store, o.broker)
	pollWorker := poll.NewWorker(o.clients, o.store, o.cfg, o.broker, rec)

	g, ctx := errgroup.WithContext(ctx)
	for _, mapping := range o.mappings {
		mapping := mapping
		g.Go(func() error {
			err := worker.Run(ctx, mapping)
			if errors.Is(err, stream.ErrStreamsUnsupported) {
				o.logger.Warn().
					Str("collection", mapping.Collection).
					Msg("Collection cannot be streamed, polling instead")
				return pollWorker.RunLoop(ctx, mapping)
			}
			return err
		})
	}
	return o.waitWorkers(ctx, g, drainTimeout)
}

// runPollingWorkers drives polling CDC. Threads=0 gives every collection
// its own loop at the polling interval; a positive count runs cycles
// through a bounded pool instead, for deployments where one connection
// per collection is too many.
func (o *Orchestrator) runPollingWorkers(ctx context.Context) error {
	rec := reconciler.NewReconciler(o.clients, o.store, o.broker)
	worker := poll.NewWorker(o.clients, o.store, o.cfg, o.broker, rec)

	if o.cfg.Threads == 0 {
		g, ctx := errgroup.WithContext(ctx)
		for _, mapping := range o.mappings {
			mapping := mapping
			g.Go(func() error {
				return worker.RunLoop(ctx, mapping)
			})
		}
		return o.waitWorkers(ctx, g, drainTimeout)
	}

	pool := scheduler.NewPool(o.cfg.Threads)
	o.logger.Info().
		Int("threads", pool.Size()).
		Dur("interval", o.cfg.PollingInterval).
		Msg("Polling in bounded cycles")

	for {
		if err := pool.Run(ctx, o.mappings, func(ctx context.Context, mapping types.CollectionMapping) error {
			_, err := worker.RunCycle(ctx, mapping)
			return err
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error().Err(err).Msg("Polling cycle finished with failures, will retry")
		}
		if err := client.Sleep(ctx, o.cfg.PollingInterval); err != nil {
			return err
		}
	}
}

// waitWorkers joins a worker group. Before cancellation it waits as long
// as the workers run; once ctx is done the join is bounded, and a worker
// that has not returned inside the timeout is abandoned with a warning so
// shutdown cannot hang. Process exit reaps abandoned goroutines.
func (o *Orchestrator) waitWorkers(ctx context.Context, g *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		o.logger.Warn().
			Dur("timeout", timeout).
			Msg("Workers still running after cancellation, abandoning")
		return ctx.Err()
	}
}

// runVerify checks every mapped collection and fails the run when any of
// them does not verify clean.
func (o *Orchestrator) runVerify(ctx context.Context) error {
	verifier := verify.NewVerifier(o.clients, o.cfg, o.broker)
	report, err := verifier.VerifyAll(ctx, o.mappings)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d of %d collections failed verification", report.Failed, report.Total)
	}
	return nil
}

// runUpdate runs exactly one polling cycle per collection and exits: the
// manual catch-up pass for targets that drifted while CDC was down.
func (o *Orchestrator) runUpdate(ctx context.Context) error {
	rec := reconciler.NewReconciler(o.clients, o.store, o.broker)
	worker := poll.NewWorker(o.clients, o.store, o.cfg, o.broker, rec)

	var mu sync.Mutex
	var total poll.CycleResult
	err := o.pool.Run(ctx, o.mappings, func(ctx context.Context, mapping types.CollectionMapping) error {
		res, err := worker.RunCycle(ctx, mapping)
		if res != nil {
			mu.Lock()
			total.Scanned += res.Scanned
			total.Staged += res.Staged
			total.Deleted += res.Deleted
			total.VerifyFailed += res.VerifyFailed
			mu.Unlock()
		}
		return err
	})

	o.logger.Info().
		Int64("scanned", total.Scanned).
		Int64("staged", total.Staged).
		Int64("deleted", total.Deleted).
		Int64("verify_failed", total.VerifyFailed).
		Msg("Update pass complete")

	if err != nil {
		return fmt.Errorf("update pass failed: %w", err)
	}
	return nil
}

// writeReport persists the run report under the verification directory.
func (o *Orchestrator) writeReport(report *types.Report) error {
	dir := o.cfg.VerificationDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create verification directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	name := fmt.Sprintf("migration_report_%s.json", report.FinishedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	o.logger.Info().Str("path", path).Msg("Migration report written")
	return nil
}

func (o *Orchestrator) logSummary(mode types.Mode, t *tally, elapsed time.Duration, err error) {
	snap := t.snapshot()
	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.ErrorLevel
	}
	o.logger.WithLevel(level).
		Err(err).
		Str("mode", string(mode)).
		Str("elapsed", elapsed.Round(time.Second).String()).
		Int64("documents", snap.Documents).
		Int64("batches", snap.Batches).
		Int64("indexes", snap.Indexes).
		Int64("deletes", snap.Deletes).
		Strs("failed_collections", snap.Failed).
		Msg("Run finished")
}

// consume drains broker events into the run tally, logging each one at
// debug. It returns when the subscriber channel is closed.
func consume(sub events.Subscriber, t *tally, logger zerolog.Logger) {
	for event := range sub {
		t.record(event)
		logger.Debug().
			Str("event", string(event.Type)).
			Str("collection", event.Collection).
			Int64("count", event.Count).
			Str("message", event.Message).
			Msg("Event")
	}
}

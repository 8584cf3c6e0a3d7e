/*
Package health provides health check mechanisms for monitoring replication liveness.

This package implements three types of health checks: Mongo, Engine, and State.
Health checks detect stalled workers and unreachable clusters early, feed the
component health registry behind the /health and /ready endpoints, and give the
monitor process a way to watch a replicator from the outside.

# Architecture

The health system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬───────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────────┬──────────────┐
	    ▼               ▼              ▼
	┌────────┐     ┌─────────┐    ┌─────────┐
	│ Mongo  │     │ Engine  │    │  State  │
	│Checker │     │ Checker │    │Checkers │
	└────────┘     └─────────┘    └─────────┘
	     │              │              │
	     ▼              ▼              ▼
	  Ping           GET           Probe dirs,
	  cluster        /healthz      file ages

## Health Check Flow

 1. Process starts → Runner registers checkers for source, target, state
 2. Wait for StartPeriod (grace period while initial sync warms up)
 3. Every Interval: Run all registered checks
 4. If a check fails: Increment consecutive failures
 5. If failures >= Retries: Mark component unhealthy
 6. Publish outcome to the pkg/metrics health registry
 7. /ready flips to 503 until source, target, and state recover

# Health Check Types

Mongo Checks:
  - Pings a MongoDB deployment through the driver
  - Exercises server selection, authentication, and the network path
  - Accepts any Pinger, so tests can substitute fakes

Engine Checks:
  - Probes a running engine's /healthz endpoint
  - Folds the reported status and uptime into the result message
  - Checkpoint files cannot tell a stalled engine from a finished one

State Checks:
  - StateDirChecker verifies the state directory is writable
  - CheckpointAgeChecker verifies checkpoint files keep being refreshed
  - A stalled worker stops writing checkpoints before it stops answering pings

# Core Components

Checker:
  - Single-method probe contract shared by all check types
  - Stateless; the Runner owns failure counting

Config:
  - Interval, Timeout, Retries, StartPeriod
  - DefaultConfig: 30s interval, 10s timeout, 3 retries, no grace

Status:
  - Consecutive failure and success counters
  - Flips unhealthy only after Retries consecutive failures
  - Recovers on the first success

Runner:
  - Executes registered checkers on the configured interval
  - Publishes results to pkg/metrics component registry
  - Suppresses publishing while inside the StartPeriod grace window

# Usage Examples

Checking the clusters:

	runner := health.NewRunner(health.DefaultConfig())
	runner.Register("source", health.NewMongoChecker("source", sourcePinger))
	runner.Register("target", health.NewMongoChecker("target", targetPinger))
	runner.Register("state", health.NewStateDirChecker(cfg.StateDir))
	go runner.Run(ctx)

Watching checkpoint freshness:

	checker := health.NewCheckpointAgeChecker(cfg.ProgressDir(), 5*time.Minute)
	result := checker.Check(ctx)
	if !result.Healthy {
		log.Warn(result.Message)
	}

Probing an engine from the monitor:

	checker := health.NewEngineChecker("replicator:9090").
		WithTimeout(3 * time.Second)
	result := checker.Check(ctx)

# Integration Points

This package integrates with:

  - pkg/metrics: Publishes component health for /health and /ready
  - pkg/client: Manager satisfies Pinger for Mongo checks
  - pkg/checkpoint: Age checker scans the progress directory
  - pkg/orchestrator: Runs the preflight checks and the state runner
  - cmd/mongorelay-monitor: Runs state, age, and engine checkers

# Design Patterns

Consumer-Side Interface:
  - Pinger is declared here, not in pkg/client
  - Tests substitute stub pingers without touching the driver

Grace Period:
  - StartPeriod suppresses failure publication, not failure counting
  - Slow initial syncs do not flap readiness

# See Also

  - pkg/metrics for the component health registry and HTTP handlers
  - pkg/checkpoint for the files the age checker watches
*/
package health

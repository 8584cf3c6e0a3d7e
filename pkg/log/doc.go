/*
Package log provides structured logging for MongoRelay using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and an optional
rotating file sink. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

MongoRelay's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout or custom writer          │          │
	│  │  - File: rotating sink (size-based)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("bulk")                    │          │
	│  │  - WithCollection("users")                  │          │
	│  │  - WithMode("cdc")                          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "bulk",                     │          │
	│  │    "collection": "users",                   │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "batch applied"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF batch applied component=bulk   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the Logger:

	import "github.com/stratumhq/mongorelay/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output with a rotating file copy
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
		File:       "logs/mongorelay.log",
	})

Simple Logging:

	log.Info("replication started")
	log.Warn("checkpoint file unreadable, starting from zero")
	log.Error("bulk write failed")

Structured Logging:

	log.Logger.Info().
		Str("collection", "users").
		Int("batch", 1000).
		Msg("batch applied")

	log.Logger.Error().
		Err(err).
		Str("collection", "orders").
		Msg("change stream reconnect failed")

Component Loggers:

	bulkLog := log.WithComponent("bulk")
	bulkLog.Info().Msg("index replication complete")

	collLog := log.WithComponent("poll").
		With().Str("collection", "users").Logger()
	collLog.Debug().Msg("watermark query built")

# File Sink

When Config.File is set, every log line is additionally written as JSON to a
size-rotated file (10MB per file, 5 backups) via lumberjack. The console
format setting only affects the primary writer; the file sink always carries
machine-parseable JSON. The per-collection failure logs written by the CDC
workers are separate append streams and are not routed through this logger.

# Integration Points

This package integrates with:

  - pkg/orchestrator: run lifecycle and mode selection logs
  - pkg/bulk: batch progress and index replication logs
  - pkg/stream: change stream lifecycle and resume token logs
  - pkg/poll: watermark, LWW decision, and cycle logs
  - pkg/verify: per-check verification outcomes
  - pkg/monitor: checkpoint snapshot and ETA logs

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()
  - Include the collection field on per-collection work

Don't:
  - Log connection strings without redaction (see pkg/security)
  - Use Debug level in production
  - Log per-document comparisons outside CDC_DEBUG

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Lumberjack rotation: https://github.com/natefinch/lumberjack
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log

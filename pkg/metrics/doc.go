/*
Package metrics provides Prometheus metrics collection and exposition for mongorelay.

The metrics package defines and registers all mongorelay metrics using the
Prometheus client library, providing observability into replication throughput,
change data capture lag, checkpoint freshness, and connection health. Metrics
are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

mongorelay's metrics system follows Prometheus best practices with
instrumentation across every replication stage:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Metric Sources                │           │
	│  │                                            │           │
	│  │  Bulk loader: documents synced, batches    │           │
	│  │  Stream worker: change events, reconnects  │           │
	│  │  Polling worker: updates, failed docs      │           │
	│  │  Reconciler: documents deleted             │           │
	│  │  Verifier: failed checks                   │           │
	│  │  Client: retry attempts, endpoint up       │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          Background Collector              │           │
	│  │  - Scans checkpoint files every 15s        │           │
	│  │  - Updates checkpoint count/age gauges     │           │
	│  │  - Probes source/target endpoints          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint             │           │
	│  │  - Path: /metrics                          │           │
	│  │  - Format: Prometheus text exposition      │           │
	│  │  - Handler: promhttp.Handler()             │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Collector:
  - Background loop refreshing checkpoint gauges from the progress directory
  - Probes registered endpoints and feeds the component health registry
  - Used by the monitor binary, which has no live replication state of its own

Health Registry:
  - Component health map behind /health, /ready, /live handlers
  - Readiness gates on source, target, and state components
  - Overall status degrades to unhealthy if any component reports failure

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Replication Metrics:

mongorelay_documents_synced_total{collection, mode}:
  - Type: Counter
  - Description: Documents written to the target, by collection and mode
  - Labels: collection, mode (migrate/cdc/update)
  - Example: mongorelay_documents_synced_total{collection="orders",mode="migrate"} 150000

mongorelay_documents_deleted_total{collection}:
  - Type: Counter
  - Description: Documents removed from the target by the delete reconciler
  - Example: mongorelay_documents_deleted_total{collection="orders"} 42

mongorelay_documents_failed_total{collection}:
  - Type: Counter
  - Description: Documents that could not be applied and were logged for replay
  - Example: mongorelay_documents_failed_total{collection="orders"} 3

mongorelay_change_events_total{collection, operation}:
  - Type: Counter
  - Description: Change stream events processed, by operation type
  - Labels: collection, operation (insert/update/replace/delete)
  - Example: mongorelay_change_events_total{collection="orders",operation="update"} 912

mongorelay_batch_duration_seconds{mode}:
  - Type: Histogram
  - Description: Time to read, apply, and checkpoint one batch
  - Buckets: Default Prometheus buckets

mongorelay_indexes_created_total{collection}:
  - Type: Counter
  - Description: Indexes replicated to the target during bulk load

Verification Metrics:

mongorelay_verification_failures_total{collection}:
  - Type: Counter
  - Description: Failed verification checks (existence, count, index, sample)
  - Example: mongorelay_verification_failures_total{collection="orders"} 1

Connection Metrics:

mongorelay_retry_attempts_total{operation}:
  - Type: Counter
  - Description: Operations retried after a transient error
  - Example: mongorelay_retry_attempts_total{operation="bulk_write"} 7

mongorelay_up{endpoint}:
  - Type: Gauge
  - Description: Whether the endpoint answered the last ping (1=up, 0=down)
  - Labels: endpoint (source/target)
  - Example: mongorelay_up{endpoint="source"} 1

Checkpoint Metrics:

mongorelay_checkpoint_documents{collection, kind}:
  - Type: Gauge
  - Description: Document count recorded in the newest checkpoint
  - Labels: collection, kind (bulk/polling)
  - Example: mongorelay_checkpoint_documents{collection="orders",kind="bulk"} 150000

mongorelay_checkpoint_age_seconds{collection, kind}:
  - Type: Gauge
  - Description: Seconds since the newest checkpoint was written
  - Labels: collection, kind (bulk/polling/stream)
  - Example: mongorelay_checkpoint_age_seconds{collection="orders",kind="stream"} 4.2

Worker Metrics:

mongorelay_active_workers{mode}:
  - Type: Gauge
  - Description: Collection workers currently running, by mode
  - Example: mongorelay_active_workers{mode="cdc"} 4

mongorelay_stream_reconnects_total{collection}:
  - Type: Counter
  - Description: Change stream reconnect attempts after transient errors
  - Example: mongorelay_stream_reconnects_total{collection="orders"} 2

# Usage

Updating Counter Metrics:

	import "github.com/stratumhq/mongorelay/pkg/metrics"

	// Record synced documents after a successful batch
	metrics.DocumentsSynced.WithLabelValues("orders", "migrate").Add(float64(len(batch)))

	// Record a change stream event
	metrics.ChangeEvents.WithLabelValues("orders", "update").Inc()

Updating Gauge Metrics:

	// Worker lifecycle
	metrics.ActiveWorkers.WithLabelValues("cdc").Inc()
	defer metrics.ActiveWorkers.WithLabelValues("cdc").Dec()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	applyBatch(batch)
	timer.ObserveDurationVec(metrics.BatchDuration, "migrate")

Running the Collector:

	collector := metrics.NewCollector(store, mappings)
	collector.AddPinger("source", sourcePinger)
	collector.AddPinger("target", targetPinger)
	collector.Start()
	defer collector.Stop()

Exposing Metrics:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

# Integration Points

This package integrates with:

  - pkg/bulk: Records synced documents, batch durations, created indexes
  - pkg/stream: Records change events and reconnect attempts
  - pkg/poll: Records updates, deletions, and failed documents
  - pkg/verify: Records failed verification checks
  - pkg/client: Records retry attempts
  - pkg/checkpoint: Collector reads checkpoint files for freshness gauges
  - pkg/api: Serves /metrics, /health, /ready, /live endpoints
  - Prometheus: Scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Collection names are operator-configured, so cardinality stays small
  - Never label by document ID or timestamp
  - Keep label count low (< 3 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any mongorelay package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Alerting Examples

Stale Checkpoints:
  - Alert: mongorelay_checkpoint_age_seconds{kind="stream"} > 300
  - Description: No change stream checkpoint written for 5 minutes
  - Action: Check source connectivity, stream worker logs

Endpoint Down:
  - Alert: mongorelay_up == 0
  - Description: Source or target cluster unreachable
  - Action: Check network path, cluster status, credentials

Verification Failures:
  - Alert: increase(mongorelay_verification_failures_total[1h]) > 0
  - Description: A verification check failed in the last hour
  - Action: Inspect the verification report for the failing collection

Failed Documents:
  - Alert: increase(mongorelay_documents_failed_total[10m]) > 100
  - Description: Documents are failing to apply at a high rate
  - Action: Inspect the failed document log for error patterns

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics

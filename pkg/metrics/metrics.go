package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replication metrics
	DocumentsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_documents_synced_total",
			Help: "Total number of documents written to the target by collection and mode",
		},
		[]string{"collection", "mode"},
	)

	DocumentsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_documents_deleted_total",
			Help: "Total number of documents removed from the target by the delete reconciler",
		},
		[]string{"collection"},
	)

	DocumentsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_documents_failed_total",
			Help: "Total number of documents that could not be applied to the target",
		},
		[]string{"collection"},
	)

	ChangeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_change_events_total",
			Help: "Total number of change stream events processed by collection and operation type",
		},
		[]string{"collection", "operation"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongorelay_batch_duration_seconds",
			Help:    "Time taken to read, apply, and checkpoint one batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	IndexesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_indexes_created_total",
			Help: "Total number of indexes replicated to the target",
		},
		[]string{"collection"},
	)

	// Verification metrics
	VerificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_verification_failures_total",
			Help: "Total number of failed verification checks by collection",
		},
		[]string{"collection"},
	)

	// Connection metrics
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_retry_attempts_total",
			Help: "Total number of retried operations after transient errors",
		},
		[]string{"operation"},
	)

	Up = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongorelay_up",
			Help: "Whether the named endpoint answered the last ping (1 = up, 0 = down)",
		},
		[]string{"endpoint"},
	)

	// Checkpoint metrics
	CheckpointDocuments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongorelay_checkpoint_documents",
			Help: "Document count recorded in the most recent checkpoint by collection and kind",
		},
		[]string{"collection", "kind"},
	)

	CheckpointAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongorelay_checkpoint_age_seconds",
			Help: "Seconds since the most recent checkpoint was written by collection and kind",
		},
		[]string{"collection", "kind"},
	)

	// Worker metrics
	ActiveWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongorelay_active_workers",
			Help: "Number of collection workers currently running by mode",
		},
		[]string{"mode"},
	)

	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongorelay_stream_reconnects_total",
			Help: "Total number of change stream reconnect attempts by collection",
		},
		[]string{"collection"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DocumentsSynced)
	prometheus.MustRegister(DocumentsDeleted)
	prometheus.MustRegister(DocumentsFailed)
	prometheus.MustRegister(ChangeEvents)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(IndexesCreated)
	prometheus.MustRegister(VerificationFailures)
	prometheus.MustRegister(RetryAttempts)
	prometheus.MustRegister(Up)
	prometheus.MustRegister(CheckpointDocuments)
	prometheus.MustRegister(CheckpointAge)
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(StreamReconnects)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in the given histogram vec
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

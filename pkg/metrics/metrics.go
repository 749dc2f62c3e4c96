package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Index metrics
	EntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brindex_entries_total",
			Help: "Indexed entries by volume mount",
		},
		[]string{"mount"},
	)

	VolumeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brindex_volume_state",
			Help: "Volume state machine position (1 for the current state)",
		},
		[]string{"mount", "state"},
	)

	// Write path metrics
	EventsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brindex_change_events_applied_total",
			Help: "Change events committed to the store",
		},
	)

	BatchCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brindex_batch_commit_duration_seconds",
			Help:    "Store batch commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnumerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brindex_enumeration_duration_seconds",
			Help:    "Initial volume enumeration duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Journal metrics
	JournalPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brindex_journal_polls_total",
			Help: "Change journal poll ticks",
		},
	)

	JournalDiscontinuitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brindex_journal_discontinuities_total",
			Help: "Journal wraps and recreates by kind",
		},
		[]string{"kind"},
	)

	// Reconciliation metrics
	ReconcileTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brindex_reconcile_total",
			Help: "Completed reconciliation passes",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brindex_reconcile_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brindex_queries_total",
			Help: "IPC requests by type and status",
		},
		[]string{"type", "status"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brindex_query_duration_seconds",
			Help:    "Search execution duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

func init() {
	prometheus.MustRegister(EntriesTotal)
	prometheus.MustRegister(VolumeState)
	prometheus.MustRegister(EventsApplied)
	prometheus.MustRegister(BatchCommitDuration)
	prometheus.MustRegister(EnumerationDuration)
	prometheus.MustRegister(JournalPollsTotal)
	prometheus.MustRegister(JournalDiscontinuitiesTotal)
	prometheus.MustRegister(ReconcileTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

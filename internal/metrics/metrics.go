// Package metrics exposes Prometheus collectors for task activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiosplit"

// Purge reasons.
const (
	ReasonDeleted = "deleted"
	ReasonExpired = "expired"
	ReasonOrphan  = "orphan"
)

// Metrics groups the collectors updated by the task service and runner.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	submitted prometheus.Counter
	finished  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	purged    *prometheus.CounterVec
}

// New registers the task collectors with reg.
// Registering twice with the same registerer panics, so tests should pass a
// fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Number of split tasks accepted for processing.",
		}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Number of split tasks that reached a terminal state.",
		}, []string{"status", "error_kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from submission to terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of tasks dispatched and not yet finalized.",
		}),
		purged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_purged_total",
			Help:      "Number of task scratch areas removed, by reason.",
		}, []string{"reason"}),
	}
}

// TaskSubmitted counts an accepted submission.
func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

// TaskDispatched marks a task as in flight.
func (m *Metrics) TaskDispatched() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// TaskFinished records a terminal outcome and clears the in-flight mark.
func (m *Metrics) TaskFinished(status, errorKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.finished.WithLabelValues(status, errorKind).Inc()
	m.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// TaskPurged counts a removed task or scratch directory.
func (m *Metrics) TaskPurged(reason string) {
	if m == nil {
		return
	}
	m.purged.WithLabelValues(reason).Inc()
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the chat engine.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csvchat"

// Metrics holds every collector the engine records to.
type Metrics struct {
	// ReconcileTotal counts reconciliations.
	// Labels: initial (bound, runtime_fs, blob, none), final (state name)
	ReconcileTotal *prometheus.CounterVec

	// QueriesTotal counts questions by result.
	// Labels: result (success, generation_error, execution_error, unrecoverable)
	QueriesTotal *prometheus.CounterVec

	// UploadsTotal counts uploads by result.
	// Labels: result (success, corrupt, error)
	UploadsTotal *prometheus.CounterVec

	GenerationSeconds prometheus.Histogram
	ExecutionSeconds  prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "total",
			Help:      "Reconciliations by initial and final state",
		}, []string{"initial", "final"}),

		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Questions answered by result",
		}, []string{"result"}),

		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "total",
			Help:      "Uploads by result",
		}, []string{"result"}),

		GenerationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "generation_seconds",
			Help:      "Code generation latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		ExecutionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "execution_seconds",
			Help:      "Analysis code execution time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// Reconciled records a reconciliation outcome.
func (m *Metrics) Reconciled(initial, final string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(initial, final).Inc()
}

// Query records the result of a question.
func (m *Metrics) Query(result string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(result).Inc()
}

// Upload records the result of an upload.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

// Generation records code generation latency.
func (m *Metrics) Generation(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationSeconds.Observe(d.Seconds())
}

// Execution records code execution time.
func (m *Metrics) Execution(d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionSeconds.Observe(d.Seconds())
}

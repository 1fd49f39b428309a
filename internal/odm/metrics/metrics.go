// Package metrics exposes Prometheus collectors for the mapper. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one mapper instance
type Metrics struct {
	ActionsExecuted *prometheus.CounterVec
	ActionsFailed   *prometheus.CounterVec
	Lazy            *prometheus.CounterVec
	MappingBuilds   prometheus.Counter
	Operations      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg creates unregistered
// collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmap_actions_executed_total",
				Help: "Number of reconciliation actions executed.",
			},
			[]string{"op"},
		),
		ActionsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmap_actions_failed_total",
				Help: "Number of reconciliation actions that failed.",
			},
			[]string{"op"},
		),
		Lazy: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmap_lazy_resolutions_total",
				Help: "Number of lazy relationship resolutions by result.",
			},
			[]string{"result"},
		),
		MappingBuilds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docmap_mapping_builds_total",
				Help: "Number of per-type mappings compiled.",
			},
		),
		Operations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmap_operation_duration_seconds",
				Help:    "Duration of mapper operations.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op", "status"},
		),
	}
}

// ActionExecuted counts a successful reconciliation action
func (m *Metrics) ActionExecuted(op string) {
	if m == nil {
		return
	}
	m.ActionsExecuted.WithLabelValues(op).Inc()
}

// ActionFailed counts a failed reconciliation action
func (m *Metrics) ActionFailed(op string) {
	if m == nil {
		return
	}
	m.ActionsFailed.WithLabelValues(op).Inc()
}

// LazyResolved counts a lazy resolution by result: resolved, missing or failed
func (m *Metrics) LazyResolved(result string) {
	if m == nil {
		return
	}
	m.Lazy.WithLabelValues(result).Inc()
}

// MappingBuilt counts a compiled mapping
func (m *Metrics) MappingBuilt() {
	if m == nil {
		return
	}
	m.MappingBuilds.Inc()
}

// Observe records the duration of a mapper operation started at start
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// Package metrics holds the domain counters of the document service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for lifecycle, storage and repair operations.
type Metrics struct {
	// Committed lifecycle transitions by action (upload, replace, mark_erroneous, ...)
	Transitions *prometheus.CounterVec

	// Lineage conflicts by operation, counted per attempt
	Conflicts *prometheus.CounterVec

	// Objects written, removed by rollback, or purged after retention
	ObjectOps *prometheus.CounterVec

	// Reconcile findings by classification
	Findings *prometheus.CounterVec

	// Repair actions by kind and result status
	Repairs *prometheus.CounterVec

	// End-to-end duration of orchestrated operations
	OperationLatency *prometheus.HistogramVec
}

// New registers the domain metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_transitions_total",
			Help: "Committed document lifecycle transitions by action.",
		}, []string{"action"}),

		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_lineage_conflicts_total",
			Help: "Lineage conflicts observed per attempt, by operation.",
		}, []string{"op"}),

		ObjectOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_object_operations_total",
			Help: "Object store writes and deletions by kind.",
		}, []string{"kind"}), // kind: "put", "rollback", "purge"

		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_reconcile_findings_total",
			Help: "Reconcile findings by classification.",
		}, []string{"classification"}),

		Repairs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_repair_actions_total",
			Help: "Applied repair actions by kind and result status.",
		}, []string{"kind", "status"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docvault_operation_duration_seconds",
			Help:    "Duration of orchestrated document operations.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op", "outcome"}),
	}
}

// IncTransition records a committed transition.
func (m *Metrics) IncTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}

// IncConflict records a lineage conflict seen by op.
func (m *Metrics) IncConflict(op string) {
	if m != nil {
		m.Conflicts.WithLabelValues(op).Inc()
	}
}

// IncObjectOp records an object store write or deletion.
func (m *Metrics) IncObjectOp(kind string) {
	if m != nil {
		m.ObjectOps.WithLabelValues(kind).Inc()
	}
}

// AddFindings records n reconcile findings of one classification.
func (m *Metrics) AddFindings(classification string, n int) {
	if m != nil && n > 0 {
		m.Findings.WithLabelValues(classification).Add(float64(n))
	}
}

// IncRepair records an applied repair action.
func (m *Metrics) IncRepair(kind, status string) {
	if m != nil {
		m.Repairs.WithLabelValues(kind, status).Inc()
	}
}

// ObserveOperation records how long op took; outcome is "ok" or "error".
func (m *Metrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OperationLatency.WithLabelValues(op, outcome).Observe(d.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// AssignmentMetrics records work assignment outcomes. It satisfies
// app.AssignmentObserver.
type AssignmentMetrics struct {
	AssignmentsTotal   *prometheus.CounterVec
	AssignmentDuration *prometheus.HistogramVec
	Failures           *prometheus.CounterVec
	Reassignments      *prometheus.CounterVec
}

func NewAssignmentMetrics(reg prometheus.Registerer) *AssignmentMetrics {
	m := &AssignmentMetrics{
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "assigned_total",
			Help:      "Total number of work units assigned, by kind.",
		}, []string{"kind"}),
		AssignmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "duration_seconds",
			Help:      "Time from assignment request to stored unit, by kind.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "failures_total",
			Help:      "Total number of failed assignments, by kind and reason.",
		}, []string{"kind", "reason"}),
		Reassignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "reassigned_total",
			Help:      "Total number of manual reassignments, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.AssignmentsTotal, m.AssignmentDuration, m.Failures, m.Reassignments)
	return m
}

func (m *AssignmentMetrics) Assigned(kind domain.WorkKind, took time.Duration) {
	m.AssignmentsTotal.WithLabelValues(string(kind)).Inc()
	m.AssignmentDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (m *AssignmentMetrics) AssignmentFailed(kind domain.WorkKind, reason string) {
	m.Failures.WithLabelValues(string(kind), reason).Inc()
}

func (m *AssignmentMetrics) Reassigned(kind domain.WorkKind) {
	m.Reassignments.WithLabelValues(string(kind)).Inc()
}

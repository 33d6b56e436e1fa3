package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// StreamMetrics tracks live event streams. It satisfies broadcast.Metrics.
type StreamMetrics struct {
	ActiveStreams    *prometheus.GaugeVec
	StreamsClosed    *prometheus.CounterVec
	Delivered        *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
}

func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Number of open event streams, by category.",
		}, []string{"category"}),
		StreamsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "closed_total",
			Help:      "Total number of closed event streams, by category and reason.",
		}, []string{"category", "reason"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_delivered_total",
			Help:      "Total number of events handed to live streams, by category.",
		}, []string{"category"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "delivery_failures_total",
			Help:      "Total number of streams dropped because they could not take an event.",
		}, []string{"category"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Total number of stream requests refused before opening, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveStreams, m.StreamsClosed, m.Delivered, m.DeliveryFailures, m.Rejected)
	return m
}

func (m *StreamMetrics) StreamOpened(category domain.Category) {
	m.ActiveStreams.WithLabelValues(string(category)).Inc()
}

func (m *StreamMetrics) StreamClosed(category domain.Category, reason string) {
	m.ActiveStreams.WithLabelValues(string(category)).Dec()
	m.StreamsClosed.WithLabelValues(string(category), reason).Inc()
}

func (m *StreamMetrics) EventsDelivered(category domain.Category, n int) {
	m.Delivered.WithLabelValues(string(category)).Add(float64(n))
}

func (m *StreamMetrics) DeliveryFailed(category domain.Category) {
	m.DeliveryFailures.WithLabelValues(string(category)).Inc()
}

// StreamRejected counts a request turned away by the connection limiter.
func (m *StreamMetrics) StreamRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}

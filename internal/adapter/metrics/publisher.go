package metrics

import "github.com/prometheus/client_golang/prometheus"

// PublisherMetrics tracks outbound work events and the broker circuit breaker.
type PublisherMetrics struct {
	Published    *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func NewPublisherMetrics(reg prometheus.Registerer) *PublisherMetrics {
	m := &PublisherMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of work events sent to the broker, by type and result.",
		}, []string{"type", "result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "circuit_breaker_state",
			Help:      "Broker circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Published, m.BreakerState)
	return m
}

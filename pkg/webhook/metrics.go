package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded per request.
const (
	OutcomeHandled  = "handled"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics counts webhook deliveries by event type and outcome and observes
// handler latency.
type Metrics struct {
	Events   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the webhook collectors on reg.
// A nil registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent reconciling a verified webhook event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Duration)
	}
	return m
}

func (m *Metrics) observe(eventType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.Events.WithLabelValues(eventType, outcome).Inc()
	if outcome != OutcomeRejected {
		m.Duration.WithLabelValues(eventType).Observe(seconds)
	}
}

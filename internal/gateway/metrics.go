package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks forwards to the core.
type Metrics struct {
	forwards *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the forwarding collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "privadome_core_forward_total",
			Help: "Forwards to the core by port and outcome.",
		}, []string{"port", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "privadome_core_forward_duration_seconds",
			Help:    "Duration of forwards to the core per port.",
			Buckets: prometheus.DefBuckets,
		}, []string{"port"}),
	}
	if reg != nil {
		reg.MustRegister(m.forwards, m.duration)
	}
	return m
}

func (m *Metrics) observe(port Port, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(port.String(), outcome).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(port.String()).Observe(elapsed.Seconds())
	}
}

package agent

import (
	"time"

	"a11yscout-mcp-server/internal/probe"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "a11yscout",
			Name:      "cycles_total",
			Help:      "Audit cycles by outcome.",
		}, []string{"outcome"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "a11yscout",
			Name:      "probe_duration_seconds",
			Help:      "Probe run time.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"probe", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.probeDuration)
	}
	return m
}

func (m *Metrics) observeCycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeProbe(a probe.Action, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.probeDuration.WithLabelValues(string(a), status).Observe(d.Seconds())
}

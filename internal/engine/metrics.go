package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	calls     *prometheus.CounterVec
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	queued    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "calls_total",
			Help:      "Tool calls by terminal state.",
		}, []string{"tool", "state"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "decisions_total",
			Help:      "Permission decisions by kind.",
		}, []string{"tool", "decision"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "call_duration_seconds",
			Help:      "Tool execution time, excluding queueing and prompts.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"tool"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "calls_in_flight",
			Help:      "Tool calls currently executing.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "calls_queued",
			Help:      "Tool calls waiting for a concurrency slot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.decisions, m.duration, m.inFlight, m.queued)
	}
	return m
}

func (m *Metrics) observeOutcome(toolName string, s State) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(toolName, string(s)).Inc()
}

func (m *Metrics) observeDecision(toolName, kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(toolName, kind).Inc()
}

func (m *Metrics) observeDuration(toolName string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(toolName).Observe(d.Seconds())
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

func (m *Metrics) addQueued(delta float64) {
	if m == nil {
		return
	}
	m.queued.Add(delta)
}

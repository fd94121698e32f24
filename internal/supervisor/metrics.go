package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes supervisor counters. A nil *Metrics records nothing.
type Metrics struct {
	spawns       prometheus.Counter
	exits        *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	terminations prometheus.Counter
	live         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		spawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hotswap",
			Name:      "worker_spawns_total",
			Help:      "Number of worker processes spawned.",
		}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotswap",
			Name:      "worker_exits_total",
			Help:      "Number of observed worker exits, by outcome.",
		}, []string{"outcome"}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotswap",
			Name:      "reload_sessions_total",
			Help:      "Number of reload sessions, by result.",
		}, []string{"result"}),
		terminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hotswap",
			Name:      "termination_failures_total",
			Help:      "Number of failed attempts to terminate the worker.",
		}),
		live: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hotswap",
			Name:      "worker_live",
			Help:      "Whether a worker process is live.",
		}),
	}
}

func (m *Metrics) spawned() {
	if m != nil {
		m.spawns.Inc()
	}
}

func (m *Metrics) exited(outcome string) {
	if m != nil {
		m.exits.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) reloaded(state SessionState) {
	if m != nil {
		m.reloads.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) terminationFailed() {
	if m != nil {
		m.terminations.Inc()
	}
}

func (m *Metrics) setLive(live bool) {
	if m == nil {
		return
	}

	if live {
		m.live.Set(1)
	} else {
		m.live.Set(0)
	}
}

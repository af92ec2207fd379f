package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	commands *prometheus.CounterVec
	errors   *prometheus.CounterVec
	live     prometheus.Gauge
}

// newMetrics registers on reg; a nil reg keeps the collectors unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coltable",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Commands executed, by operation.",
		}, []string{"op"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coltable",
			Subsystem: "engine",
			Name:      "command_errors_total",
			Help:      "Commands that failed, by operation.",
		}, []string{"op"}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "coltable",
			Subsystem: "engine",
			Name:      "live_handles",
			Help:      "Handles currently bound.",
		}),
	}
}

package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Updates          prometheus.Counter
	Reconnects       prometheus.Counter
	StaleTransitions prometheus.Counter
	ActivePairs      prometheus.Gauge
	Connected        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fyers_desk", Subsystem: "marketdata", Name: "updates_total",
			Help: "Quote updates received from the stream.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fyers_desk", Subsystem: "marketdata", Name: "reconnect_attempts_total",
			Help: "Reconnect attempts after unexpected stream drops.",
		}),
		StaleTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fyers_desk", Subsystem: "marketdata", Name: "stale_transitions_total",
			Help: "Quotes that crossed the staleness threshold.",
		}),
		ActivePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fyers_desk", Subsystem: "marketdata", Name: "active_pairs",
			Help: "Pairs with at least one listener.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fyers_desk", Subsystem: "marketdata", Name: "connected",
			Help: "1 while the stream is connected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Updates, m.Reconnects, m.StaleTransitions, m.ActivePairs, m.Connected)
	}
	return m
}

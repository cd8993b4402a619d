package fyers

import (
	"errors"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/infra"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	breaker  prometheus.Gauge
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fyers_desk", Subsystem: "broker", Name: "requests_total",
			Help: "Broker REST calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		breaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fyers_desk", Subsystem: "broker", Name: "breaker_state",
			Help: "REST circuit breaker: 0 closed, 1 open, 2 half-open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.breaker)
	}
	return m
}

func (m *clientMetrics) observe(op string, err error) {
	m.requests.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, infra.ErrCircuitOpen):
		return "circuit_open"
	case domain.IsAuthKind(err, domain.AuthExpiredToken):
		return "auth"
	case errors.As(err, &apiErr) && !apiErr.Temporary():
		return "rejected"
	default:
		return "error"
	}
}

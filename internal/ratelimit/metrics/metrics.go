// Package metrics exposes rate-limiter counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Limited *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Limited: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_rate_limited_requests_total",
			Help: "Requests refused by the rate limiter, by scope",
		}, []string{"scope"}),
	}
}

// IncrementLimited counts one refused request. Nil-safe so callers can run
// without metrics wired.
func (m *Metrics) IncrementLimited(scope string) {
	if m == nil {
		return
	}
	m.Limited.WithLabelValues(scope).Inc()
}

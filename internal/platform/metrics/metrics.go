package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics shared by all handlers.
// Subsystems register their own metrics in their metrics packages.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers the HTTP metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formgate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and method",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_http_requests_total",
			Help: "Total HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
	}
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
}

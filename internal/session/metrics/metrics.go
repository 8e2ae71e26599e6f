package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "formgate/pkg/domain"
)

// Metrics tracks session lifecycle counts.
type Metrics struct {
	Started *prometheus.CounterVec
	Ended   prometheus.Counter
	Purged  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Started: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_sessions_started_total",
			Help: "Sessions started, by form variant",
		}, []string{"variant"}),
		Ended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_sessions_ended_total",
			Help: "Sessions ended explicitly by the applicant",
		}),
		Purged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_sessions_purged_total",
			Help: "Expired sessions removed by the janitor",
		}),
	}
}

func (m *Metrics) IncrementStarted(variant domain.FormVariant) {
	if m == nil {
		return
	}
	m.Started.WithLabelValues(variant.String()).Inc()
}

func (m *Metrics) IncrementEnded() {
	if m == nil {
		return
	}
	m.Ended.Inc()
}

func (m *Metrics) AddPurged(n int) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(n))
}

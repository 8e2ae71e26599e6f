package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "formgate/pkg/domain"
)

// Metrics provides observability for the submission pipeline.
type Metrics struct {
	// Deliveries by variant and outcome: submitted or a failure reason
	Submissions *prometheus.CounterVec

	// Identity hand-offs started, by variant
	Handoffs *prometheus.CounterVec

	// Resume attempts by outcome: submitted, rejected, no_pending
	Resumes *prometheus.CounterVec

	// Form backend delivery latency
	DeliveryLatency prometheus.Histogram
}

// New creates a Metrics instance with all submission metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_submissions_total",
			Help: "Total deliveries to the form backend by variant and outcome",
		}, []string{"variant", "outcome"}),

		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_identity_handoffs_total",
			Help: "Total identity hand-offs started, by variant",
		}, []string{"variant"}),

		Resumes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_handoff_resumes_total",
			Help: "Total hand-off resume attempts by outcome",
		}, []string{"outcome"}),

		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "formgate_backend_delivery_duration_seconds",
			Help:    "Duration of form backend delivery attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// IncrementSubmission records a delivery outcome.
func (m *Metrics) IncrementSubmission(variant domain.FormVariant, outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(variant.String(), outcome).Inc()
	}
}

// IncrementHandoff records an identity hand-off start.
func (m *Metrics) IncrementHandoff(variant domain.FormVariant) {
	if m != nil {
		m.Handoffs.WithLabelValues(variant.String()).Inc()
	}
}

// IncrementResume records a resume outcome.
func (m *Metrics) IncrementResume(outcome string) {
	if m != nil {
		m.Resumes.WithLabelValues(outcome).Inc()
	}
}

// ObserveDeliveryLatency records the duration of one backend delivery.
func (m *Metrics) ObserveDeliveryLatency(d time.Duration) {
	if m != nil {
		m.DeliveryLatency.Observe(d.Seconds())
	}
}

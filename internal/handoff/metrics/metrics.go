package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the payload bridge.
type Metrics struct {
	// Envelopes stored, by envelope version
	Stored *prometheus.CounterVec

	// Retrieve outcomes: ok, absent, expired, tampered, replayed
	RetrieveOutcome *prometheus.CounterVec

	// Token validation outcomes: ok, mismatch, stale, absent
	TokenOutcome *prometheus.CounterVec

	// One-shot envelope consume latency
	ConsumeLatency prometheus.Histogram
}

// New creates a Metrics instance with all bridge metrics registered.
func New() *Metrics {
	return &Metrics{
		Stored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_bridge_envelopes_stored_total",
			Help: "Total envelopes stashed, by envelope version",
		}, []string{"version"}),

		RetrieveOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_bridge_retrieve_total",
			Help: "Total envelope retrieval attempts by outcome",
		}, []string{"outcome"}),

		TokenOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_bridge_token_validations_total",
			Help: "Total anti-replay token validation attempts by outcome",
		}, []string{"outcome"}),

		ConsumeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "formgate_bridge_consume_duration_seconds",
			Help:    "Duration of one-shot envelope consumption including decryption",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncrementStored records a stashed envelope.
func (m *Metrics) IncrementStored(version string) {
	if m != nil {
		m.Stored.WithLabelValues(version).Inc()
	}
}

// IncrementRetrieve records a retrieval outcome.
func (m *Metrics) IncrementRetrieve(outcome string) {
	if m != nil {
		m.RetrieveOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementToken records a token validation outcome.
func (m *Metrics) IncrementToken(outcome string) {
	if m != nil {
		m.TokenOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveConsumeLatency records the duration of an envelope consume.
func (m *Metrics) ObserveConsumeLatency(d time.Duration) {
	if m != nil {
		m.ConsumeLatency.Observe(d.Seconds())
	}
}

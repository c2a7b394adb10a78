// Package metrics provides the Prometheus collectors for the audio cache.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kanjivoice"

// Metrics holds every collector the service exports.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	pollAttempts     *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	resolveDuration  *prometheus.HistogramVec
	flightsActive    prometheus.Gauge
	coalescedWaiters prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache index lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Calls to the synthesis provider by operation and status",
			},
			[]string{"operation", "status"}, // submit|fetch, success|error
		),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Job status checks by observed outcome",
			},
			[]string{"outcome"}, // pending, ready, failed, unavailable, unknown
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Completed resolutions by outcome",
			},
			[]string{"outcome"}, // cached, synthesized, synthesis_failed, timed_out, storage_failed, cancelled
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Duration of submit, poll, fetch and store for one text",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		flightsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "synthesis_in_flight",
				Help:      "Number of texts currently being synthesized",
			},
		),
		coalescedWaiters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_requests_total",
				Help:      "Requests that joined an in-flight synthesis instead of submitting",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheLookups,
			m.providerCalls,
			m.pollAttempts,
			m.resolutions,
			m.resolveDuration,
			m.flightsActive,
			m.coalescedWaiters,
		)
	}

	return m
}

// CacheLookup records an index lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ProviderCall records a submit or fetch call.
func (m *Metrics) ProviderCall(operation string, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(operation, statusLabel(err)).Inc()
}

// PollAttempt records one status check.
func (m *Metrics) PollAttempt(outcome string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(outcome).Inc()
}

// Resolution records the end of a resolve call.
func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// SynthesisDuration records how long one flight took.
func (m *Metrics) SynthesisDuration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(outcome).Observe(seconds)
}

// FlightStarted and FlightFinished track the in-flight gauge.
func (m *Metrics) FlightStarted() {
	if m == nil {
		return
	}
	m.flightsActive.Inc()
}

func (m *Metrics) FlightFinished() {
	if m == nil {
		return
	}
	m.flightsActive.Dec()
}

// Coalesced records a caller that joined an existing flight.
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.coalescedWaiters.Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

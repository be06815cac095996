// Package prometheus provides Prometheus metrics for karma call pipelines.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "karma"

var (
	// callsActive is a gauge of currently active call sessions.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active call sessions",
		},
	)

	// callDuration is a histogram of total call duration in seconds.
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Histogram of total call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"transport", "reason"},
	)

	// turnsTotal is a counter of conversation turns recorded.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns recorded",
		},
		[]string{"role"},
	)

	// collaboratorDuration is a histogram of collaborator call duration.
	collaboratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_request_duration_seconds",
			Help:      "Duration of collaborator (STT/LLM/TTS/classifier) calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"collaborator", "provider"},
	)

	// collaboratorRequestsTotal is a counter of collaborator calls.
	collaboratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_requests_total",
			Help:      "Total number of collaborator calls",
		},
		[]string{"collaborator", "provider", "status"}, // status: success, error
	)

	// turnFailuresTotal is a counter of failed conversation turns.
	turnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Total number of conversation turns that hit the failure path",
		},
	)

	// utterancesTotal is a counter of segmented utterances by outcome.
	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of segmented utterances by outcome",
		},
		[]string{"outcome"}, // outcome: transcribed, empty, overflow
	)

	// intelItemsTotal is a counter of extracted intelligence items.
	intelItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intel_items_total",
			Help:      "Total number of extracted intelligence items",
		},
		[]string{"field"},
	)

	// classificationsTotal is a counter of voice classification verdicts.
	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of voice classification verdicts",
		},
		[]string{"label"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		callsActive,
		callDuration,
		turnsTotal,
		collaboratorDuration,
		collaboratorRequestsTotal,
		turnFailuresTotal,
		utterancesTotal,
		intelItemsTotal,
		classificationsTotal,
	}
)

// RecordCallStart records a call session start.
func RecordCallStart() {
	callsActive.Inc()
}

// RecordCallEnd records a call session teardown.
func RecordCallEnd(transport, reason string, durationSeconds float64) {
	callsActive.Dec()
	callDuration.WithLabelValues(transport, reason).Observe(durationSeconds)
}

// RecordTurn records a recorded conversation turn.
func RecordTurn(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// RecordCollaboratorRequest records a collaborator call.
func RecordCollaboratorRequest(collaborator, provider, status string, durationSeconds float64) {
	collaboratorDuration.WithLabelValues(collaborator, provider).Observe(durationSeconds)
	collaboratorRequestsTotal.WithLabelValues(collaborator, provider, status).Inc()
}

// RecordTurnFailure records a turn resolved through the failure path.
func RecordTurnFailure() {
	turnFailuresTotal.Inc()
}

// RecordUtterance records one segmented utterance outcome.
func RecordUtterance(outcome string) {
	utterancesTotal.WithLabelValues(outcome).Inc()
}

// RecordIntelItem records an extracted intelligence item.
func RecordIntelItem(field string) {
	intelItemsTotal.WithLabelValues(field).Inc()
}

// RecordClassification records a voice classification verdict.
func RecordClassification(label string) {
	classificationsTotal.WithLabelValues(label).Inc()
}

// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a call to the video generation service.
const (
	OutcomeSuccess        = "success"
	OutcomeTransportError = "transport_error"
	OutcomeLogicalFailure = "logical_failure"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// GenerationDuration tracks how long the video generation service takes to settle a request.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veo_generation_duration_seconds",
			Help:    "Video generation request duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		},
		[]string{"outcome"},
	)

	// GenerationsTotal tracks settled video generation requests.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veo_generations_total",
			Help: "Total video generation requests",
		},
		[]string{"outcome", "with_image"},
	)

	// SubmissionsSkipped tracks submits ignored because the draft was empty or a request was running.
	SubmissionsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veo_submissions_skipped_total",
			Help: "Submits ignored without reaching the generation service",
		},
	)

	// SessionsActive tracks open chat sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veo_sessions_active",
			Help: "Number of open chat sessions",
		},
	)

	// PreviewsStored tracks staged image previews not released yet.
	PreviewsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veo_previews_stored",
			Help: "Number of image previews held in the preview store",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route string, status int, duration float64) {
	RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration)
}

// RecordGeneration records metrics for a settled video generation request.
func RecordGeneration(outcome string, withImage bool, duration float64) {
	GenerationDuration.WithLabelValues(outcome).Observe(duration)
	GenerationsTotal.WithLabelValues(outcome, strconv.FormatBool(withImage)).Inc()
}

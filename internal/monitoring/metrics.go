package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"extract-main-content/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// tests and multiple servers never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// Extraction metrics
	Extractions     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StabilityWaits  *prometheus.HistogramVec
	SPADetections   *prometheus.CounterVec
	ManualSessions  prometheus.Gauge
	ManualOutcomes  *prometheus.CounterVec
	ExtractionTotal prometheus.Histogram

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// NewMetrics creates a metrics collector with a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_extractions_total",
				Help: "Pipeline invocations by winning method and status",
			},
			[]string{"method", "status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extract_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		StabilityWaits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extract_stability_wait_seconds",
				Help:    "Time spent waiting for the document to settle",
				Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 12, 20},
			},
			[]string{"stable"},
		),
		SPADetections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_spa_detections_total",
				Help: "Documents detected as single page applications by framework",
			},
			[]string{"framework"},
		),
		ManualSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "extract_manual_sessions_active",
				Help: "Manual selection sessions currently active",
			},
		),
		ManualOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_manual_sessions_total",
				Help: "Finished manual selection sessions by outcome",
			},
			[]string{"outcome"},
		),
		ExtractionTotal: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extract_pipeline_duration_seconds",
				Help:    "End to end pipeline duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extract_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "extract_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveExtraction records a finished pipeline call
func (m *Metrics) ObserveExtraction(method models.Method, success bool, d time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	if method == "" {
		method = "none"
	}
	m.Extractions.WithLabelValues(string(method), status).Inc()
	m.ExtractionTotal.Observe(d.Seconds())
}

// ObserveStage records one stage duration
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveSPA counts an SPA detection
func (m *Metrics) ObserveSPA(framework string) {
	if framework == "" {
		framework = "unknown"
	}
	m.SPADetections.WithLabelValues(framework).Inc()
}

// ObserveStabilityWait records how long a stability wait took
func (m *Metrics) ObserveStabilityWait(stable bool, d time.Duration) {
	m.StabilityWaits.WithLabelValues(strconv.FormatBool(stable)).Observe(d.Seconds())
}

// ManualSessionStarted increments the active session gauge
func (m *Metrics) ManualSessionStarted() {
	m.ManualSessions.Inc()
}

// ManualSessionEnded decrements the gauge and counts the outcome
func (m *Metrics) ManualSessionEnded(outcome string) {
	m.ManualSessions.Dec()
	m.ManualOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

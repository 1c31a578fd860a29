// Package metrics exposes pipeline telemetry in Prometheus format. All
// recording methods are no-ops on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	StageDuration       *prometheus.HistogramVec
	RequestsTotal       *prometheus.CounterVec
	AudioChunksTotal    prometheus.Counter
	SynthesisFailures   prometheus.Counter
	PageBypassTotal     prometheus.Counter
	MemoryStoreFailures prometheus.Counter
	OrchestratorsActive prometheus.Gauge
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicerag"
	}

	registry := prometheus.NewRegistry()

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline invocations by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	audioChunks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_chunks_total",
		Help:      "Audio chunks delivered to streaming callers",
	})

	synthFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_failures_total",
		Help:      "Sentences whose synthesis failed and were skipped",
	})

	pageBypass := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "page_bypass_total",
		Help:      "Requests answered by reading a page verbatim",
	})

	memoryFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memory_store_failures_total",
		Help:      "Exchanges that could not be stored as conversation memory",
	})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orchestrators_active",
		Help:      "Conversations with a live orchestrator",
	})

	registry.MustRegister(
		stageDuration,
		requestsTotal,
		audioChunks,
		synthFailures,
		pageBypass,
		memoryFailures,
		active,
	)

	return &Metrics{
		registry:            registry,
		StageDuration:       stageDuration,
		RequestsTotal:       requestsTotal,
		AudioChunksTotal:    audioChunks,
		SynthesisFailures:   synthFailures,
		PageBypassTotal:     pageBypass,
		MemoryStoreFailures: memoryFailures,
		OrchestratorsActive: active,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRequest counts one pipeline invocation. outcome is one of ok,
// cancelled or error.
func (m *Metrics) RecordRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordAudioChunk() {
	if m == nil {
		return
	}
	m.AudioChunksTotal.Inc()
}

func (m *Metrics) RecordSynthesisFailure() {
	if m == nil {
		return
	}
	m.SynthesisFailures.Inc()
}

func (m *Metrics) RecordPageBypass() {
	if m == nil {
		return
	}
	m.PageBypassTotal.Inc()
}

func (m *Metrics) RecordMemoryStoreFailure() {
	if m == nil {
		return
	}
	m.MemoryStoreFailures.Inc()
}

func (m *Metrics) SetOrchestrators(n int) {
	if m == nil {
		return
	}
	m.OrchestratorsActive.Set(float64(n))
}

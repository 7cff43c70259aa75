// Package metrics exposes the converter's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	conversions        *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	llmRequests        *prometheus.CounterVec
	ocrPages           *prometheus.CounterVec
}

// New builds a Metrics value on its own registry so tests and multiple servers
// in one process do not collide on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fec_conversions_total",
			Help: "Invoice conversions by mode and final status.",
		}, []string{"mode", "status"}),
		conversionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fec_conversion_duration_seconds",
			Help:    "Wall time of a full conversion.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"mode"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fec_llm_requests_total",
			Help: "Calls made to the LLM provider by kind and outcome.",
		}, []string{"kind", "status"}),
		ocrPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fec_ocr_pages_total",
			Help: "PDF pages read, by extraction method.",
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		m.conversions,
		m.conversionDuration,
		m.llmRequests,
		m.ocrPages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RecordConversion(mode string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(mode, outcome(success)).Inc()
	m.conversionDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordLLMRequest(kind string, success bool) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(kind, outcome(success)).Inc()
}

func (m *Metrics) RecordOCRPages(method string, pages int) {
	if m == nil || pages <= 0 {
		return
	}
	m.ocrPages.WithLabelValues(method).Add(float64(pages))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce    sync.Once
	defaultMetrics *Metrics
)

// Metrics holds Prometheus metrics for the extraction service. All recorders
// are no-ops on a nil receiver so components can run without metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	Recognitions    *prometheus.CounterVec
	RecognitionTime prometheus.Histogram
	EngineReady     prometheus.Gauge
	JobsProcessed   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ocr",
			Name:      "request_seconds",
			Help:      "Latency of HTTP requests by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		Recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "recognitions_total",
			Help:      "Recognition engine calls by result.",
		}, []string{"result"}),
		RecognitionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ocr",
			Name:      "recognition_seconds",
			Help:      "Time spent inside the recognition engine.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EngineReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ocr",
			Name:      "engine_ready",
			Help:      "1 when the recognition engine initialized successfully.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocr",
			Name:      "jobs_processed_total",
			Help:      "Asynchronous extraction jobs by final status.",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.RequestLatency, m.Recognitions, m.RecognitionTime, m.EngineReady, m.JobsProcessed)
	return m
}

// Default returns the process-wide metrics, including Go runtime and process collectors.
func Default() *Metrics {
	metricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defaultMetrics = NewMetrics(reg)
	})
	return defaultMetrics
}

// Handler serves the exposition format for this metrics set.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(endpoint, outcome).Inc()
	m.RequestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) ObserveRecognition(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Recognitions.WithLabelValues(result).Inc()
	m.RecognitionTime.Observe(d.Seconds())
}

func (m *Metrics) SetEngineReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.EngineReady.Set(1)
		return
	}
	m.EngineReady.Set(0)
}

func (m *Metrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(status).Inc()
}

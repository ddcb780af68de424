package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	validation    *prometheus.CounterVec
	chunkRetries  prometheus.Counter
	chunkFailures *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	running       prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trailimport",
			Name:      "records_total",
			Help:      "Trail records handled by the batch writer, by source and outcome.",
		}, []string{"source", "outcome"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trailimport",
			Name:      "validation_failures_total",
			Help:      "Records rejected by validation, by source.",
		}, []string{"source"}),
		chunkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trailimport",
			Name:      "chunk_retries_total",
			Help:      "Chunk upserts retried after a transient failure.",
		}),
		chunkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trailimport",
			Name:      "chunk_failures_total",
			Help:      "Chunks that failed after retries, by error class.",
		}, []string{"class"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trailimport",
			Name:      "phase_duration_seconds",
			Help:      "Orchestrator phase duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"phase", "success"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trailimport",
			Name:      "runs_total",
			Help:      "Finished import runs by final status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trailimport",
			Name:      "run_in_progress",
			Help:      "1 while an import run holds the run token.",
		}),
	}

	m.registry.MustRegister(
		m.records,
		m.validation,
		m.chunkRetries,
		m.chunkFailures,
		m.phaseDuration,
		m.runs,
		m.running,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeChunk(source string, res BatchResult, failed int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(source, "processed").Add(float64(res.Inserted + res.Updated + failed))
	m.records.WithLabelValues(source, "added").Add(float64(res.Inserted))
	m.records.WithLabelValues(source, "updated").Add(float64(res.Updated))
	m.records.WithLabelValues(source, "failed").Add(float64(failed))
}

func (m *Metrics) observeValidation(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.validation.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.chunkRetries.Inc()
}

func (m *Metrics) observeChunkFailure(class string) {
	if m == nil {
		return
	}
	m.chunkFailures.WithLabelValues(class).Inc()
}

func (m *Metrics) observePhase(phase string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.phaseDuration.WithLabelValues(phase, label).Observe(d.Seconds())
}

func (m *Metrics) observeRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) setRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

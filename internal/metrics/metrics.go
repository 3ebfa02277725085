// Package metrics provides Prometheus metrics for mediagrab.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/datallboy/mediagrab/internal/netclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediagrab"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Network client
	FetchAttempts *prometheus.CounterVec

	// Stream processing
	Segments *prometheus.CounterVec
	Variants *prometheus.CounterVec

	// Executor
	Batches *prometheus.CounterVec

	// Jobs
	Jobs         *prometheus.CounterVec
	BytesWritten prometheus.Counter
	JobDuration  prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Classified network round trips",
			},
			[]string{"outcome", "status"},
		),
		Segments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Stream segments by result",
			},
			[]string{"result"},
		),
		Variants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variants_total",
				Help:      "Stream variants by result",
			},
			[]string{"result"},
		),
		Batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Executor batches drained",
			},
			[]string{"kind"},
		),
		Jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Finished jobs by final status",
			},
			[]string{"status"},
		),
		BytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Payload bytes written to disk",
			},
		),
		JobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time per job",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves this registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt satisfies netclient.Observer.
func (m *Metrics) ObserveAttempt(outcome netclient.Outcome, status int) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.FetchAttempts.WithLabelValues(outcome.String(), code).Inc()
}

// ObserveSegment satisfies hls.Observer.
func (m *Metrics) ObserveSegment(result string) {
	m.Segments.WithLabelValues(result).Inc()
}

// ObserveVariant satisfies hls.Observer.
func (m *Metrics) ObserveVariant(result string) {
	m.Variants.WithLabelValues(result).Inc()
}

// ObserveBatch satisfies hls.Observer.
func (m *Metrics) ObserveBatch(kind string) {
	m.Batches.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddBytes(n uint64) {
	m.BytesWritten.Add(float64(n))
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(status string, seconds float64) {
	m.Jobs.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

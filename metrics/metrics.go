// Package metrics exposes the Prometheus instrumentation for the
// clustering pipeline. All collectors live on a private registry so the
// scrape surface carries only pipeline series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result classifies the terminal outcome of one job.
type Result string

const (
	ResultSuccess    Result = "success"
	ResultInvalid    Result = "invalid"
	ResultSkipped    Result = "skipped"
	ResultRetry      Result = "retry"
	ResultDeadLetter Result = "dead_letter"
	ResultFailure    Result = "failure"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed *prometheus.CounterVec
	jobSeconds    prometheus.Histogram
	pendingJobs   prometheus.Gauge
	streamLag     prometheus.Gauge
}

// New builds the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.jobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sploot",
		Subsystem: "media_clustering",
		Name:      "jobs_processed_total",
		Help:      "Clustering jobs handled, partitioned by terminal result.",
	}, []string{"result"})

	m.jobSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sploot",
		Subsystem: "media_clustering",
		Name:      "job_processing_seconds",
		Help:      "Wall-clock duration of one clustering job.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	m.pendingJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sploot",
		Subsystem: "media_clustering",
		Name:      "pending_jobs",
		Help:      "Entries delivered to the consumer group but not yet acknowledged.",
	})

	m.streamLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sploot",
		Subsystem: "media_clustering",
		Name:      "stream_lag_seconds",
		Help:      "Age of the oldest pending entry in the consumer group.",
	})

	m.registry.MustRegister(m.jobsProcessed, m.jobSeconds, m.pendingJobs, m.streamLag)
	return m
}

// RecordJob counts one finished job and observes its duration.
func (m *Metrics) RecordJob(result Result, elapsed time.Duration) {
	m.jobsProcessed.WithLabelValues(string(result)).Inc()
	m.jobSeconds.Observe(elapsed.Seconds())
}

// SetPending updates the pending-entries gauge.
func (m *Metrics) SetPending(count int64) {
	m.pendingJobs.Set(float64(count))
}

// SetStreamLag updates the oldest-pending-age gauge.
func (m *Metrics) SetStreamLag(age time.Duration) {
	m.streamLag.Set(age.Seconds())
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics provides Prometheus metrics for the enrichment pipeline.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains the metrics of the upload pipeline: catalog
// requests, worker jobs, the job queue and accepted uploads.
type PipelineMetrics struct {
	CatalogRequests        *prometheus.CounterVec
	CatalogRequestDuration *prometheus.HistogramVec

	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	UploadsAccepted prometheus.Counter
	QueueDepth      prometheus.GaugeFunc

	queueDepth atomic.Pointer[func() int]
	registry   *prometheus.Registry
}

// NewPipelineMetrics creates the pipeline metrics and registers them.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.CatalogRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Catalog chunk requests partitioned by endpoint and outcome (ok, not_found, error).",
		},
		[]string{"endpoint", "outcome"},
	)
	m.CatalogRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Time taken by one catalog chunk request.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"endpoint"},
	)

	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Upload jobs handled by the worker partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_job_duration_seconds",
			Help:    "Time from dequeue to the final status of an upload job.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"outcome"},
	)

	m.UploadsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uploads_accepted_total",
			Help: "CSV uploads stored and queued for processing.",
		},
	)
	m.QueueDepth = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Jobs waiting in the in-memory queue.",
		},
		func() float64 {
			if fn := m.queueDepth.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	)
}

// ObserveCatalogRequest records one catalog chunk request.
func (m *PipelineMetrics) ObserveCatalogRequest(endpoint, outcome string, d time.Duration) {
	m.CatalogRequests.WithLabelValues(endpoint, outcome).Inc()
	m.CatalogRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveJob records how a worker job ended.
func (m *PipelineMetrics) ObserveJob(outcome string, d time.Duration) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// UploadAccepted counts an upload handed to the queue.
func (m *PipelineMetrics) UploadAccepted() {
	m.UploadsAccepted.Inc()
}

// TrackQueueDepth makes the queue depth gauge read from fn.
func (m *PipelineMetrics) TrackQueueDepth(fn func() int) {
	m.queueDepth.Store(&fn)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CatalogRequests.Describe(ch)
	m.CatalogRequestDuration.Describe(ch)
	m.JobsTotal.Describe(ch)
	m.JobDuration.Describe(ch)
	m.UploadsAccepted.Describe(ch)
	m.QueueDepth.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CatalogRequests.Collect(ch)
	m.CatalogRequestDuration.Collect(ch)
	m.JobsTotal.Collect(ch)
	m.JobDuration.Collect(ch)
	m.UploadsAccepted.Collect(ch)
	m.QueueDepth.Collect(ch)
}

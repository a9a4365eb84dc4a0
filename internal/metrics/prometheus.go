// Package metrics exposes Prometheus instruments for the recorder client and
// the job backend. All Record methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkscribe"

type Metrics struct {
	// Recording
	ChunksProduced prometheus.Counter
	ChunkDuration  prometheus.Histogram
	RecorderErrors prometheus.Counter

	// Upload/poll orchestration
	Uploads       *prometheus.CounterVec
	PollTicks     prometheus.Counter
	JobOutcomes   *prometheus.CounterVec
	ActivePollers prometheus.Gauge
	JobTurnaround prometheus.Histogram

	// Job backend
	JobsEnqueued    *prometheus.CounterVec
	JobsProcessed   *prometheus.CounterVec
	JobProcessTime  *prometheus.HistogramVec
	WorkerQueueSize prometheus.Gauge
}

// New registers every instrument with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_produced_total",
			Help:      "Total number of recording chunks produced",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Duration of produced recording chunks",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RecorderErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_errors_total",
			Help:      "Total number of capture errors that ended a recording",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_uploads_total",
			Help:      "Chunk submissions to the job API by result",
		}, []string{"result"}),
		PollTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_poll_ticks_total",
			Help:      "Total number of result lookups",
		}),
		JobOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_job_outcomes_total",
			Help:      "Terminal chunk job states",
		}, []string{"status"}),
		ActivePollers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_active_pollers",
			Help:      "Current number of live poll loops",
		}),
		JobTurnaround: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_job_turnaround_seconds",
			Help:      "Time from submission to a terminal job state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_jobs_enqueued_total",
			Help:      "Jobs accepted by the backend by kind",
		}, []string{"kind"}),
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_jobs_processed_total",
			Help:      "Jobs finished by the backend by kind and status",
		}, []string{"kind", "status"}),
		JobProcessTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_job_duration_seconds",
			Help:      "Time spent processing a backend job",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"kind"}),
		WorkerQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_queue_size",
			Help:      "Jobs waiting for a worker",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.ChunksProduced.Inc()
	m.ChunkDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordRecorderError() {
	if m == nil {
		return
	}
	m.RecorderErrors.Inc()
}

// RecordUpload counts a submission; result is "accepted" or "failed".
func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPoll() {
	if m == nil {
		return
	}
	m.PollTicks.Inc()
}

func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.ActivePollers.Inc()
}

func (m *Metrics) PollerStopped() {
	if m == nil {
		return
	}
	m.ActivePollers.Dec()
}

func (m *Metrics) RecordOutcome(status string, since time.Time) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(status).Inc()
	if !since.IsZero() {
		m.JobTurnaround.Observe(time.Since(since).Seconds())
	}
}

func (m *Metrics) RecordEnqueued(kind string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordProcessed(kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(kind, status).Inc()
	m.JobProcessTime.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.WorkerQueueSize.Set(float64(n))
}

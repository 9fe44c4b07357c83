// Package observability exposes report run metrics through Prometheus and
// writes run spans as JSON lines.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reportsdb"

// Recorder owns a private registry so tests and batch runs never collide with
// the process default registry.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rows        *prometheus.GaugeVec
	bytes       *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	now         func() time.Time
}

// NewRecorder registers the report collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_runs_total",
			Help:      "Report runs by outcome.",
		}, []string{"report", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Wall time spent generating a report.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"report"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_rows",
			Help:      "Data rows written by the last successful run.",
		}, []string{"report"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_bytes",
			Help:      "Bytes written across formats by the last successful run.",
		}, []string{"report"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"report"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_jobs_total",
			Help:      "Dispatched jobs by outcome.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_job_duration_seconds",
			Help:      "Wall time of dispatched jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 4, 8),
		}, []string{"job"}),
		now: time.Now,
	}
	r.registry.MustRegister(r.runs, r.duration, r.rows, r.bytes, r.lastSuccess, r.jobs, r.jobDuration)
	return r
}

// ObserveRun records one report run. Row and byte gauges only move on success.
func (r *Recorder) ObserveRun(report, status string, elapsed time.Duration, rows int, bytes int64) {
	if r == nil || report == "" {
		return
	}
	r.runs.WithLabelValues(report, status).Inc()
	r.duration.WithLabelValues(report).Observe(elapsed.Seconds())
	if status != "succeeded" {
		return
	}
	r.rows.WithLabelValues(report).Set(float64(rows))
	r.bytes.WithLabelValues(report).Set(float64(bytes))
	r.lastSuccess.WithLabelValues(report).Set(float64(r.now().Unix()))
}

// ObserveJob records one dispatched job.
func (r *Recorder) ObserveJob(job, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

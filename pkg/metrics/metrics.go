// Package metrics exposes Prometheus metrics for sync runs.
//
//	rec := metrics.NewRecorder("orders", "postgresql")
//	rec.RowsRead(1)
//	rec.Flushed(512, time.Since(start))
//	rec.RunFinished("success", time.Since(runStart))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dbsync"

var (
	rowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "rows_read_total",
			Help:      "Rows streamed from the source query",
		},
		[]string{"job"},
	)

	rowsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "rows_applied_total",
			Help:      "Rows sent to the target in successful upsert statements",
		},
		[]string{"job", "dialect"},
	)

	statements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "statements_total",
			Help:      "Upsert statements executed against the target",
		},
		[]string{"job", "dialect", "status"},
	)

	flushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "flush_duration_seconds",
			Help:      "Time spent executing one upsert statement",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job", "dialect"},
	)

	batchRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "batch_rows",
			Help:      "Rows per upsert statement",
			Buckets:   []float64{1, 10, 50, 100, 256, 512, 1024, 4096},
		},
		[]string{"job", "dialect"},
	)

	serializationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serializer",
			Name:      "fallbacks_total",
			Help:      "Cells written as NULL because their value type is not supported",
		},
		[]string{"job", "value_type"},
	)

	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Completed job runs by outcome",
		},
		[]string{"job", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a job run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"job"},
	)

	lastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		},
		[]string{"job"},
	)
)

// Recorder records metrics for one job against one target dialect.
type Recorder struct {
	job     string
	dialect string
}

// NewRecorder creates a recorder labelled with job and target dialect.
func NewRecorder(job, dialect string) *Recorder {
	return &Recorder{job: job, dialect: dialect}
}

// RowsRead counts rows streamed from the source.
func (r *Recorder) RowsRead(n int) {
	rowsRead.WithLabelValues(r.job).Add(float64(n))
}

// Flushed records a successful upsert of rows.
func (r *Recorder) Flushed(rows int, d time.Duration) {
	rowsApplied.WithLabelValues(r.job, r.dialect).Add(float64(rows))
	statements.WithLabelValues(r.job, r.dialect, "success").Inc()
	flushDuration.WithLabelValues(r.job, r.dialect).Observe(d.Seconds())
	batchRows.WithLabelValues(r.job, r.dialect).Observe(float64(rows))
}

// FlushFailed records a failed upsert statement.
func (r *Recorder) FlushFailed(d time.Duration) {
	statements.WithLabelValues(r.job, r.dialect, "error").Inc()
	flushDuration.WithLabelValues(r.job, r.dialect).Observe(d.Seconds())
}

// SerializationFallback counts a cell of valueType written as NULL.
func (r *Recorder) SerializationFallback(valueType string) {
	serializationFallbacks.WithLabelValues(r.job, valueType).Inc()
}

// RunFinished records the outcome of a run.
func (r *Recorder) RunFinished(status string, d time.Duration) {
	runs.WithLabelValues(r.job, status).Inc()
	runDuration.WithLabelValues(r.job).Observe(d.Seconds())
	if status == "success" {
		lastSuccess.WithLabelValues(r.job).SetToCurrentTime()
	}
}

// Timer measures elapsed time of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

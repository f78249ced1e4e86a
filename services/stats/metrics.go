package stats

import (
	"github.com/gf2influx/gf2influx/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gf2influx"

// Metrics holds every collector updated by the pipeline.
// All collectors are safe for concurrent use.
type Metrics struct {
	LinesRead     prometheus.Counter
	BytesRead     prometheus.Counter
	FileRotations *prometheus.CounterVec

	Batches        prometheus.Counter
	BatchLines     prometheus.Histogram
	DuplicateLines prometheus.Counter
	IdleWindows    prometheus.Counter
	BatchesDropped prometheus.Counter
	QueueDepth     prometheus.Gauge
	InFlight       prometheus.Gauge

	LinesSkipped     *prometheus.CounterVec
	PointsParsed     prometheus.Counter
	PointsWritten    prometheus.Counter
	PointsDropped    prometheus.Counter
	WriteAttempts    prometheus.Counter
	PartitionsFailed prometheus.Counter
	WriteDuration    prometheus.Histogram
	PipelineDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them, together with the
// process and Go runtime collectors, on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "lines_total",
			Help:      "Lines read from the followed file.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "bytes_total",
			Help:      "Bytes read from the followed file.",
		}),
		FileRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "rotations_total",
			Help:      "Times the followed file was truncated or replaced.",
		}, []string{"kind"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batches_total",
			Help:      "Batches flushed by the batcher.",
		}),
		BatchLines: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batch_lines",
			Help:      "Number of lines per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		DuplicateLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "duplicate_lines_total",
			Help:      "Exact duplicate lines dropped within a batch window.",
		}),
		IdleWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "idle_windows_total",
			Help:      "Batch windows that elapsed without any line.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "batches_dropped_total",
			Help:      "Queued batches dropped because the queue stayed full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_length",
			Help:      "Batches waiting for a worker.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "in_flight",
			Help:      "Batches currently being processed.",
		}),
		LinesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "lines_skipped_total",
			Help:      "Lines that produced no point, by reason.",
		}, []string{"reason"}),
		PointsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "points_total",
			Help:      "Points produced by the parser.",
		}),
		PointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "points_written_total",
			Help:      "Points accepted by InfluxDB.",
		}),
		PointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "points_dropped_total",
			Help:      "Points dropped after exhausting write attempts.",
		}),
		WriteAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "attempts_total",
			Help:      "Write calls made to InfluxDB.",
		}),
		PartitionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "partitions_failed_total",
			Help:      "Partitions dropped after exhausting write attempts.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "write_duration_seconds",
			Help:      "Time to deliver one partition, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "pipeline_duration_seconds",
			Help:      "Time to parse, partition and write one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
	for _, reason := range flow.Reasons {
		m.LinesSkipped.WithLabelValues(string(reason))
	}
	for _, kind := range []string{"truncated", "recreated"} {
		m.FileRotations.WithLabelValues(kind)
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.LinesRead,
		m.BytesRead,
		m.FileRotations,
		m.Batches,
		m.BatchLines,
		m.DuplicateLines,
		m.IdleWindows,
		m.BatchesDropped,
		m.QueueDepth,
		m.InFlight,
		m.LinesSkipped,
		m.PointsParsed,
		m.PointsWritten,
		m.PointsDropped,
		m.WriteAttempts,
		m.PartitionsFailed,
		m.WriteDuration,
		m.PipelineDuration,
	)
	return m
}

// NewLocalMetrics returns collectors registered on a private registry, for
// components running without the stats service.
func NewLocalMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

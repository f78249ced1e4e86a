package ingest

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/gf2influx/gf2influx/influxdb"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/pkg/errors"
)

// PointsWriter delivers points to the sink in a single call.
type PointsWriter interface {
	WritePoints(points []influxdb.Point) error
}

type WriterDiagnostic interface {
	WriteAttemptFailed(batchID uint64, key string, attempt int, err error, next time.Duration)
	PartitionWritten(batchID uint64, key string, points, attempts int, elapsed time.Duration)
	PartitionWriteFailed(batchID uint64, key string, points, attempts int, err error)
}

// Writer delivers partitions with a bounded number of attempts separated by a
// fixed delay. It is safe for concurrent use when its PointsWriter is.
type Writer struct {
	pw       PointsWriter
	attempts int
	delay    time.Duration
	diag     WriterDiagnostic
	metrics  *stats.Metrics
	clock    clock.Clock
}

func NewWriter(pw PointsWriter, attempts int, delay time.Duration, d WriterDiagnostic, m *stats.Metrics, clk clock.Clock) *Writer {
	if attempts < 1 {
		attempts = 1
	}
	return &Writer{
		pw:       pw,
		attempts: attempts,
		delay:    delay,
		diag:     d,
		metrics:  m,
		clock:    clk,
	}
}

// Write delivers one partition. Every failure is retried until the attempts
// are exhausted; the returned error means the partition was dropped.
func (w *Writer) Write(batchID uint64, p models.Partition) error {
	points := make([]influxdb.Point, len(p.Points))
	for i, pt := range p.Points {
		points[i] = influxdb.Point{
			Name:   pt.Measurement,
			Tags:   pt.Tags,
			Fields: pt.Fields,
			Time:   pt.PointTime(),
		}
	}

	attempts := 0
	write := func() error {
		attempts++
		w.metrics.WriteAttempts.Inc()
		return w.pw.WritePoints(points)
	}
	notify := func(err error, next time.Duration) {
		w.diag.WriteAttemptFailed(batchID, p.Key, attempts, err, next)
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(w.delay), uint64(w.attempts-1))

	start := w.clock.Now()
	err := backoff.RetryNotify(write, b, notify)
	elapsed := w.clock.Since(start)
	w.metrics.WriteDuration.Observe(elapsed.Seconds())

	if err != nil {
		w.metrics.PartitionsFailed.Inc()
		w.metrics.PointsDropped.Add(float64(p.Len()))
		w.diag.PartitionWriteFailed(batchID, p.Key, p.Len(), attempts, err)
		return errors.Wrapf(err, "dropped partition %s of batch %d after %d attempts", p.Key, batchID, attempts)
	}
	w.metrics.PointsWritten.Add(float64(p.Len()))
	w.diag.PartitionWritten(batchID, p.Key, p.Len(), attempts, elapsed)
	return nil
}

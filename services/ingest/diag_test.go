package ingest

import (
	"sync"
	"time"

	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/influxdb"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/models"
)

type writeFailure struct {
	BatchID  uint64
	Key      string
	Points   int
	Attempts int
}

type testDiag struct {
	mu         sync.Mutex
	idle       []int
	resumed    []time.Duration
	flushed    []string
	skipped    []flow.Reason
	retries    int
	written    []string
	failures   []writeFailure
	dropped    []uint64
	summaries  []PipelineSummary
	abandoned  []uint64
	errs       []error
	dropValues int
}

func (d *testDiag) Error(msg string, err error, ctx ...keyvalue.T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *testDiag) DroppedValue(measurement, key, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropValues++
}

func (d *testDiag) IdleWindow(window time.Duration, idle int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = append(d.idle, idle)
}

func (d *testDiag) Resumed(idleFor time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumed = append(d.resumed, idleFor)
}

func (d *testDiag) BatchFlushed(b models.Batch, trigger string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed = append(d.flushed, trigger)
}

func (d *testDiag) SkippedLine(batchID uint64, err *flow.SkipError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skipped = append(d.skipped, err.Reason)
}

func (d *testDiag) WriteAttemptFailed(uint64, string, int, error, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retries++
}

func (d *testDiag) PartitionWritten(batchID uint64, key string, points, attempts int, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, key)
}

func (d *testDiag) PartitionWriteFailed(batchID uint64, key string, points, attempts int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, writeFailure{batchID, key, points, attempts})
}

func (d *testDiag) BatchDropped(batchID uint64, lines int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, batchID)
}

func (d *testDiag) PipelineFinished(s PipelineSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.summaries = append(d.summaries, s)
}

func (d *testDiag) AbandonedPipeline(t TaskHandle, running time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abandoned = append(d.abandoned, t.BatchID)
}

func (d *testDiag) summaryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.summaries)
}

// pointsWriter records written points and fails the first failures calls.
type pointsWriter struct {
	mu       sync.Mutex
	calls    int
	failures int
	points   []influxdb.Point
	err      error
	panics   bool
}

func (w *pointsWriter) WritePoints(points []influxdb.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.panics {
		panic("sink exploded")
	}
	if w.calls <= w.failures {
		return w.err
	}
	w.points = append(w.points, points...)
	return nil
}

func (w *pointsWriter) written() []influxdb.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]influxdb.Point(nil), w.points...)
}

func (w *pointsWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

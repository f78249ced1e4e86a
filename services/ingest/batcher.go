package ingest

import (
	"bytes"
	"time"

	"github.com/cespare/xxhash"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
)

// Flush triggers reported with every batch.
const (
	TriggerSize     = "size"
	TriggerInterval = "interval"
	TriggerShutdown = "shutdown"
)

type BatcherDiagnostic interface {
	// IdleWindow reports an elapsed window without lines; idle counts the
	// consecutive idle windows so far, starting at 1.
	IdleWindow(window time.Duration, idle int)
	// Resumed reports the first line after one or more idle windows.
	Resumed(idleFor time.Duration)
	BatchFlushed(b models.Batch, trigger string)
}

// Batcher accumulates lines and releases them as batches once the flush
// interval elapsed or the line ceiling is reached.
// It is not safe for concurrent use; the accumulation loop owns it.
type Batcher struct {
	interval time.Duration
	max      int
	diag     BatcherDiagnostic
	metrics  *stats.Metrics

	lastID     uint64
	opened     time.Time
	lines      [][]byte
	index      map[uint64][]int
	duplicates int

	idle      int
	idleSince time.Time
}

func NewBatcher(interval time.Duration, max int, now time.Time, d BatcherDiagnostic, m *stats.Metrics) *Batcher {
	b := &Batcher{
		interval: interval,
		max:      max,
		diag:     d,
		metrics:  m,
	}
	b.reset(now)
	return b
}

// Add accumulates line and returns a batch when a flush is due.
// Exact duplicates of a line already in the window are dropped.
func (b *Batcher) Add(line []byte, now time.Time) (models.Batch, bool) {
	if b.idle > 0 {
		b.diag.Resumed(now.Sub(b.idleSince))
		b.idle = 0
	}
	if !b.duplicate(line) {
		b.lines = append(b.lines, line)
	}
	if len(b.lines) >= b.max {
		return b.flush(now, TriggerSize), true
	}
	if now.Sub(b.opened) >= b.interval {
		return b.flush(now, TriggerInterval), true
	}
	return models.Batch{}, false
}

// Tick returns a batch when the flush interval elapsed. An elapsed window
// without lines is reported as idle and restarts the timer.
func (b *Batcher) Tick(now time.Time) (models.Batch, bool) {
	elapsed := now.Sub(b.opened)
	if elapsed < b.interval {
		return models.Batch{}, false
	}
	if len(b.lines) == 0 {
		if b.idle == 0 {
			b.idleSince = b.opened
		}
		b.idle++
		b.metrics.IdleWindows.Inc()
		b.diag.IdleWindow(elapsed, b.idle)
		b.reset(now)
		return models.Batch{}, false
	}
	return b.flush(now, TriggerInterval), true
}

// Flush releases whatever has been accumulated.
func (b *Batcher) Flush(now time.Time) (models.Batch, bool) {
	if len(b.lines) == 0 {
		return models.Batch{}, false
	}
	return b.flush(now, TriggerShutdown), true
}

func (b *Batcher) duplicate(line []byte) bool {
	h := xxhash.Sum64(line)
	for _, i := range b.index[h] {
		if bytes.Equal(b.lines[i], line) {
			b.duplicates++
			return true
		}
	}
	b.index[h] = append(b.index[h], len(b.lines))
	return false
}

func (b *Batcher) flush(now time.Time, trigger string) models.Batch {
	b.lastID++
	batch := models.Batch{
		ID:         b.lastID,
		Lines:      b.lines,
		Duplicates: b.duplicates,
		Opened:     b.opened,
		Flushed:    now,
	}
	b.reset(now)

	b.metrics.Batches.Inc()
	b.metrics.BatchLines.Observe(float64(batch.Len()))
	b.metrics.DuplicateLines.Add(float64(batch.Duplicates))
	b.diag.BatchFlushed(batch, trigger)
	return batch
}

func (b *Batcher) reset(now time.Time) {
	b.opened = now
	b.lines = make([][]byte, 0, b.max)
	b.index = make(map[uint64][]int, b.max)
	b.duplicates = 0
}

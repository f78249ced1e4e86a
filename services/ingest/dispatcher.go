package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/pkg/errors"
)

// ErrDispatcherClosed is returned when dispatching after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Runner processes one batch to completion.
type Runner interface {
	Run(b models.Batch) PipelineSummary
}

type DispatcherDiagnostic interface {
	BatchDropped(batchID uint64, lines int)
	AbandonedPipeline(t TaskHandle, running time.Duration)
}

// Dispatcher runs batches on a fixed set of workers fed by a bounded queue.
// When the queue stays full for longer than the enqueue timeout the oldest
// queued batch is dropped to make room.
type Dispatcher struct {
	runner          Runner
	workers         int
	enqueueTimeout  time.Duration
	shutdownTimeout time.Duration
	registry        *Registry
	diag            DispatcherDiagnostic
	metrics         *stats.Metrics
	clock           clock.Clock

	mu        sync.RWMutex
	closed    bool
	queue     chan models.Batch
	abandoned int32
	wg        sync.WaitGroup
}

func NewDispatcher(c Config, r Runner, d DispatcherDiagnostic, m *stats.Metrics, clk clock.Clock) *Dispatcher {
	return &Dispatcher{
		runner:          r,
		workers:         c.Workers,
		enqueueTimeout:  time.Duration(c.EnqueueTimeout),
		shutdownTimeout: time.Duration(c.ShutdownTimeout),
		registry:        NewRegistry(),
		diag:            d,
		metrics:         m,
		clock:           clk,
		queue:           make(chan models.Batch, c.QueueSize),
	}
}

func (d *Dispatcher) Open() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Dispatch queues b. It blocks at most for the enqueue timeout.
// Dispatch must not be called concurrently.
func (d *Dispatcher) Dispatch(b models.Batch) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	defer d.updateQueueDepth()

	select {
	case d.queue <- b:
		return nil
	default:
	}

	if d.enqueueTimeout > 0 {
		timer := d.clock.Timer(d.enqueueTimeout)
		defer timer.Stop()
		select {
		case d.queue <- b:
			return nil
		case <-timer.C:
		}
	}

	for {
		select {
		case old := <-d.queue:
			d.metrics.BatchesDropped.Inc()
			d.diag.BatchDropped(old.ID, old.Len())
		default:
		}
		select {
		case d.queue <- b:
			return nil
		default:
		}
	}
}

// InFlight returns the batches currently being processed.
func (d *Dispatcher) InFlight() []TaskHandle {
	return d.registry.Running()
}

// Queued returns the number of batches waiting for a worker.
func (d *Dispatcher) Queued() int {
	return len(d.queue)
}

// Close stops intake and waits for the queued and running batches for at most
// the shutdown timeout. Whatever has not completed by then is abandoned.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := d.clock.Timer(d.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	atomic.StoreInt32(&d.abandoned, 1)
	now := d.clock.Now()
	for _, h := range d.registry.Running() {
		d.diag.AbandonedPipeline(h, now.Sub(h.Started))
	}
	return errors.Errorf("abandoned %d running batches after %v", d.registry.Len(), d.shutdownTimeout)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for b := range d.queue {
		d.updateQueueDepth()
		if atomic.LoadInt32(&d.abandoned) == 1 {
			d.diag.AbandonedPipeline(TaskHandle{BatchID: b.ID, Lines: b.Len()}, 0)
			continue
		}
		h := d.registry.Start(b, d.clock.Now())
		d.metrics.InFlight.Inc()
		d.runner.Run(b)
		d.metrics.InFlight.Dec()
		d.registry.Finish(h)
	}
}

func (d *Dispatcher) updateQueueDepth() {
	d.metrics.QueueDepth.Set(float64(len(d.queue)))
}

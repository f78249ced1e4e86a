// Package ingest turns the followed lines into batches and delivers them to
// InfluxDB.
//
// One accumulation loop owns the Batcher. Released batches are handed to a
// Dispatcher whose workers parse, partition by sampler and write every
// partition concurrently with bounded retries.
package ingest

import (
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	flow.Diagnostic
	BatcherDiagnostic
	WriterDiagnostic
	PipelineDiagnostic
	DispatcherDiagnostic
}

// Source is a live stream of lines.
type Source interface {
	Lines() <-chan []byte
	// Ready reports whether a line can be received without blocking.
	Ready() bool
}

type Service struct {
	config Config
	diag   Diagnostic

	batcher    *Batcher
	dispatcher *Dispatcher

	closing chan struct{}
	wg      sync.WaitGroup

	Source       Source
	PointsWriter PointsWriter
	Clock        clock.Clock
	Metrics      *stats.Metrics
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		config:  c,
		diag:    d,
		Clock:   clock.New(),
		Metrics: stats.NewLocalMetrics(),
	}
}

func (s *Service) Open() error {
	if s.Source == nil {
		return errors.New("ingest service requires a line source")
	}
	if s.PointsWriter == nil {
		return errors.New("ingest service requires a points writer")
	}
	if s.closing != nil {
		return errors.New("service already open")
	}

	parser := flow.NewParser(s.config.Tags, s.config.Fields, s.diag)
	writer := NewWriter(s.PointsWriter, s.config.WriteAttempts, time.Duration(s.config.RetryDelay), s.diag, s.Metrics, s.Clock)
	pipeline := NewPipeline(parser, s.config.PartitionTag, writer, s.diag, s.Metrics, s.Clock)
	s.dispatcher = NewDispatcher(s.config, pipeline, s.diag, s.Metrics, s.Clock)
	s.dispatcher.Open()

	s.batcher = NewBatcher(time.Duration(s.config.FlushInterval), s.config.MaxBatchLines, s.Clock.Now(), s.diag, s.Metrics)
	s.closing = make(chan struct{})

	ticker := s.Clock.Ticker(time.Duration(s.config.PollInterval))
	s.wg.Add(1)
	go s.accumulate(ticker)
	return nil
}

// Close stops accumulating, flushes the lines already read and waits for the
// dispatched batches.
func (s *Service) Close() error {
	if s.closing == nil {
		return errors.New("service already closed")
	}
	close(s.closing)
	s.wg.Wait()
	s.closing = nil

	for s.Source.Ready() {
		select {
		case line := <-s.Source.Lines():
			if b, ok := s.batcher.Add(line, s.Clock.Now()); ok {
				s.dispatch(b)
			}
		default:
		}
	}
	if b, ok := s.batcher.Flush(s.Clock.Now()); ok {
		s.dispatch(b)
	}
	return s.dispatcher.Close()
}

// InFlight returns the batches currently being processed.
func (s *Service) InFlight() []TaskHandle {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.InFlight()
}

func (s *Service) accumulate(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	lines := s.Source.Lines()
	for {
		select {
		case <-s.closing:
			return
		case line := <-lines:
			if b, ok := s.batcher.Add(line, s.Clock.Now()); ok {
				s.dispatch(b)
			}
		case <-ticker.C:
			if b, ok := s.batcher.Tick(s.Clock.Now()); ok {
				s.dispatch(b)
			}
		}
	}
}

func (s *Service) dispatch(b models.Batch) {
	if err := s.dispatcher.Dispatch(b); err != nil {
		s.diag.Error("failed to dispatch batch", err, keyvalue.KV("lines", strconv.Itoa(b.Len())))
	}
}

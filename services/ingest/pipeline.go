package ingest

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/pkg/errors"
)

// PipelineSummary reports the outcome of one batch.
type PipelineSummary struct {
	BatchID    uint64
	Lines      int
	Points     int
	Skipped    int
	Partitions int
	Failed     int
	Elapsed    time.Duration
}

type PipelineDiagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	SkippedLine(batchID uint64, err *flow.SkipError)
	PipelineFinished(s PipelineSummary)
}

// Pipeline parses a batch, partitions its points and writes every partition
// concurrently.
type Pipeline struct {
	parser       *flow.Parser
	partitionTag string
	writer       *Writer
	diag         PipelineDiagnostic
	metrics      *stats.Metrics
	clock        clock.Clock
}

func NewPipeline(p *flow.Parser, partitionTag string, w *Writer, d PipelineDiagnostic, m *stats.Metrics, clk clock.Clock) *Pipeline {
	return &Pipeline{
		parser:       p,
		partitionTag: partitionTag,
		writer:       w,
		diag:         d,
		metrics:      m,
		clock:        clk,
	}
}

// Run processes b to completion. It never panics and never fails: skipped
// lines and dropped partitions are reported and counted.
func (p *Pipeline) Run(b models.Batch) PipelineSummary {
	start := p.clock.Now()

	points := make([]models.Point, 0, b.Len())
	skipped := 0
	for _, line := range b.Lines {
		pt, err := p.parser.Parse(line)
		if err != nil {
			skipped++
			var serr *flow.SkipError
			if !errors.As(err, &serr) {
				serr = &flow.SkipError{Reason: flow.Decode, Line: line, Offset: 0, Err: err}
			}
			p.metrics.LinesSkipped.WithLabelValues(string(serr.Reason)).Inc()
			p.diag.SkippedLine(b.ID, serr)
			continue
		}
		points = append(points, pt)
	}
	p.metrics.PointsParsed.Add(float64(len(points)))

	partitions := Partition(points, p.partitionTag)
	var failed int32
	var wg sync.WaitGroup
	for _, part := range partitions {
		wg.Add(1)
		go func(part models.Partition) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt32(&failed, 1)
					p.diag.Error("panic while writing partition", fmt.Errorf("%v", r),
						keyvalue.KV("batch", strconv.FormatUint(b.ID, 10)),
						keyvalue.KV("partition", part.Key),
					)
				}
			}()
			if err := p.writer.Write(b.ID, part); err != nil {
				atomic.AddInt32(&failed, 1)
			}
		}(part)
	}
	wg.Wait()

	summary := PipelineSummary{
		BatchID:    b.ID,
		Lines:      b.Len(),
		Points:     len(points),
		Skipped:    skipped,
		Partitions: len(partitions),
		Failed:     int(atomic.LoadInt32(&failed)),
		Elapsed:    p.clock.Since(start),
	}
	p.metrics.PipelineDuration.Observe(summary.Elapsed.Seconds())
	p.diag.PipelineFinished(summary)
	return summary
}

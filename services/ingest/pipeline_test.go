package ingest

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	flowLine1 = `{"type":"FLOW","time_flow_start_ns":"1000000000","time_flow_end_ns":"1500000000","time_received_ns":"2000000000","proto":6,"sampler_address":"10.0.0.1","bytes":1500}` + "\n"
	flowLine2 = `{"type":"FLOW","time_flow_start_ns":"1000000000","time_flow_end_ns":"3000000000","time_received_ns":"2000000001","proto":17,"sampler_address":"10.0.0.2","bytes":80}` + "\n"
	flowLine3 = `{"type":"FLOW","time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":3,"packets":2}` + "\n"
	noStart   = `{"type":"FLOW","time_flow_end_ns":"1500000000","time_received_ns":"2000000000","sampler_address":"10.0.0.1"}` + "\n"
)

func newTestPipeline(pw PointsWriter, attempts int) (*Pipeline, *testDiag, *stats.Metrics) {
	d := new(testDiag)
	m := stats.NewLocalMetrics()
	clk := clock.New()
	p := NewPipeline(
		flow.NewParser(flow.DefaultTags, flow.DefaultFields, d),
		DefaultPartitionTag,
		NewWriter(pw, attempts, time.Millisecond, d, m, clk),
		d, m, clk,
	)
	return p, d, m
}

func TestPipeline_Run(t *testing.T) {
	pw := new(pointsWriter)
	p, d, m := newTestPipeline(pw, 5)

	s := p.Run(models.Batch{ID: 1, Lines: [][]byte{
		[]byte(flowLine1),
		[]byte(flowLine2),
		[]byte(flowLine3),
		[]byte("garbage\n"),
	}})

	assert.Equal(t, PipelineSummary{
		BatchID:    1,
		Lines:      4,
		Points:     3,
		Skipped:    1,
		Partitions: 3,
		Failed:     0,
		Elapsed:    s.Elapsed,
	}, s)
	assert.Equal(t, []flow.Reason{flow.Malformed}, d.skipped)

	sort.Strings(d.written)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", models.UnknownPartition}, d.written)
	assert.Len(t, pw.written(), 3)
	assert.Equal(t, 3, pw.callCount())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PointsParsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesSkipped.WithLabelValues("malformed")))
	require.Len(t, d.summaries, 1)
}

func TestPipeline_SchemaErrorCountsAsProcessed(t *testing.T) {
	pw := new(pointsWriter)
	p, d, m := newTestPipeline(pw, 5)

	s := p.Run(models.Batch{ID: 7, Lines: [][]byte{[]byte(noStart)}})

	assert.Equal(t, 1, s.Lines)
	assert.Equal(t, 0, s.Points)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, s.Partitions)
	assert.Equal(t, []flow.Reason{flow.Schema}, d.skipped)
	assert.Equal(t, 0, pw.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesSkipped.WithLabelValues("schema")))
}

func TestPipeline_FailedPartitionDoesNotEscape(t *testing.T) {
	pw := &pointsWriter{failures: 100, err: errors.New("database unavailable")}
	p, d, _ := newTestPipeline(pw, 5)

	var s PipelineSummary
	require.NotPanics(t, func() {
		s = p.Run(models.Batch{ID: 2, Lines: [][]byte{[]byte(flowLine1), []byte(flowLine2)}})
	})
	assert.Equal(t, 2, s.Partitions)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 10, pw.callCount())
	assert.Len(t, d.failures, 2)
}

func TestPipeline_PanickingSinkIsContained(t *testing.T) {
	pw := &pointsWriter{panics: true}
	p, d, _ := newTestPipeline(pw, 5)

	var s PipelineSummary
	require.NotPanics(t, func() {
		s = p.Run(models.Batch{ID: 3, Lines: [][]byte{[]byte(flowLine1)}})
	})
	assert.Equal(t, 1, s.Failed)
	require.Len(t, d.errs, 1)
	assert.Contains(t, d.errs[0].Error(), "sink exploded")
}

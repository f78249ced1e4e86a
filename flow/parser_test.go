package flow_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/models"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type droppedValue struct {
	Measurement, Key, Reason string
}

type recordingDiag struct {
	mu      sync.Mutex
	dropped []droppedValue
}

func (d *recordingDiag) DroppedValue(measurement, key, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, droppedValue{measurement, key, reason})
}

func newParser() (*flow.Parser, *recordingDiag) {
	d := new(recordingDiag)
	return flow.NewParser(flow.DefaultTags, flow.DefaultFields, d), d
}

func skipError(t *testing.T, err error) *flow.SkipError {
	t.Helper()
	require.Error(t, err)
	var serr *flow.SkipError
	ok := errors.As(err, &serr)
	require.True(t, ok, "expected *flow.SkipError, got %T", err)
	return serr
}

func TestParse_Record(t *testing.T) {
	p, d := newParser()
	line := []byte(`{"type":"FLOW","time_flow_start_ns":"1000000000","time_flow_end_ns":"1500000000","time_received_ns":"2000000000","proto":6,"sampler_address":"10.0.0.1","bytes":1500}` + "\n")

	got, err := p.Parse(line)
	require.NoError(t, err)

	exp := models.Point{
		Measurement: "FLOW",
		Tags:        models.Tags{"proto": "6", "sampler_address": "10.0.0.1"},
		Fields:      models.Fields{"bytes": int64(1500), "flow_time": 0.5},
		Time:        2000000000,
	}
	if !cmp.Equal(exp, got) {
		t.Errorf("unexpected point -exp/+got:\n%s", cmp.Diff(exp, got))
	}
	assert.Empty(t, d.dropped)
}

func TestParse_FullRecord(t *testing.T) {
	p, _ := newParser()
	line := []byte(`{"type":"IPFIX","time_received_ns":1700000000123456789,"sequence_num":42,` +
		`"sampling_rate":0,"sampler_address":"192.168.0.1","time_flow_start_ns":1700000000000000000,` +
		`"time_flow_end_ns":1700000000250000000,"bytes":9000,"packets":6,"src_addr":"10.0.0.1",` +
		`"dst_addr":"10.0.0.2","etype":"IPv4","proto":"TCP","src_port":443,"dst_port":51000,` +
		`"in_if":3,"out_if":4,"src_mac":"00:00:00:00:00:00","tcp_flags":24,"next_hop":"","as_path":[1,2,3],` +
		`"extra":{"nested":[{"k":"v"}]}}` + "\n")

	got, err := p.Parse(line)
	require.NoError(t, err)

	exp := models.Point{
		Measurement: "IPFIX",
		Tags: models.Tags{
			"proto":           "TCP",
			"in_if":           "3",
			"out_if":          "4",
			"sampler_address": "192.168.0.1",
			"src_addr":        "10.0.0.1",
			"dst_addr":        "10.0.0.2",
			"src_port":        "443",
			"dst_port":        "51000",
		},
		Fields: models.Fields{
			"sequence_num": int64(42),
			"bytes":        int64(9000),
			"packets":      int64(6),
			"flow_time":    0.25,
		},
		Time: 1700000000123456789,
	}
	if !cmp.Equal(exp, got) {
		t.Errorf("unexpected point -exp/+got:\n%s", cmp.Diff(exp, got))
	}
}

func TestParse_NegativeFlowTime(t *testing.T) {
	p, _ := newParser()
	got, err := p.Parse([]byte(`{"type":"FLOW","time_flow_start_ns":3000000000,"time_flow_end_ns":1000000000,"time_received_ns":5}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, -2.0, got.Fields["flow_time"])
	assert.Equal(t, int64(5), got.Time)
	assert.Empty(t, got.Tags)
}

func TestParse_NullAndUnknownKeys(t *testing.T) {
	p, d := newParser()
	got, err := p.Parse([]byte(`{"type":"FLOW","time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":1,` +
		`"sampler_address":null,"src_addr":"","new_key":{"a":1},"bytes":true,"packets":"12","sequence_num":1.5}` + "\n"))
	require.NoError(t, err)

	assert.Equal(t, models.Tags{}, got.Tags)
	assert.Equal(t, models.Fields{"packets": int64(12), "sequence_num": 1.5, "flow_time": 0.0}, got.Fields)

	keys := make([]string, 0, len(d.dropped))
	for _, dv := range d.dropped {
		assert.Equal(t, "FLOW", dv.Measurement)
		keys = append(keys, dv.Key)
	}
	assert.ElementsMatch(t, []string{"src_addr", "bytes"}, keys)
}

func TestParse_CustomAllowLists(t *testing.T) {
	p := flow.NewParser([]string{"etype"}, []string{"tcp_flags"}, nil)
	got, err := p.Parse([]byte(`{"type":"FLOW","time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":1,` +
		`"etype":"IPv4","tcp_flags":24,"bytes":100,"proto":6}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, models.Tags{"etype": "IPv4"}, got.Tags)
	assert.Equal(t, models.Fields{"tcp_flags": int64(24), "flow_time": 0.0}, got.Fields)
}

func TestParse_Malformed(t *testing.T) {
	p, _ := newParser()
	lines := []string{
		"",
		"\n",
		"{}",
		`{"type":"FLOW"}`,
		"[1,2]\n",
		"{\"type\":\"FLOW\"} \n",
		"{\"type\":\"FLOW\"}\r\n",
		" {\"type\":\"FLOW\"}\n",
		"not json at all\n",
	}
	for _, l := range lines {
		_, err := p.Parse([]byte(l))
		serr := skipError(t, err)
		assert.Equal(t, flow.Malformed, serr.Reason, "%q", l)
		assert.Nil(t, serr.Prefix(), "%q", l)
	}
}

func TestParse_Decode(t *testing.T) {
	p, _ := newParser()
	line := []byte(`{"type":"FLOW",x}` + "\n")
	_, err := p.Parse(line)
	serr := skipError(t, err)
	assert.Equal(t, flow.Decode, serr.Reason)
	assert.Equal(t, `{"type":"FLOW",`, string(serr.Prefix()))
	assert.Equal(t, line, serr.Line)

	for _, l := range []string{
		`{"type":"FLOW"}{}` + "\n",
		`{"type" "FLOW"}` + "\n",
		`{"bytes":[1,2}` + "\n",
		`{"a":1,}` + "\n",
		`{{}` + "\n",
		`{"type":"FLOW","proto":01}` + "\n",
		`{"type":"FLOW","bytes":1.}` + "\n",
		`{"type":"FLOW","bytes":1e}` + "\n",
		`{"type":"FLOW","bytes":-}` + "\n",
		`{"type":"FLOW","bytes":1.5e+}` + "\n",
	} {
		_, err := p.Parse([]byte(l))
		assert.Equal(t, flow.Decode, skipError(t, err).Reason, "%q", l)
	}
}

func TestParse_NumberGrammar(t *testing.T) {
	p, _ := newParser()
	for _, n := range []string{"0", "-0", "1500", "-1.5", "0.25", "1e3", "1.5E+3", "2e-2"} {
		line := []byte(`{"type":"FLOW","time_received_ns":1,"time_flow_start_ns":1,"time_flow_end_ns":1,"bytes":` + n + `}` + "\n")
		_, err := p.Parse(line)
		assert.NoError(t, err, n)
	}

	_, err := p.Parse([]byte(`{"type":"FLOW","proto":01}` + "\n"))
	serr := skipError(t, err)
	assert.Equal(t, flow.Decode, serr.Reason)
	assert.Equal(t, `{"type":"FLOW","proto":`, string(serr.Prefix()))
}

func TestParse_Schema(t *testing.T) {
	p, _ := newParser()
	tests := []struct {
		name string
		line string
	}{
		{
			name: "missing flow start",
			line: `{"type":"FLOW","time_flow_end_ns":"1500000000","time_received_ns":"2000000000","sampler_address":"10.0.0.1"}`,
		},
		{
			name: "missing type",
			line: `{"time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "empty type",
			line: `{"type":"","time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "numeric type",
			line: `{"type":1,"time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "null timestamp",
			line: `{"type":"FLOW","time_flow_start_ns":1,"time_flow_end_ns":1,"time_received_ns":null}`,
		},
		{
			name: "fractional timestamp",
			line: `{"type":"FLOW","time_flow_start_ns":1.5,"time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "non numeric timestamp",
			line: `{"type":"FLOW","time_flow_start_ns":"soon","time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "boolean timestamp",
			line: `{"type":"FLOW","time_flow_start_ns":true,"time_flow_end_ns":1,"time_received_ns":1}`,
		},
		{
			name: "empty object",
			line: `{}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			line := []byte(tc.line + "\n")
			pt, err := p.Parse(line)
			serr := skipError(t, err)
			assert.Equal(t, flow.Schema, serr.Reason)
			assert.Equal(t, line, serr.Prefix())
			assert.Equal(t, models.Point{}, pt)
		})
	}
}

// Lines that are not framed as {...}\n never produce a point, and nothing panics.
func TestParse_ArbitraryInput(t *testing.T) {
	p, _ := newParser()
	r := rand.New(rand.NewSource(1))
	alphabet := []byte(`{}[]":,0123456789-.eE tnulrfasy_\` + "\n")
	for i := 0; i < 5000; i++ {
		b := make([]byte, r.Intn(64))
		for j := range b {
			b[j] = alphabet[r.Intn(len(alphabet))]
		}
		if r.Intn(2) == 0 {
			b = append(append([]byte{'{'}, b...), '}', '\n')
		}
		framed := len(b) >= 3 && b[0] == '{' && b[len(b)-2] == '}' && b[len(b)-1] == '\n'

		pt, err := p.Parse(b)
		if err != nil {
			serr := skipError(t, err)
			if !framed {
				require.Equal(t, flow.Malformed, serr.Reason, "%q", b)
			}
			continue
		}
		require.True(t, framed, "%q produced a point", b)
		require.NotEmpty(t, pt.Measurement)
	}
}

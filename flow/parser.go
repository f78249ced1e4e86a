// Package flow converts goflow2 JSON records into points.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/gf2influx/gf2influx/models"
	"github.com/mailru/easyjson/jlexer"
	"github.com/pkg/errors"
)

const (
	TypeKey          = "type"
	FlowStartKey     = "time_flow_start_ns"
	FlowEndKey       = "time_flow_end_ns"
	ReceivedKey      = "time_received_ns"
	FlowTimeField    = "flow_time"
	nanosPerSecond   = 1e9
	minimumLineBytes = len("{}\n")
)

var (
	DefaultTags = []string{
		"proto",
		"in_if",
		"out_if",
		"sampler_address",
		"src_addr",
		"dst_addr",
		"src_port",
		"dst_port",
	}
	DefaultFields = []string{
		"sequence_num",
		"bytes",
		"packets",
	}
)

var errNotFramed = errors.New("line must start with '{' and end with \"}\\n\"")

type Diagnostic interface {
	DroppedValue(measurement, key, reason string)
}

// Parser turns raw lines into points. A Parser is safe for concurrent use.
type Parser struct {
	tags   map[string]bool
	fields map[string]bool
	diag   Diagnostic
}

func NewParser(tags, fields []string, d Diagnostic) *Parser {
	p := &Parser{
		tags:   make(map[string]bool, len(tags)),
		fields: make(map[string]bool, len(fields)),
		diag:   d,
	}
	for _, t := range tags {
		p.tags[t] = true
	}
	for _, f := range fields {
		p.fields[f] = true
	}
	return p
}

// Parse converts one line into a point.
// Any returned error is a *SkipError.
func (p *Parser) Parse(line []byte) (pt models.Point, err error) {
	if !framed(line) {
		return pt, &SkipError{Reason: Malformed, Line: line, Offset: -1, Err: errNotFramed}
	}
	defer func() {
		if r := recover(); r != nil {
			pt = models.Point{}
			err = &SkipError{Reason: Decode, Line: line, Offset: 0, Err: fmt.Errorf("panic while decoding: %v", r)}
		}
	}()

	rec, offset, err := p.decode(line)
	if err != nil {
		return pt, &SkipError{Reason: Decode, Line: line, Offset: offset, Err: err}
	}
	pt, err = p.normalize(rec)
	if err != nil {
		return models.Point{}, &SkipError{Reason: Schema, Line: line, Offset: len(line), Err: err}
	}
	return pt, nil
}

func framed(line []byte) bool {
	return len(line) >= minimumLineBytes &&
		line[0] == '{' &&
		bytes.HasSuffix(line, []byte("}\n"))
}

// record is a decoded flow record restricted to the keys the parser cares about.
// Scalars are kept as string or json.Number so large integers survive intact.
type record struct {
	keys   []string
	values map[string]interface{}
}

func (r *record) set(k string, v interface{}) {
	if _, ok := r.values[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.values[k] = v
}

func (p *Parser) wanted(k string) bool {
	switch k {
	case TypeKey, FlowStartKey, FlowEndKey, ReceivedKey:
		return true
	}
	return p.tags[k] || p.fields[k]
}

func (p *Parser) decode(line []byte) (*record, int, error) {
	rec := &record{values: make(map[string]interface{}, len(p.tags)+len(p.fields)+4)}
	in := jlexer.Lexer{Data: line}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		if !p.wanted(key) {
			in.SkipRecursive()
			in.WantComma()
			continue
		}
		switch peek(in.Data, in.GetPos()) {
		case 'n':
			in.Null()
			delete(rec.values, key)
		case '"':
			rec.set(key, in.String())
		case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			n := in.JsonNumber()
			if in.Ok() && !validNumber(string(n)) {
				in.AddError(&jlexer.LexerError{Reason: "invalid number", Offset: in.GetPos() - len(n), Data: string(n)})
			}
			rec.set(key, n)
		default:
			rec.set(key, in.Interface())
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if err := in.Error(); err != nil {
		if lerr, ok := err.(*jlexer.LexerError); ok {
			return nil, lerr.Offset, err
		}
		if err == io.EOF {
			return nil, len(line), errors.Wrap(err, "unexpected end of line")
		}
		return nil, in.GetPos(), err
	}
	return rec, 0, nil
}

// validNumber reports whether s follows the JSON number grammar. The lexer
// also accepts forms such as 01, 1. and 1e.
func validNumber(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	switch {
	case i < len(s) && s[i] == '0':
		i++
	case i < len(s) && s[i] >= '1' && s[i] <= '9':
		i = digits(s, i)
	default:
		return false
	}
	if i < len(s) && s[i] == '.' {
		j := digits(s, i+1)
		if j == i+1 {
			return false
		}
		i = j
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		j := digits(s, i)
		if j == i {
			return false
		}
		i = j
	}
	return i == len(s)
}

func digits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}

// peek returns the first byte of the next token without consuming it.
func peek(data []byte, pos int) byte {
	for ; pos < len(data); pos++ {
		switch c := data[pos]; c {
		case ' ', '\t', '\r', '\n', ':', ',':
		default:
			return c
		}
	}
	return 0
}

func (p *Parser) normalize(rec *record) (models.Point, error) {
	measurement, ok := rec.values[TypeKey].(string)
	if !ok || measurement == "" {
		return models.Point{}, errors.Errorf("%q must be a non-empty string", TypeKey)
	}
	start, err := timestamp(rec, FlowStartKey)
	if err != nil {
		return models.Point{}, err
	}
	end, err := timestamp(rec, FlowEndKey)
	if err != nil {
		return models.Point{}, err
	}
	received, err := timestamp(rec, ReceivedKey)
	if err != nil {
		return models.Point{}, err
	}

	pt := models.Point{
		Measurement: measurement,
		Tags:        make(models.Tags, len(p.tags)),
		Fields:      make(models.Fields, len(p.fields)+1),
		Time:        received,
	}
	for _, k := range rec.keys {
		v, ok := rec.values[k]
		if !ok {
			continue
		}
		switch {
		case p.tags[k]:
			s, reason := tagValue(v)
			if reason != "" {
				p.dropped(measurement, k, reason)
				continue
			}
			pt.Tags[k] = s
		case p.fields[k]:
			f, reason := fieldValue(v)
			if reason != "" {
				p.dropped(measurement, k, reason)
				continue
			}
			pt.Fields[k] = f
		}
	}
	pt.Fields[FlowTimeField] = float64(end-start) / nanosPerSecond
	return pt, nil
}

func (p *Parser) dropped(measurement, key, reason string) {
	if p.diag != nil {
		p.diag.DroppedValue(measurement, key, reason)
	}
}

func timestamp(rec *record, key string) (int64, error) {
	v, ok := rec.values[key]
	if !ok {
		return 0, errors.Errorf("missing required field %q", key)
	}
	var s string
	switch v := v.(type) {
	case json.Number:
		s = string(v)
	case string:
		s = v
	default:
		return 0, errors.Errorf("field %q must be an integer, got %T", key, v)
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("field %q must be an integer, got %q", key, s)
	}
	return ts, nil
}

func tagValue(v interface{}) (string, string) {
	switch v := v.(type) {
	case string:
		if v == "" {
			return "", "empty tag value"
		}
		return v, ""
	case json.Number:
		return string(v), ""
	case bool:
		return strconv.FormatBool(v), ""
	default:
		return "", fmt.Sprintf("unsupported tag value type %T", v)
	}
}

func fieldValue(v interface{}) (interface{}, string) {
	var s string
	switch v := v.(type) {
	case json.Number:
		s = string(v)
	case string:
		s = v
	default:
		return nil, fmt.Sprintf("non-numeric value of type %T", v)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, ""
	}
	return nil, fmt.Sprintf("non-numeric value %q", s)
}

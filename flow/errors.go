package flow

import "fmt"

// Reason classifies why a line was skipped.
type Reason string

const (
	// Malformed lines are not framed as a single JSON object followed by a newline.
	Malformed Reason = "malformed"
	// Decode lines are framed correctly but are not valid JSON.
	Decode Reason = "decode"
	// Schema lines decode but lack a required field or carry one with the wrong type.
	Schema Reason = "schema"
)

// Reasons lists every skip reason.
var Reasons = []Reason{Malformed, Decode, Schema}

// SkipError is returned for every line that does not produce a point.
type SkipError struct {
	Reason Reason
	Line   []byte
	// Offset is the byte offset at which decoding stopped, -1 when no decoding was attempted.
	Offset int
	Err    error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s line: %v", e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// Prefix returns the part of the line read before the error was detected.
func (e *SkipError) Prefix() []byte {
	if e.Offset < 0 {
		return nil
	}
	if e.Offset > len(e.Line) {
		return e.Line
	}
	return e.Line[:e.Offset]
}

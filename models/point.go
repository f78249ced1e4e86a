package models

import "time"

type Fields map[string]interface{}
type Tags map[string]string

// Point is one normalized flow record, ready to be written to the sink.
type Point struct {
	Measurement string
	Tags        Tags
	Fields      Fields
	// Time is the receive timestamp in nanoseconds since the epoch.
	Time int64
}

func (p Point) PointTime() time.Time {
	return time.Unix(0, p.Time).UTC()
}

// UnknownPartition is the key of the partition holding points that lack the partition tag.
const UnknownPartition = "unknown"

// Partition is the set of points of one batch sharing the same sampler.
type Partition struct {
	Key    string
	Points []Point
}

func (p Partition) Len() int {
	return len(p.Points)
}

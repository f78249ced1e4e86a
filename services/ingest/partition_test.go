package ingest

import (
	"testing"

	"github.com/gf2influx/gf2influx/models"
	"github.com/google/go-cmp/cmp"
)

func TestPartition(t *testing.T) {
	pt := func(sampler string, seq int64) models.Point {
		p := models.Point{
			Measurement: "FLOW",
			Tags:        models.Tags{"proto": "6"},
			Fields:      models.Fields{"sequence_num": seq},
		}
		if sampler != "" {
			p.Tags["sampler_address"] = sampler
		}
		return p
	}

	points := []models.Point{
		pt("10.0.0.2", 1),
		pt("10.0.0.1", 2),
		pt("", 3),
		pt("10.0.0.2", 4),
		pt("10.0.0.1", 5),
		pt("", 6),
	}
	exp := []models.Partition{
		{Key: "10.0.0.2", Points: []models.Point{pt("10.0.0.2", 1), pt("10.0.0.2", 4)}},
		{Key: "10.0.0.1", Points: []models.Point{pt("10.0.0.1", 2), pt("10.0.0.1", 5)}},
		{Key: models.UnknownPartition, Points: []models.Point{pt("", 3), pt("", 6)}},
	}

	got := Partition(points, "sampler_address")
	if !cmp.Equal(exp, got) {
		t.Errorf("unexpected partitions -exp/+got:\n%s", cmp.Diff(exp, got))
	}
}

func TestPartition_Empty(t *testing.T) {
	if got := Partition(nil, "sampler_address"); len(got) != 0 {
		t.Errorf("expected no partitions, got %v", got)
	}
}

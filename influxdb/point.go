package influxdb

import (
	"strconv"
	"time"

	imodels "github.com/influxdata/influxdb/models"
	"github.com/pkg/errors"
)

type Point struct {
	Name   string
	Tags   map[string]string
	Fields map[string]interface{}
	Time   time.Time
}

// Bytes returns the line protocol representation of the point without a
// trailing newline. A zero Time leaves the timestamp to the server.
func (p Point) Bytes(precision string) ([]byte, error) {
	if p.Name == "" {
		return nil, errors.New("missing measurement name")
	}
	if len(p.Fields) == 0 {
		return nil, errors.New("point has no fields")
	}
	key := imodels.MakeKey([]byte(p.Name), imodels.NewTags(p.Tags))
	fields := imodels.Fields(p.Fields).MarshalBinary()

	line := make([]byte, 0, len(key)+len(fields)+22)
	line = append(line, key...)
	line = append(line, ' ')
	line = append(line, fields...)
	if p.Time.IsZero() {
		return line, nil
	}
	line = append(line, ' ')
	ts := p.Time.UnixNano() / imodels.GetPrecisionMultiplier(precision)
	return strconv.AppendInt(line, ts, 10), nil
}

package stats

import (
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultBindAddress     = ":9273"
	DefaultPath            = "/metrics"
	DefaultDatabase        = "_gf2influx"
	DefaultRetentionPolicy = ""
	DefaultReportInterval  = toml.Duration(0)
)

type Config struct {
	// Enabled serves the collectors over HTTP.
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind-address"`
	Path        string `toml:"path"`

	// ReportInterval, when non zero, periodically writes the collectors to
	// Database in InfluxDB.
	ReportInterval  toml.Duration `toml:"report-interval"`
	Database        string        `toml:"database"`
	RetentionPolicy string        `toml:"retention-policy"`
}

func NewConfig() Config {
	return Config{
		BindAddress:     DefaultBindAddress,
		Path:            DefaultPath,
		ReportInterval:  DefaultReportInterval,
		Database:        DefaultDatabase,
		RetentionPolicy: DefaultRetentionPolicy,
	}
}

func (c Config) Validate() error {
	if c.Enabled {
		if c.BindAddress == "" {
			return errors.New("must specify stats bind-address")
		}
		if c.Path == "" || c.Path[0] != '/' {
			return errors.Errorf("stats path %q must start with /", c.Path)
		}
	}
	if c.ReportInterval < 0 {
		return errors.New("stats report-interval must not be negative")
	}
	if time.Duration(c.ReportInterval) > 0 && c.Database == "" {
		return errors.New("must specify stats database when report-interval is set")
	}
	return nil
}

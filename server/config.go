package server

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gf2influx/gf2influx/services/diagnostic"
	"github.com/gf2influx/gf2influx/services/influxdb"
	"github.com/gf2influx/gf2influx/services/ingest"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/gf2influx/gf2influx/services/tail"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment variable overriding the configuration.
const EnvPrefix = "GF2INFLUX"

// Config represents the configuration format for the gf2influxd binary.
type Config struct {
	Logging  diagnostic.Config `toml:"logging"`
	Tail     tail.Config       `toml:"tail"`
	Ingest   ingest.Config     `toml:"ingest"`
	InfluxDB influxdb.Config   `toml:"influxdb"`
	Stats    stats.Config      `toml:"stats"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	return &Config{
		Logging:  diagnostic.NewConfig(),
		Tail:     tail.NewConfig(),
		Ingest:   ingest.NewConfig(),
		InfluxDB: influxdb.NewConfig(),
		Stats:    stats.NewConfig(),
	}
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.Tail.Validate(); err != nil {
		return errors.Wrap(err, "tail")
	}
	if err := c.Ingest.Validate(); err != nil {
		return errors.Wrap(err, "ingest")
	}
	if err := c.InfluxDB.Validate(); err != nil {
		return errors.Wrap(err, "influxdb")
	}
	if err := c.Stats.Validate(); err != nil {
		return errors.Wrap(err, "stats")
	}
	return nil
}

// ApplyEnvOverrides sets the fields named by GF2INFLUX_<SECTION>_<KEY>
// environment variables, e.g. GF2INFLUX_INFLUXDB_HOST.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnvOverrides(EnvPrefix, "", reflect.ValueOf(c))
}

func (c *Config) applyEnvOverrides(prefix string, fieldDesc string, spec reflect.Value) error {
	// If we have a pointer, dereference it
	s := spec
	if spec.Kind() == reflect.Ptr {
		s = spec.Elem()
	}

	var value string

	if s.Kind() != reflect.Struct {
		value = os.Getenv(prefix)
		// Skip any fields we don't have a value to set
		if value == "" {
			return nil
		}

		if fieldDesc != "" {
			fieldDesc = " to " + fieldDesc
		}
	}

	switch s.Kind() {
	case reflect.String:
		s.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:

		var intValue int64

		// Handle toml.Duration
		if s.Type().Name() == "Duration" {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return errors.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
			intValue = dur.Nanoseconds()
		} else {
			var err error
			intValue, err = strconv.ParseInt(value, 0, s.Type().Bits())
			if err != nil {
				return errors.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
		}

		s.SetInt(intValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
		}
		s.SetBool(boolValue)
	case reflect.Slice:
		// A comma separated list replaces a whole []string.
		if s.Type().Elem().Kind() != reflect.String {
			return errors.Errorf("failed to apply %v%v: unsupported type %v", prefix, fieldDesc, s.Type().String())
		}
		parts := strings.Split(value, ",")
		list := reflect.MakeSlice(s.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				list = reflect.Append(list, reflect.ValueOf(p))
			}
		}
		s.Set(list)
	case reflect.Struct:
		if err := c.applyEnvOverridesToStruct(prefix, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnvOverridesToStruct(prefix string, s reflect.Value) error {
	typeOfSpec := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		// Get the toml tag to determine what env var name to use
		configName := typeOfSpec.Field(i).Tag.Get("toml")
		// Replace hyphens with underscores to avoid issues with shells
		configName = strings.Replace(configName, "-", "_", -1)
		fieldName := typeOfSpec.Field(i).Name

		// Skip any fields that we cannot set
		if !f.CanSet() || configName == "" || configName == "-" {
			continue
		}

		// Use the upper-case prefix and toml name for the env var
		key := strings.ToUpper(configName)
		if prefix != "" {
			key = strings.ToUpper(prefix + "_" + configName)
		}

		if f.Kind() == reflect.Slice && os.Getenv(key) == "" {
			// Otherwise apply to each element using the index as a suffix
			// e.g. GF2INFLUX_INGEST_TAGS_0
			for i := 0; i < f.Len(); i++ {
				if err := c.applyEnvOverrides(key+"_"+strconv.Itoa(i), fieldName, f.Index(i)); err != nil {
					return err
				}
			}
			continue
		}
		if err := c.applyEnvOverrides(key, fieldName, f); err != nil {
			return err
		}
	}
	return nil
}

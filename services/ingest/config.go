package ingest

import (
	"time"

	"github.com/gf2influx/gf2influx/flow"
	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultFlushInterval   = toml.Duration(time.Second)
	DefaultMaxBatchLines   = 2500
	DefaultPollInterval    = toml.Duration(100 * time.Millisecond)
	DefaultPartitionTag    = "sampler_address"
	DefaultWorkers         = 4
	DefaultQueueSize       = 16
	DefaultEnqueueTimeout  = toml.Duration(time.Second)
	DefaultShutdownTimeout = toml.Duration(30 * time.Second)
	DefaultWriteAttempts   = 5
	DefaultRetryDelay      = toml.Duration(3 * time.Second)
)

type Config struct {
	// FlushInterval is the longest time lines are accumulated before a batch is released.
	FlushInterval toml.Duration `toml:"flush-interval"`
	// MaxBatchLines releases a batch as soon as it holds this many unique lines.
	MaxBatchLines int           `toml:"max-batch-lines"`
	PollInterval  toml.Duration `toml:"poll-interval"`

	Tags         []string `toml:"tags"`
	Fields       []string `toml:"fields"`
	PartitionTag string   `toml:"partition-tag"`

	Workers         int           `toml:"workers"`
	QueueSize       int           `toml:"queue-size"`
	EnqueueTimeout  toml.Duration `toml:"enqueue-timeout"`
	ShutdownTimeout toml.Duration `toml:"shutdown-timeout"`

	// WriteAttempts is the total number of write calls made for one partition.
	WriteAttempts int           `toml:"write-attempts"`
	RetryDelay    toml.Duration `toml:"retry-delay"`
}

func NewConfig() Config {
	return Config{
		FlushInterval:   DefaultFlushInterval,
		MaxBatchLines:   DefaultMaxBatchLines,
		PollInterval:    DefaultPollInterval,
		Tags:            append([]string(nil), flow.DefaultTags...),
		Fields:          append([]string(nil), flow.DefaultFields...),
		PartitionTag:    DefaultPartitionTag,
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
		EnqueueTimeout:  DefaultEnqueueTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		WriteAttempts:   DefaultWriteAttempts,
		RetryDelay:      DefaultRetryDelay,
	}
}

func (c Config) Validate() error {
	switch {
	case c.FlushInterval <= 0:
		return errors.New("ingest flush-interval must be positive")
	case c.MaxBatchLines < 1:
		return errors.New("ingest max-batch-lines must be at least 1")
	case c.PollInterval <= 0:
		return errors.New("ingest poll-interval must be positive")
	case c.PartitionTag == "":
		return errors.New("must specify ingest partition-tag")
	case c.Workers < 1:
		return errors.New("ingest workers must be at least 1")
	case c.QueueSize < 1:
		return errors.New("ingest queue-size must be at least 1")
	case c.EnqueueTimeout < 0:
		return errors.New("ingest enqueue-timeout must not be negative")
	case c.ShutdownTimeout < 0:
		return errors.New("ingest shutdown-timeout must not be negative")
	case c.WriteAttempts < 1:
		return errors.New("ingest write-attempts must be at least 1")
	case c.RetryDelay < 0:
		return errors.New("ingest retry-delay must not be negative")
	}
	seen := make(map[string]string, len(c.Tags)+len(c.Fields))
	for _, t := range c.Tags {
		if t == "" {
			return errors.New("ingest tags must not contain an empty name")
		}
		seen[t] = "tag"
	}
	for _, f := range c.Fields {
		if f == "" {
			return errors.New("ingest fields must not contain an empty name")
		}
		if f == flow.FlowTimeField {
			return errors.Errorf("ingest field %q is derived and cannot be listed", f)
		}
		if seen[f] == "tag" {
			return errors.Errorf("%q cannot be both a tag and a field", f)
		}
	}
	return nil
}

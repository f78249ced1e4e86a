package tail

import (
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultPath         = "/var/log/netflow.log"
	DefaultPollInterval = toml.Duration(250 * time.Millisecond)
	DefaultBuffer       = 10000
	DefaultMaxLineSize  = 1 << 20
)

type Config struct {
	// Path of the file to follow. It does not need to exist yet.
	Path string `toml:"path"`
	// FromStart reads a file present at startup from its beginning instead of its end.
	FromStart    bool          `toml:"from-start"`
	PollInterval toml.Duration `toml:"poll-interval"`
	// Buffer is the number of lines held between the reader and the batcher.
	Buffer int `toml:"buffer"`
	// MaxLineSize caps the bytes held for a line still missing its newline.
	MaxLineSize int `toml:"max-line-size"`
}

func NewConfig() Config {
	return Config{
		Path:         DefaultPath,
		PollInterval: DefaultPollInterval,
		Buffer:       DefaultBuffer,
		MaxLineSize:  DefaultMaxLineSize,
	}
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("must specify tail path")
	}
	if c.PollInterval <= 0 {
		return errors.New("tail poll-interval must be positive")
	}
	if c.Buffer < 0 {
		return errors.New("tail buffer must not be negative")
	}
	if c.MaxLineSize <= 0 {
		return errors.New("tail max-line-size must be positive")
	}
	return nil
}

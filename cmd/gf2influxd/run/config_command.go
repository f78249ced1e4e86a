package run

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// PrintConfigCommand represents the command executed by "gf2influxd config".
type PrintConfigCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewPrintConfigCommand return a new instance of PrintConfigCommand.
func NewPrintConfigCommand() *PrintConfigCommand {
	return &PrintConfigCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run parses and prints the effective configuration.
func (cmd *PrintConfigCommand) Run(configPath string) error {
	// Parse config from path.
	config, err := ParseConfig(FindConfigPath(configPath))
	if err != nil {
		return errors.Wrap(err, "parse config")
	}

	// Apply any environment variables on top of the parsed config
	if err := config.ApplyEnvOverrides(); err != nil {
		return errors.Wrap(err, "apply env config")
	}

	// Validate the configuration.
	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "to generate a valid configuration file run `gf2influxd config > gf2influx.generated.conf`")
	}

	if err := toml.NewEncoder(cmd.Stdout).Encode(config); err != nil {
		return err
	}
	fmt.Fprint(cmd.Stdout, "\n")

	return nil
}

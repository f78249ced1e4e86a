package run

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gf2influx/gf2influx/server"
	"github.com/gf2influx/gf2influx/services/diagnostic"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	Error(msg string, err error)
	Starting(version, branch, commit string)
	GoVersion()
	Info(msg string)
}

// ShutdownMargin leaves room to close the remaining services and to log
// abandoned batches after the ingest shutdown-timeout.
const ShutdownMargin = 10 * time.Second

// Command represents the command executed by "gf2influxd run".
type Command struct {
	Version string
	Branch  string
	Commit  string

	closing chan struct{}
	Closed  chan struct{}
	errs    chan error

	Stdout io.Writer
	Stderr io.Writer

	// ShutdownTimeout bounds a clean shutdown once Close is called. It is
	// the ingest shutdown-timeout plus ShutdownMargin.
	ShutdownTimeout time.Duration

	Server      *server.Server
	Diag        Diagnostic
	diagService *diagnostic.Service
	pidFile     string
}

// NewCommand return a new instance of Command.
func NewCommand() *Command {
	return &Command{
		closing: make(chan struct{}),
		Closed:  make(chan struct{}),
		errs:    make(chan error, 1),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run parses the config and starts the server.
func (cmd *Command) Run(options Options) error {
	// Parse config
	config, err := ParseConfig(FindConfigPath(options.ConfigPath))
	if err != nil {
		return errors.Wrap(err, "parse config")
	}

	// Apply any environment variables on top of the parsed config
	if err := config.ApplyEnvOverrides(); err != nil {
		return errors.Wrap(err, "apply env config")
	}

	// Override config logging file if specified in the command line args.
	if options.LogFile != "" {
		config.Logging.File = options.LogFile
	}

	// Override config logging level if specified in the command line args.
	if options.LogLevel != "" {
		config.Logging.Level = options.LogLevel
	}

	// Override the followed file if specified in the command line args.
	if options.Path != "" {
		config.Tail.Path = options.Path
	}

	cmd.ShutdownTimeout = time.Duration(config.Ingest.ShutdownTimeout) + ShutdownMargin

	if err := config.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	cmd.diagService = diagnostic.NewService(config.Logging, cmd.Stdout, cmd.Stderr)
	if err := cmd.diagService.Open(); err != nil {
		return errors.Wrap(err, "init logging")
	}
	cmd.Diag = cmd.diagService.NewCmdHandler()

	// Mark start-up in log.
	cmd.Diag.Starting(cmd.Version, cmd.Branch, cmd.Commit)
	cmd.Diag.GoVersion()

	// Write the PID file.
	if err := cmd.writePIDFile(options.PIDFile); err != nil {
		return errors.Wrap(err, "write pid file")
	}

	// Create server from config and start it.
	buildInfo := server.BuildInfo{Version: cmd.Version, Commit: cmd.Commit, Branch: cmd.Branch}
	s, err := server.New(config, buildInfo, cmd.diagService)
	if err != nil {
		return errors.Wrap(err, "create server")
	}
	if err := s.Open(); err != nil {
		return errors.Wrap(err, "open server")
	}
	cmd.Server = s

	// Begin monitoring the server's error channel.
	go cmd.monitorServerErrors()

	return nil
}

// Err returns a channel that receives the error that stopped the server.
func (cmd *Command) Err() <-chan error {
	return cmd.errs
}

// Close shuts down the server.
func (cmd *Command) Close() error {
	defer close(cmd.Closed)
	close(cmd.closing)
	var err error
	if cmd.Server != nil {
		err = cmd.Server.Close()
	}
	if cmd.pidFile != "" {
		os.Remove(cmd.pidFile)
	}
	if cmd.diagService != nil {
		cmd.diagService.Close()
	}
	return err
}

func (cmd *Command) monitorServerErrors() {
	select {
	case err := <-cmd.Server.Err():
		if err != nil {
			cmd.Diag.Error("fatal server error", err)
		}
		cmd.errs <- err
	case <-cmd.closing:
	}
}

// writePIDFile writes the process ID to path.
func (cmd *Command) writePIDFile(path string) error {
	// Ignore if path is not set.
	if path == "" {
		return nil
	}

	// Ensure the required directory structure exists.
	err := os.MkdirAll(filepath.Dir(path), 0777)
	if err != nil {
		return errors.Wrap(err, "mkdir")
	}

	// Retrieve the PID and write it.
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0666); err != nil {
		return errors.Wrap(err, "write file")
	}
	cmd.pidFile = path

	return nil
}

// FindConfigPath returns the config path specified or searches for a valid config path.
// It will return a path by searching in this order:
//   1. The given configPath
//   2. The environment variable GF2INFLUX_CONFIG_PATH
//   3. The first non empty gf2influx.conf file in the path:
//        - ~/.gf2influx/
//        - /etc/gf2influx/
func FindConfigPath(configPath string) string {
	if configPath != "" {
		if configPath == os.DevNull {
			return ""
		}
		return configPath
	} else if envVar := os.Getenv("GF2INFLUX_CONFIG_PATH"); envVar != "" {
		return envVar
	}

	for _, path := range []string{
		os.ExpandEnv("${HOME}/.gf2influx/gf2influx.conf"),
		"/etc/gf2influx/gf2influx.conf",
	} {
		if fi, err := os.Stat(path); err == nil && fi.Size() != 0 {
			return path
		}
	}
	return ""
}

// ParseConfig parses the config at path on top of the defaults.
// Returns the default configuration if path is blank.
func ParseConfig(path string) (*server.Config, error) {
	config := server.NewConfig()
	if path == "" {
		return config, nil
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return config, nil
}

// Options represents the command line options that can be parsed.
type Options struct {
	ConfigPath string
	PIDFile    string
	LogFile    string
	LogLevel   string
	Path       string
}

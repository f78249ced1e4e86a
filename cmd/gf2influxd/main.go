package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gf2influx/gf2influx/cmd/gf2influxd/run"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	// If commit or branch are not set, make that clear.
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
}

func main() {
	m := NewMain()
	if err := m.Run(os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdout io.Writer
	Stderr io.Writer

	// Signals stops a running server, it defaults to SIGINT and SIGTERM.
	Signals chan os.Signal
}

// NewMain return a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run determines and runs the command specified by the CLI args.
func (m *Main) Run(args ...string) error {
	return m.app().Run(append([]string{"gf2influxd"}, args...))
}

func (m *Main) app() *cli.App {
	return &cli.App{
		Name:        "gf2influxd",
		Usage:       "write goflow2 JSON flow records to InfluxDB",
		UsageText:   "gf2influxd [command] [flags]",
		HideVersion: true,
		Writer:      m.Stdout,
		ErrWriter:   m.Stderr,
		Flags:       runFlags(),
		Action:      m.runServer,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "follow the flow log and write it to InfluxDB (default)",
				Flags:  runFlags(),
				Action: m.runServer,
			},
			{
				Name:  "config",
				Usage: "display the effective configuration",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx *cli.Context) error {
					cmd := run.NewPrintConfigCommand()
					cmd.Stdout = m.Stdout
					cmd.Stderr = m.Stderr
					return errors.Wrap(cmd.Run(ctx.String("config")), "config")
				},
			},
			{
				Name:      "veil",
				Usage:     "print the veiled form of a password for the influxdb password option",
				ArgsUsage: "<password>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "salt",
						Usage:    "same value as the influxdb secret-salt option",
						EnvVars:  []string{"GF2INFLUX_INFLUXDB_SECRET_SALT"},
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return errors.New("veil: expected exactly one password argument")
					}
					cmd := run.NewVeilCommand()
					cmd.Stdout = m.Stdout
					return errors.Wrap(cmd.Run(ctx.String("salt"), ctx.Args().First()), "veil")
				},
			},
			{
				Name:  "version",
				Usage: "display the version, build branch and git commit hash",
				Action: func(ctx *cli.Context) error {
					fmt.Fprintf(m.Stdout, "gf2influxd version %s (git: %s %s)\n", version, branch, commit)
					return nil
				},
			},
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to the configuration file",
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.StringFlag{Name: "pidfile", Usage: "write process ID to a file"},
		&cli.StringFlag{Name: "log-file", Usage: "write logs to a file"},
		&cli.StringFlag{Name: "log-level", Usage: "one of debug,info,warn,error"},
		&cli.StringFlag{Name: "path", Usage: "override the followed flow log file"},
	}
}

func (m *Main) runServer(ctx *cli.Context) error {
	if ctx.Args().Present() {
		return errors.Errorf("unknown command %q\nRun 'gf2influxd help' for usage", ctx.Args().First())
	}
	cmd := run.NewCommand()

	// Tell the server the build details.
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	cmd.Stdout = m.Stdout
	cmd.Stderr = m.Stderr

	err := cmd.Run(run.Options{
		ConfigPath: ctx.String("config"),
		PIDFile:    ctx.String("pidfile"),
		LogFile:    ctx.String("log-file"),
		LogLevel:   ctx.String("log-level"),
		Path:       ctx.String("path"),
	})
	if err != nil {
		if cmd.Diag != nil {
			cmd.Diag.Error("encountered error", err)
		}
		cmd.Close()
		return errors.Wrap(err, "run")
	}

	signalCh := m.Signals
	if signalCh == nil {
		signalCh = make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signalCh)
	}
	cmd.Diag.Info("listening for signals")

	var fatal error
	select {
	case s := <-signalCh:
		cmd.Diag.Info(fmt.Sprintf("%s received, initializing clean shutdown...", s))
	case fatal = <-cmd.Err():
		cmd.Diag.Info("stream lost, initializing shutdown...")
	}
	cmd.Diag.Info("waiting for clean shutdown...")
	go cmd.Close()

	// Block again until another signal is received, a shutdown timeout elapses,
	// or the Command is gracefully closed
	select {
	case <-signalCh:
		fmt.Fprintln(m.Stderr, "second signal received, initializing hard shutdown")
	case <-time.After(cmd.ShutdownTimeout):
		fmt.Fprintln(m.Stderr, "time limit reached, initializing hard shutdown")
	case <-cmd.Closed:
	}

	// goodbye.
	if fatal != nil {
		return errors.Wrap(fatal, "run")
	}
	return nil
}

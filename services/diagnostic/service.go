package diagnostic

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service owns the root logger and hands out the diagnostic handlers of
// every other service.
type Service struct {
	c      Config
	stdout io.Writer
	stderr io.Writer
	closer io.Closer
	level  zap.AtomicLevel
	root   *zap.Logger
}

func NewService(c Config, stdout, stderr io.Writer) *Service {
	return &Service{
		c:      c,
		stdout: stdout,
		stderr: stderr,
		level:  zap.NewAtomicLevel(),
		root:   zap.NewNop(),
	}
}

func (s *Service) Open() error {
	var output io.Writer
	switch s.c.File {
	case "STDERR":
		output = s.stderr
	case "STDOUT":
		output = s.stdout
	default:
		dir := filepath.Dir(s.c.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create log directory %q", dir)
		}
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		output = f
		s.closer = f
	}

	if err := s.SetLevel(s.c.Level); err != nil {
		return err
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(s.c.Encoding) {
	case "json":
		encoder = zapcore.NewJSONEncoder(ec)
	case "console", "":
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return errors.Errorf("unknown log encoding %q", s.c.Encoding)
	}

	s.root = zap.New(zapcore.NewCore(encoder, zapcore.AddSync(output), s.level))
	return nil
}

func (s *Service) Close() error {
	_ = s.root.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Root returns the root logger. It discards everything until the service is opened.
func (s *Service) Root() *zap.Logger {
	return s.root
}

func (s *Service) SetLevel(level string) error {
	l, err := parseLevel(level)
	if err != nil {
		return err
	}
	s.level.SetLevel(l)
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Errorf("unknown logging level %q", level)
	}
}

func (s *Service) NewCmdHandler() *CmdHandler {
	return &CmdHandler{l: s.root.With(zap.String("service", "run"))}
}

func (s *Service) NewServerHandler() *ServerHandler {
	return &ServerHandler{l: s.root.With(zap.String("source", "srv"))}
}

func (s *Service) NewTailHandler() *TailHandler {
	return &TailHandler{l: s.root.With(zap.String("service", "tail"))}
}

func (s *Service) NewIngestHandler() *IngestHandler {
	return &IngestHandler{l: s.root.With(zap.String("service", "ingest"))}
}

func (s *Service) NewInfluxDBHandler() *InfluxDBHandler {
	return &InfluxDBHandler{l: s.root.With(zap.String("service", "influxdb"))}
}

func (s *Service) NewStatsHandler() *StatsHandler {
	return &StatsHandler{l: s.root.With(zap.String("service", "stats"))}
}

// Provides a server type for starting and configuring a gf2influx server.
package server

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/services/diagnostic"
	"github.com/gf2influx/gf2influx/services/influxdb"
	"github.com/gf2influx/gf2influx/services/ingest"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/gf2influx/gf2influx/services/tail"
	"github.com/pkg/errors"
)

// BuildInfo represents the build details for the server code.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
}

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	Info(msg string, ctx ...keyvalue.T)
	Debug(msg string, ctx ...keyvalue.T)
}

// Server represents a container for the services.
// It is built using a Config and it manages the startup and shutdown of all
// services in the proper order.
type Server struct {
	config *Config

	err     chan error
	closing chan struct{}

	StatsService    *stats.Service
	InfluxDBService *influxdb.Service
	IngestService   *ingest.Service
	TailService     *tail.Service

	// List of services in startup order
	Services []Service
	// Map of service name to index in Services list
	ServicesByName map[string]int

	BuildInfo BuildInfo

	DiagService *diagnostic.Service
	Diag        Diagnostic
}

// New returns a new instance of Server built from a config.
func New(c *Config, buildInfo BuildInfo, diagService *diagnostic.Service) (*Server, error) {
	err := c.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	s := &Server{
		config:         c,
		BuildInfo:      buildInfo,
		err:            make(chan error, 1),
		ServicesByName: make(map[string]int),
		DiagService:    diagService,
		Diag:           diagService.NewServerHandler(),
	}

	// Stats first, every other service reports into its collectors.
	s.appendStatsService()
	s.appendInfluxDBService()
	s.appendIngestService()
	// Append the tail last so that lines are only read once everything else succeeded.
	s.appendTailService()

	return s, nil
}

func (s *Server) AppendService(name string, srv Service) {
	if _, ok := s.ServicesByName[name]; ok {
		// Should be unreachable code
		panic("cannot append service twice")
	}
	i := len(s.Services)
	s.Services = append(s.Services, srv)
	s.ServicesByName[name] = i
}

func (s *Server) appendStatsService() {
	srv := stats.NewService(s.config.Stats, s.DiagService.NewStatsHandler())
	s.StatsService = srv
	s.AppendService("stats", srv)
}

func (s *Server) appendInfluxDBService() {
	srv := influxdb.NewService(s.config.InfluxDB, s.DiagService.NewInfluxDBHandler())
	s.StatsService.PointsWriter = srv
	s.InfluxDBService = srv
	s.AppendService("influxdb", srv)
}

func (s *Server) appendIngestService() {
	srv := ingest.NewService(s.config.Ingest, s.DiagService.NewIngestHandler())
	srv.PointsWriter = s.InfluxDBService
	srv.Metrics = s.StatsService.Metrics()
	s.IngestService = srv
	s.AppendService("ingest", srv)
}

func (s *Server) appendTailService() {
	srv := tail.NewService(s.config.Tail, s.DiagService.NewTailHandler())
	srv.Metrics = s.StatsService.Metrics()
	s.IngestService.Source = srv
	s.TailService = srv
	s.AppendService("tail", srv)
}

// SetClock replaces the clock of every service that reads time. It must be
// called before Open.
func (s *Server) SetClock(clk clock.Clock) {
	s.StatsService.Clock = clk
	s.IngestService.Clock = clk
	s.TailService.Clock = clk
}

// Err returns an error channel that multiplexes all out of band errors received from all services.
func (s *Server) Err() <-chan error { return s.err }

// Open opens all the services.
func (s *Server) Open() error {
	if err := s.startServices(); err != nil {
		s.Close()
		return err
	}

	s.closing = make(chan struct{})
	go s.watchServices()

	return nil
}

func (s *Server) startServices() error {
	for i, service := range s.Services {
		name := s.serviceName(i)
		s.Diag.Debug("opening service", keyvalue.KV("service", name))
		if err := service.Open(); err != nil {
			// Only the services opened so far are closed.
			s.Services = s.Services[:i]
			return errors.Wrapf(err, "open service %s", name)
		}
		s.Diag.Debug("opened service", keyvalue.KV("service", name))

		if service == s.InfluxDBService && s.config.InfluxDB.CreateDatabase && time.Duration(s.config.Stats.ReportInterval) > 0 {
			if err := s.InfluxDBService.CreateDatabase(s.config.Stats.Database); err != nil {
				s.Services = s.Services[:i+1]
				return errors.Wrap(err, "failed to create stats database")
			}
		}
	}
	return nil
}

// Watch if something dies
func (s *Server) watchServices() {
	var err error
	select {
	case err = <-s.TailService.Err():
	case <-s.closing:
		return
	}
	s.err <- err
}

// Close shuts down all services in reverse order.
func (s *Server) Close() error {
	if s.closing != nil {
		close(s.closing)
		s.closing = nil
	}

	var firstErr error
	for i := len(s.Services) - 1; i >= 0; i-- {
		service := s.Services[i]
		name := s.serviceName(i)
		s.Diag.Debug("closing service", keyvalue.KV("service", name))
		if err := service.Close(); err != nil {
			s.Diag.Error("error closing service", err, keyvalue.KV("service", name))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.Diag.Debug("closed service", keyvalue.KV("service", name))
	}
	return firstErr
}

func (s *Server) serviceName(i int) string {
	for name, idx := range s.ServicesByName {
		if idx == i {
			return name
		}
	}
	return "unknown"
}

// Service represents a service attached to the server.
type Service interface {
	Open() error
	Close() error
}

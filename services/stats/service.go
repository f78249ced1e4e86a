// Package stats exposes the pipeline collectors over HTTP for Prometheus and
// can periodically write them to InfluxDB.
//
// Example configuration writing the collectors to InfluxDB every minute:
//
// [stats]
//     enabled = true
//     bind-address = ":9273"
//     report-interval = "1m"
//     database = "_gf2influx"
//
package stats

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gf2influx/gf2influx/influxdb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

type Diagnostic interface {
	Error(msg string, err error)
	ListeningOn(addr string)
	StoppedService()
}

type Service struct {
	c        Config
	diag     Diagnostic
	registry *prometheus.Registry
	metrics  *Metrics

	ln     net.Listener
	server *http.Server

	closing chan struct{}
	wg      sync.WaitGroup

	// PointsWriter receives the periodic reports, it is required when a report interval is set.
	PointsWriter interface {
		Write(bp influxdb.BatchPoints) error
	}
	Clock clock.Clock
}

func NewService(c Config, d Diagnostic) *Service {
	reg := prometheus.NewRegistry()
	return &Service{
		c:        c,
		diag:     d,
		registry: reg,
		metrics:  NewMetrics(reg),
		Clock:    clock.New(),
	}
}

func (s *Service) Metrics() *Metrics {
	return s.metrics
}

func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

func (s *Service) Open() error {
	interval := time.Duration(s.c.ReportInterval)
	if interval > 0 && s.PointsWriter == nil {
		return errors.New("stats reporting requires a points writer")
	}
	s.closing = make(chan struct{})

	if s.c.Enabled {
		ln, err := net.Listen("tcp", s.c.BindAddress)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", s.c.BindAddress)
		}
		s.ln = ln

		mux := http.NewServeMux()
		mux.Handle(s.c.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		s.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.diag.Error("metrics listener failed", err)
			}
		}()
		s.diag.ListeningOn(ln.Addr().String())
	}

	if interval > 0 {
		ticker := s.Clock.Ticker(interval)
		s.wg.Add(1)
		go s.sendStats(ticker)
	}
	return nil
}

func (s *Service) Close() error {
	if s.closing == nil {
		return nil
	}
	close(s.closing)
	var err error
	if s.server != nil {
		err = s.server.Close()
	}
	s.wg.Wait()
	s.closing = nil
	s.diag.StoppedService()
	return err
}

// Addr returns the bound address of the metrics listener, nil when disabled.
func (s *Service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) sendStats(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.reportStats()
		}
	}
}

func (s *Service) reportStats() {
	mfs, err := s.registry.Gather()
	if err != nil {
		s.diag.Error("error gathering stats", err)
		return
	}
	bp := influxdb.BatchPoints{
		Precision:       "s",
		Database:        s.c.Database,
		RetentionPolicy: s.c.RetentionPolicy,
		Points:          statsPoints(mfs, s.Clock.Now().UTC()),
	}
	if err := s.PointsWriter.Write(bp); err != nil {
		s.diag.Error("error writing stats", err)
	}
}

// statsPoints converts the pipeline metric families into points, one per label set.
func statsPoints(mfs []*dto.MetricFamily, now time.Time) []influxdb.Point {
	var points []influxdb.Point
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			fields := make(map[string]interface{}, 2)
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				fields["value"] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				fields["value"] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				fields["count"] = float64(m.GetHistogram().GetSampleCount())
				fields["sum"] = m.GetHistogram().GetSampleSum()
			default:
				continue
			}
			tags := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				tags[lp.GetName()] = lp.GetValue()
			}
			points = append(points, influxdb.Point{
				Name:   mf.GetName(),
				Tags:   tags,
				Fields: fields,
				Time:   now,
			})
		}
	}
	return points
}

// Package influxdb owns the connection to the InfluxDB server the points are
// written to.
package influxdb

import (
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gf2influx/gf2influx/influxdb"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/secret"
	"github.com/gf2influx/gf2influx/tlsconfig"
	"github.com/pkg/errors"
)

const userAgent = "gf2influx"

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	InsecureSkipVerify(url string)
	PingFailed(url string, err error)
	Connected(url, version string)
	CreatedDatabase(db string)
}

// Service connects to InfluxDB on Open and writes points to the configured
// database and retention policy.
type Service struct {
	config Config
	diag   Diagnostic

	mu     sync.RWMutex
	client influxdb.Client

	ClientCreator interface {
		Create(influxdb.HTTPConfig) (influxdb.Client, error)
	}
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		config:        c,
		diag:          d,
		ClientCreator: influxdb.ClientCreator{},
	}
}

// Open creates the client and waits, for at most the startup timeout, until
// the server answers a ping.
func (s *Service) Open() error {
	conf, err := s.httpConfig()
	if err != nil {
		return err
	}
	cli, err := s.ClientCreator.Create(conf)
	if err != nil {
		return errors.Wrap(err, "failed to create InfluxDB client")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Duration(s.config.StartUpTimeout)
	ticker := backoff.NewTicker(b)
	var version string
	err = errors.New("startup timeout reached before first ping")
	for range ticker.C {
		_, version, err = cli.Ping(conf.Timeout)
		if err != nil {
			s.diag.PingFailed(conf.URL, err)
			continue
		}
		ticker.Stop()
		break
	}
	if err != nil {
		cli.Close()
		return errors.Wrapf(err, "failed to connect to InfluxDB at %s", conf.URL)
	}
	s.diag.Connected(conf.URL, version)

	if s.config.CreateDatabase {
		if err := createDatabase(cli, s.config.Database); err != nil {
			cli.Close()
			return err
		}
		s.diag.CreatedDatabase(s.config.Database)
	}

	s.mu.Lock()
	s.client = cli
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// WritePoints writes points to the configured database and retention policy
// at nanosecond precision.
func (s *Service) WritePoints(points []influxdb.Point) error {
	return s.Write(influxdb.BatchPoints{
		Database:        s.config.Database,
		RetentionPolicy: s.config.RetentionPolicy,
		Precision:       "ns",
		Points:          points,
	})
}

// Write writes bp as is.
func (s *Service) Write(bp influxdb.BatchPoints) error {
	cli, err := s.connectedClient()
	if err != nil {
		return err
	}
	return cli.Write(bp)
}

// CreateDatabase creates db if it does not exist yet.
func (s *Service) CreateDatabase(db string) error {
	cli, err := s.connectedClient()
	if err != nil {
		return err
	}
	if err := createDatabase(cli, db); err != nil {
		return err
	}
	s.diag.CreatedDatabase(db)
	return nil
}

func (s *Service) connectedClient() (influxdb.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, errors.New("not connected to InfluxDB")
	}
	return s.client, nil
}

func (s *Service) httpConfig() (influxdb.HTTPConfig, error) {
	c := s.config
	conf := influxdb.HTTPConfig{
		URL:       c.URL(),
		UserAgent: userAgent,
		Timeout:   time.Duration(c.Timeout),
	}
	if c.HTTPS {
		tlsConfig, err := tlsconfig.Create(c.SSLCA, c.SSLCert, c.SSLKey, c.InsecureSkipVerify)
		if err != nil {
			return conf, errors.Wrap(err, "invalid influxdb TLS options")
		}
		if c.InsecureSkipVerify {
			s.diag.InsecureSkipVerify(conf.URL)
		}
		conf.TLSConfig = tlsConfig
	}
	switch {
	case c.Token != "":
		token, err := secret.Unveil(c.Token, c.SecretSalt)
		if err != nil {
			return conf, errors.Wrap(err, "failed to unveil influxdb token")
		}
		conf.Credentials = &influxdb.Credentials{Token: token}
	case c.Username != "":
		password, err := secret.Unveil(c.Password, c.SecretSalt)
		if err != nil {
			return conf, errors.Wrap(err, "failed to unveil influxdb password")
		}
		conf.Credentials = &influxdb.Credentials{
			Username: c.Username,
			Password: password,
		}
	}
	return conf, nil
}

func createDatabase(cli influxdb.Client, db string) error {
	resp, err := cli.Query(influxdb.Query{Command: "CREATE DATABASE " + quoteIdent(db)})
	if err != nil {
		return errors.Wrapf(err, "failed to create database %q", db)
	}
	if err := resp.Error(); err != nil {
		return errors.Wrapf(err, "failed to create database %q", db)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

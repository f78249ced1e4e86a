package influxdb

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gf2influx/gf2influx/secret"
	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 8086
	DefaultDatabase = "netflowDB"
	DefaultTimeout  = toml.Duration(10 * time.Second)

	// Maximum time to try and connect to InfluxDB during startup.
	DefaultStartUpTimeout = toml.Duration(5 * time.Minute)
)

type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	HTTPS    bool   `toml:"https"`
	Username string `toml:"username"`
	// Password may be veiled with the veil command, it is then unveiled with SecretSalt.
	Password   string `toml:"password"`
	// Token is sent as "Authorization: Token <token>" instead of basic auth.
	// InfluxDB 1.8 accepts "username:password" here. It may be veiled too.
	Token      string `toml:"token"`
	SecretSalt string `toml:"secret-salt"`

	Database        string `toml:"database"`
	RetentionPolicy string `toml:"retention-policy"`
	CreateDatabase  bool   `toml:"create-database"`

	Timeout        toml.Duration `toml:"timeout"`
	StartUpTimeout toml.Duration `toml:"startup-timeout"`

	// Path to CA file
	SSLCA string `toml:"ssl-ca"`
	// Path to host cert file
	SSLCert string `toml:"ssl-cert"`
	// Path to cert key file
	SSLKey string `toml:"ssl-key"`
	// Use SSL but skip chain & host verification
	InsecureSkipVerify bool `toml:"insecure-skip-verify"`
}

func NewConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Database:       DefaultDatabase,
		Timeout:        DefaultTimeout,
		StartUpTimeout: DefaultStartUpTimeout,
	}
}

// URL is the base URL of the server.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	if c.HTTPS {
		u.Scheme = "https"
	}
	return u.String()
}

func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("must specify influxdb host")
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("invalid influxdb port %d", c.Port)
	case c.Database == "":
		return errors.New("must specify influxdb database")
	case c.Timeout < 0:
		return errors.New("influxdb timeout must not be negative")
	case c.StartUpTimeout <= 0:
		return errors.New("influxdb startup-timeout must be positive")
	case (c.SSLCert == "") != (c.SSLKey == ""):
		return errors.New("influxdb ssl-cert and ssl-key must be set together")
	case secret.IsVeiled(c.Password) && c.SecretSalt == "":
		return errors.New("influxdb password is veiled but no secret-salt is set")
	case secret.IsVeiled(c.Token) && c.SecretSalt == "":
		return errors.New("influxdb token is veiled but no secret-salt is set")
	case c.Token != "" && c.Username != "":
		return errors.New("influxdb token and username are mutually exclusive")
	}
	if _, err := url.Parse(c.URL()); err != nil {
		return errors.Wrap(err, "invalid influxdb address")
	}
	return nil
}

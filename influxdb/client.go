// Package influxdb is a small InfluxDB 1.x HTTP client. It pings the server,
// writes line protocol and runs InfluxQL statements.
package influxdb

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gf2influx/gf2influx/bufpool"
	imodels "github.com/influxdata/influxdb/models"
	"github.com/pkg/errors"
)

const defaultUserAgent = "gf2influx"

// Client is the subset of the InfluxDB HTTP API the daemon uses.
type Client interface {
	// Ping reports the round trip time and the server version.
	Ping(timeout time.Duration) (time.Duration, string, error)
	Write(bp BatchPoints) error
	Query(q Query) (*Response, error)
	Close() error
}

// Query is a single InfluxQL statement.
type Query struct {
	Command  string
	Database string
}

type HTTPConfig struct {
	// URL is the base address of the server, e.g. http://localhost:8086.
	URL string

	// Credentials are sent with every request when set.
	Credentials *Credentials

	// UserAgent defaults to "gf2influx".
	UserAgent string

	// Timeout bounds every request; zero means no timeout.
	Timeout time.Duration

	// TLSConfig is used for https URLs.
	TLSConfig *tls.Config
}

// Credentials authenticate requests either with a token or with basic auth.
// A Token takes precedence over Username and Password.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c *Credentials) apply(req *http.Request) {
	switch {
	case c == nil:
	case c.Token != "":
		req.Header.Set("Authorization", "Token "+c.Token)
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// HTTPClient is safe for concurrent use.
type HTTPClient struct {
	base        url.URL
	userAgent   string
	credentials *Credentials
	http        *http.Client
	transport   *http.Transport
	buffers     *bufpool.Pool
}

func NewHTTPClient(conf HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid InfluxDB URL %q", conf.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported protocol scheme %q, the InfluxDB URL must start with http:// or https://", u.Scheme)
	}
	if conf.UserAgent == "" {
		conf.UserAgent = defaultUserAgent
	}
	tr := &http.Transport{TLSClientConfig: conf.TLSConfig}
	return &HTTPClient{
		base:        *u,
		userAgent:   conf.UserAgent,
		credentials: conf.Credentials,
		http:        &http.Client{Timeout: conf.Timeout, Transport: tr},
		transport:   tr,
		buffers:     bufpool.New(),
	}, nil
}

func (c *HTTPClient) endpoint(path string, params url.Values) string {
	u := c.base
	u.Path = path
	u.RawQuery = params.Encode()
	return u.String()
}

// do sends req and fails unless the response status is one of ok.
// A JSON body is decoded into result when result is not nil.
func (c *HTTPClient) do(req *http.Request, result interface{}, ok ...int) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	c.credentials.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, ok) {
		return nil, responseError(resp)
	}
	if result != nil {
		d := json.NewDecoder(resp.Body)
		d.UseNumber()
		if err := d.Decode(result); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON")
		}
	}
	return resp, nil
}

func statusIn(code int, codes []int) bool {
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// responseError prefers the "error" member InfluxDB puts in failed responses.
func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response with code %d", resp.StatusCode)
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return fmt.Errorf("invalid response: code %d: body: %s", resp.StatusCode, body)
}

func (c *HTTPClient) Ping(timeout time.Duration) (time.Duration, string, error) {
	params := url.Values{}
	if timeout > 0 {
		params.Set("wait_for_leader", fmt.Sprintf("%.0fs", timeout.Seconds()))
	}
	req, err := http.NewRequest(http.MethodGet, c.endpoint("ping", params), nil)
	if err != nil {
		return 0, "", err
	}
	start := time.Now()
	resp, err := c.do(req, nil, http.StatusNoContent)
	if err != nil {
		return 0, "", err
	}
	return time.Since(start), resp.Header.Get("X-Influxdb-Version"), nil
}

// Write encodes the points of bp as line protocol and posts them in one request.
// Nothing is sent when a point cannot be encoded.
func (c *HTTPClient) Write(bp BatchPoints) error {
	precision := bp.Precision
	if precision == "" {
		precision = "ns"
	}
	if !validPrecision(precision) {
		return errors.Errorf("invalid precision %q", bp.Precision)
	}

	b := c.buffers.Get()
	defer b.Close()
	for _, p := range bp.Points {
		line, err := p.Bytes(precision)
		if err != nil {
			return errors.Wrapf(err, "invalid point %q", p.Name)
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	params := url.Values{}
	params.Set("db", bp.Database)
	if bp.RetentionPolicy != "" {
		params.Set("rp", bp.RetentionPolicy)
	}
	params.Set("precision", precision)
	req, err := http.NewRequest(http.MethodPost, c.endpoint("write", params), bytes.NewReader(b.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	_, err = c.do(req, nil, http.StatusNoContent, http.StatusOK)
	return err
}

// Response is the body of a /query response.
type Response struct {
	Results []Result
	Err     string `json:"error,omitempty"`
}

// Error returns the request error or the first statement error.
func (r *Response) Error() error {
	if r.Err != "" {
		return errors.New(r.Err)
	}
	for _, result := range r.Results {
		if result.Err != "" {
			return errors.New(result.Err)
		}
	}
	return nil
}

type Result struct {
	Series []imodels.Row
	Err    string `json:"error,omitempty"`
}

func (c *HTTPClient) Query(q Query) (*Response, error) {
	params := url.Values{}
	params.Set("q", q.Command)
	if q.Database != "" {
		params.Set("db", q.Database)
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint("query", params), nil)
	if err != nil {
		return nil, err
	}
	response := new(Response)
	if _, err := c.do(req, response, http.StatusOK); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// BatchPoints are written in a single request. An empty Precision means ns.
type BatchPoints struct {
	Database        string
	RetentionPolicy string
	Precision       string
	Points          []Point
}

func validPrecision(p string) bool {
	switch p {
	case "ns", "u", "ms", "s", "m", "h":
		return true
	}
	return false
}

// ClientCreator creates HTTP clients.
type ClientCreator struct{}

func (ClientCreator) Create(config HTTPConfig) (Client, error) {
	return NewHTTPClient(config)
}

package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	"github.com/pkg/errors"
)

// Create builds a client tls.Config from optional CA, certificate and key files.
func Create(caFile, certFile, keyFile string, insecureSkipVerify bool) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
	}
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, errors.Wrap(err, "could not load TLS client key/certificate")
		}
		t.Certificates = []tls.Certificate{cert}
	case certFile != "":
		return nil, errors.New("must provide both key and cert files: only cert file provided")
	case keyFile != "":
		return nil, errors.New("must provide both key and cert files: only key file provided")
	}

	if caFile != "" {
		caCert, err := ioutil.ReadFile(caFile)
		if err != nil {
			return nil, errors.Wrap(err, "could not load TLS CA")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.Errorf("no certificates found in CA file %q", caFile)
		}
		t.RootCAs = pool
	}
	return t, nil
}

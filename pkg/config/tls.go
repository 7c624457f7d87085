package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/haptic-bridge/haptic-go/pkg/transport"
)

// Load reads the configured PEM files. It returns nil when TLS is not enabled.
func (t TLSConfig) Load() (*transport.TLSConfig, error) {
	if !t.Enabled() {
		return nil, nil
	}

	out := &transport.TLSConfig{InsecureSkipVerify: t.Insecure}
	if t.Cert != "" {
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		out.Certificate = cert
	}
	if t.CA != "" {
		pem, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("read tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", transport.ErrTLSConfig, t.CA)
		}
		out.RootCAs = pool
	}
	return out, nil
}

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// ALPNProtocol is negotiated on TLS connections.
const ALPNProtocol = "haptic/1"

// DefaultPort is used when a listen address carries no port.
const DefaultPort = 10010

// ErrTLSConfig reports an unusable TLS configuration.
var ErrTLSConfig = errors.New("invalid TLS configuration")

// TLSConfig enables TLS on a server or client. A nil *TLSConfig means plain TCP.
type TLSConfig struct {
	// Certificate presented by the server (required server side).
	Certificate tls.Certificate

	// RootCAs verifies the server certificate on the client side.
	// Nil uses the host's root set.
	RootCAs *x509.CertPool

	// ServerName overrides the name checked against the server certificate.
	ServerName string

	// InsecureSkipVerify disables server certificate verification.
	// Only for testing.
	InsecureSkipVerify bool
}

func newServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("%w: server certificate is required", ErrTLSConfig)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}, nil
}

func newClientTLSConfig(cfg *TLSConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		RootCAs:            cfg.RootCAs,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		NextProtos:         []string{ALPNProtocol},
	}
}

// verifyConnection checks the negotiated TLS parameters.
func verifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("%w: TLS version 0x%04x", ErrTLSConfig, state.Version)
	}
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("%w: ALPN %q", ErrTLSConfig, state.NegotiatedProtocol)
	}
	return nil
}

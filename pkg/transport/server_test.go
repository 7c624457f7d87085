package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// startEchoServer starts a server that echoes every message back.
func startEchoServer(t *testing.T, tlsCfg *TLSConfig, logger log.Logger) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Address:   "127.0.0.1:0",
		TLSConfig: tlsCfg,
		Logger:    logger,
		OnMessage: func(c *ServerConn, msg []byte) {
			_ = c.Send(msg)
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestServerEchoPlainTCP(t *testing.T) {
	logger := &captureLogger{}
	srv := startEchoServer(t, nil, logger)

	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	msg, _ := wire.EncodeFeedback([]float64{1, 2, 3})
	if err := conn.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := conn.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	fb, err := wire.DecodeFeedback(got)
	if err != nil {
		t.Fatalf("DecodeFeedback failed: %v", err)
	}
	if len(fb.Values) != 3 {
		t.Errorf("values = %v", fb.Values)
	}

	deadline := time.Now().Add(time.Second)
	for srv.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if srv.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", srv.ConnectionCount())
	}

	var connected bool
	for _, e := range logger.snapshot() {
		if e.StateChange != nil && e.StateChange.NewState == "CONNECTED" {
			connected = true
		}
	}
	if !connected {
		t.Error("no CONNECTED state event logged")
	}
}

func TestReceiveTimeout(t *testing.T) {
	srv := startEchoServer(t, nil, nil)
	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Receive(20 * time.Millisecond); !errors.Is(err, ErrReceiveTimeout) {
		t.Errorf("error = %v, want ErrReceiveTimeout", err)
	}
}

func TestServerAnswersPing(t *testing.T) {
	srv := startEchoServer(t, nil, nil)
	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var timedOut atomic.Bool
	conn.StartKeepAlive(context.Background(), KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    50 * time.Millisecond,
		MaxMissedPongs: 2,
	}, func() { timedOut.Store(true) })

	// Pongs are consumed by Receive, which keeps waiting for real messages.
	go conn.Receive(0)

	time.Sleep(150 * time.Millisecond)
	if timedOut.Load() {
		t.Error("keep-alive timed out against a live server")
	}
	conn.kaMu.Lock()
	stats := conn.keepAlive.Stats()
	conn.kaMu.Unlock()
	if stats.LastPongTime.IsZero() {
		t.Error("no pong received")
	}
}

func TestServerClose(t *testing.T) {
	srv := startEchoServer(t, nil, nil)
	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.SendClose(); err != nil {
		t.Fatalf("SendClose failed: %v", err)
	}
	if _, err := conn.Receive(time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("error = %v, want ErrConnectionClosed", err)
	}
	if err := conn.Send([]byte{1}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after close error = %v", err)
	}
}

func TestServerStopClosesClients(t *testing.T) {
	srv := startEchoServer(t, nil, nil)
	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := conn.Receive(time.Second); err == nil {
		t.Error("Receive succeeded after server stop")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := Dial(context.Background(), addr, ClientConfig{ConnectTimeout: 200 * time.Millisecond}); err == nil {
		t.Error("Dial to closed port succeeded")
	}
}

func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "hapticdevice"},
		DNSNames:     []string{"hapticdevice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

func TestServerEchoTLS(t *testing.T) {
	cert, pool := selfSignedCert(t)
	srv := startEchoServer(t, &TLSConfig{Certificate: cert}, nil)

	conn, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{
		TLSConfig: &TLSConfig{RootCAs: pool, ServerName: "hapticdevice"},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte{0xa0}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := conn.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 1 || got[0] != 0xa0 {
		t.Errorf("echo = %x", got)
	}
}

func TestNewServerRejectsTLSWithoutCertificate(t *testing.T) {
	if _, err := NewServer(ServerConfig{TLSConfig: &TLSConfig{}}); !errors.Is(err, ErrTLSConfig) {
		t.Errorf("error = %v, want ErrTLSConfig", err)
	}
}

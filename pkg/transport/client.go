package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// DefaultConnectTimeout bounds Dial when the context has no deadline.
const DefaultConnectTimeout = 5 * time.Second

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrReceiveTimeout   = errors.New("receive timeout")
)

// ClientConfig configures Dial.
type ClientConfig struct {
	// TLSConfig enables TLS. Nil means plain TCP.
	TLSConfig *TLSConfig

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout is used when ctx has no deadline (default: DefaultConnectTimeout).
	ConnectTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Dial connects to address.
func Dial(ctx context.Context, address string, config ClientConfig) (*ClientConn, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	conn := raw
	if config.TLSConfig != nil {
		tlsConn := tls.Client(raw, newClientTLSConfig(config.TLSConfig))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		if err := verifyConnection(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}
		conn = tlsConn
	}

	connID := uuid.New().String()
	framer := NewFramer(conn, config.MaxMessageSize)
	if config.Logger != nil {
		framer.SetLogger(config.Logger, connID, log.RoleClient)
	}

	return &ClientConn{
		conn:    conn,
		framer:  framer,
		connID:  connID,
		logger:  config.Logger,
		closeCh: make(chan struct{}),
	}, nil
}

// ClientConn is a connection from a client to a server.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	connID  string
	logger  log.Logger
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex

	kaMu      sync.Mutex
	keepAlive *KeepAlive
}

// ConnID returns the unique connection identifier.
func (c *ClientConn) ConnID() string {
	return c.connID
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetChannel labels the connection's log events.
func (c *ClientConn) SetChannel(name string) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.framer.SetChannel(name)
}

// Send writes one message.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive returns the next non-control message. Pongs are handed to the
// keep-alive, a close from the server closes the connection. A zero
// timeout waits forever.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrReceiveTimeout
			}
			select {
			case <-c.closeCh:
				return nil, ErrConnectionClosed
			default:
			}
			return nil, err
		}

		kind, err := wire.PeekKind(data)
		if err != nil || !kind.IsControl() {
			return data, nil
		}
		msg, err := wire.DecodeControlMessage(data)
		if err != nil {
			return data, nil
		}
		c.logControl(msg.Kind, msg.Sequence, log.DirectionIn)
		switch msg.Kind {
		case wire.KindPong:
			c.kaMu.Lock()
			ka := c.keepAlive
			c.kaMu.Unlock()
			if ka != nil {
				ka.PongReceived(msg.Sequence)
			}
		case wire.KindClose:
			c.Close()
			return nil, ErrConnectionClosed
		}
	}
}

// StartKeepAlive pings the server periodically. When pongs stop arriving
// the connection is closed and onTimeout (optional) is called.
func (c *ClientConn) StartKeepAlive(ctx context.Context, config KeepAliveConfig, onTimeout func()) {
	ka := NewKeepAlive(config, c.SendPing, func() {
		c.Close()
		if onTimeout != nil {
			onTimeout()
		}
	})

	c.kaMu.Lock()
	if c.keepAlive != nil {
		c.kaMu.Unlock()
		return
	}
	c.keepAlive = ka
	c.kaMu.Unlock()

	ka.Start(ctx)
}

// Close stops the keep-alive and closes the connection. Safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.kaMu.Lock()
		ka := c.keepAlive
		c.kaMu.Unlock()
		if ka != nil {
			ka.Stop()
		}
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *ClientConn) Done() <-chan struct{} {
	return c.closeCh
}

// SendPing sends a ping control message.
func (c *ClientConn) SendPing(seq uint32) error {
	msg, err := EncodePing(seq)
	if err != nil {
		return err
	}
	if err := c.Send(msg); err != nil {
		return err
	}
	c.logControl(wire.KindPing, seq, log.DirectionOut)
	return nil
}

// SendClose sends a close control message.
func (c *ClientConn) SendClose() error {
	msg, err := EncodeClose()
	if err != nil {
		return err
	}
	return c.Send(msg)
}

func (c *ClientConn) logControl(kind wire.Kind, seq uint32, dir log.Direction) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    log.RoleClient,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		ControlMsg: &log.ControlMsgEvent{
			Type:     log.ControlMsgTypeOf(kind),
			Sequence: seq,
		},
	})
}

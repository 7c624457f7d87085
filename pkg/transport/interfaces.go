package transport

import (
	"net"
	"time"
)

// Sender writes messages to a peer. Implemented by ServerConn and ClientConn.
type Sender interface {
	Send(data []byte) error
	RemoteAddr() net.Addr
	Close() error
}

// Receiver reads messages from a peer. Implemented by ClientConn.
type Receiver interface {
	Receive(timeout time.Duration) ([]byte, error)
}

// FrameReadWriter provides length-prefixed frame I/O. Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var (
	_ Sender          = (*ServerConn)(nil)
	_ Sender          = (*ClientConn)(nil)
	_ Receiver        = (*ClientConn)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)

package service

import (
	"sync/atomic"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// peer is the server-side view of one connection.
type peer struct {
	conn    *transport.ServerConn
	channel wire.Channel
	name    string

	// out queues encoded frames for state connections.
	out     chan []byte
	dropped atomic.Uint64
}

// writeLoop drains queued frames onto the connection.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.conn.Done():
			return
		case data := <-p.out:
			if err := p.conn.Send(data); err != nil {
				return
			}
		}
	}
}

func (s *ControlServer) handleConnect(conn *transport.ServerConn) {
	s.connsMu.Lock()
	s.conns[conn] = &peer{conn: conn}
	s.connsMu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Debug("connection accepted", "conn", conn.ConnID(), "remote", conn.RemoteAddr().String())
	}
}

func (s *ControlServer) handleDisconnect(conn *transport.ServerConn) {
	s.connsMu.Lock()
	p := s.conns[conn]
	delete(s.conns, conn)
	s.connsMu.Unlock()

	if s.config.Logger != nil && p != nil {
		s.config.Logger.Debug("connection closed",
			"conn", conn.ConnID(),
			"channel", p.channel.String(),
			"peer", p.name,
			"dropped", p.dropped.Load())
	}
}

func (s *ControlServer) handleError(conn *transport.ServerConn, err error) {
	if s.config.Logger != nil {
		if conn != nil {
			s.config.Logger.Debug("connection error", "conn", conn.ConnID(), "error", err)
		} else {
			s.config.Logger.Warn("listener error", "error", err)
		}
	}
}

func (s *ControlServer) peer(conn *transport.ServerConn) *peer {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return s.conns[conn]
}

// handleMessage runs on the connection's read loop.
func (s *ControlServer) handleMessage(conn *transport.ServerConn, data []byte) {
	p := s.peer(conn)
	if p == nil {
		return
	}

	kind, err := wire.PeekKind(data)
	if err != nil {
		s.logError(conn, err, "peek kind")
		return
	}

	switch kind {
	case wire.KindHello:
		s.handleHello(p, data)
	case wire.KindFeedback:
		s.handleFeedback(p, data)
	case wire.KindRequest:
		s.handleRequest(p, data)
	default:
		if s.config.Logger != nil {
			s.config.Logger.Debug("unexpected message", "conn", conn.ConnID(), "kind", kind.String())
		}
	}
}

func (s *ControlServer) handleHello(p *peer, data []byte) {
	hello, err := wire.DecodeHello(data)
	if err != nil {
		s.logError(p.conn, err, "decode hello")
		p.conn.Close()
		return
	}

	s.connsMu.Lock()
	if p.channel != 0 {
		s.connsMu.Unlock()
		if s.config.Logger != nil {
			s.config.Logger.Debug("duplicate hello ignored", "conn", p.conn.ConnID())
		}
		return
	}
	p.channel = hello.Channel
	p.name = hello.Name
	if hello.Channel == wire.ChannelState {
		p.out = make(chan []byte, s.config.SubscriberBuffer)
	}
	s.connsMu.Unlock()

	switch hello.Channel {
	case wire.ChannelState:
		p.conn.SetChannel(ChannelName(s.config.Name, StateSuffix))
		go p.writeLoop()
	case wire.ChannelRPC:
		p.conn.SetChannel(ChannelName(s.config.Name, RPCSuffix))
	}

	if s.config.Logger != nil {
		s.config.Logger.Info("peer connected",
			"channel", hello.Channel.String(),
			"peer", hello.Name,
			"remote", p.conn.RemoteAddr().String())
	}
}

// handleFeedback latches the first three components. Shorter vectors are ignored.
func (s *ControlServer) handleFeedback(p *peer, data []byte) {
	if p.channel != wire.ChannelState {
		return
	}
	fb, err := wire.DecodeFeedback(data)
	if err != nil {
		s.logError(p.conn, err, "decode feedback")
		return
	}
	v, err := haptic.VectorFrom(fb.Values)
	if err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Debug("short feedback ignored", "peer", p.name, "len", len(fb.Values))
		}
		return
	}
	s.postFeedback(v)
}

// broadcast queues data on every state connection. A full queue drops the frame.
func (s *ControlServer) broadcast(data []byte) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	for _, p := range s.conns {
		if p.out == nil {
			continue
		}
		select {
		case p.out <- data:
		default:
			p.dropped.Add(1)
			s.dropped.Add(1)
		}
	}
}

func (s *ControlServer) logError(conn *transport.ServerConn, err error, context string) {
	if s.config.Logger != nil {
		s.config.Logger.Debug("message error", "conn", conn.ConnID(), "context", context, "error", err)
	}
	if s.config.ProtocolLogger == nil {
		return
	}
	e := log.NewErrorEvent(conn.ConnID(), log.RoleServer, log.LayerService, err, context)
	e.RemoteAddr = conn.RemoteAddr().String()
	s.config.ProtocolLogger.Log(e)
}

func (s *ControlServer) logMessage(p *peer, dir log.Direction, msg *log.MessageEvent) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: p.conn.ConnID(),
		Direction:    dir,
		Layer:        log.LayerService,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   p.conn.RemoteAddr().String(),
		Channel:      ChannelName(s.config.Name, RPCSuffix),
		Message:      msg,
	})
}

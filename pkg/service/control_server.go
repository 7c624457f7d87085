package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// ControlServer serves one haptic.Device to remote clients.
type ControlServer struct {
	config ServerConfig
	server *transport.Server

	// mu guards the device reference and the feedback latch. It is held
	// for device calls only, never across network writes.
	mu             sync.Mutex
	device         haptic.Device
	latch          haptic.Vector3
	feedbackActive bool
	stamp          haptic.Stamp
	samplerCancel  context.CancelFunc
	samplerDone    chan struct{}

	// inbox holds the most recent unconsumed feedback vector.
	inbox chan haptic.Vector3

	connsMu sync.RWMutex
	conns   map[*transport.ServerConn]*peer

	dropped atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewControlServer creates a server. It does not listen until Start.
func NewControlServer(config ServerConfig) *ControlServer {
	config.applyDefaults()
	return &ControlServer{
		config: config,
		inbox:  make(chan haptic.Vector3, 1),
		conns:  make(map[*transport.ServerConn]*peer),
	}
}

// Start listens for connections.
func (s *ControlServer) Start(ctx context.Context) error {
	if s.server != nil {
		return ErrAlreadyStarted
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Address:      s.config.ListenAddress,
		TLSConfig:    s.config.TLSConfig,
		Logger:       s.config.ProtocolLogger,
		OnConnect:    s.handleConnect,
		OnDisconnect: s.handleDisconnect,
		OnMessage:    s.handleMessage,
		OnError:      s.handleError,
	})
	if err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := server.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	s.server = server

	if s.config.Logger != nil {
		s.config.Logger.Info("control server listening",
			"name", s.config.Name,
			"addr", server.Addr().String(),
			"period", s.config.Period)
	}
	return nil
}

// Stop detaches the device (if any) and closes every connection.
func (s *ControlServer) Stop() error {
	if s.server == nil {
		return ErrNotStarted
	}
	if err := s.Detach(); err != nil && !errors.Is(err, ErrNotAttached) {
		if s.config.Logger != nil {
			s.config.Logger.Warn("detach on stop failed", "error", err)
		}
	}
	err := s.server.Stop()
	s.cancel()
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *ControlServer) Addr() net.Addr {
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Name returns the server endpoint name.
func (s *ControlServer) Name() string {
	return s.config.Name
}

// Period returns the sample period.
func (s *ControlServer) Period() time.Duration {
	return s.config.Period
}

// Attach starts serving dev. A device is rejected if its mode probe fails.
func (s *ControlServer) Attach(dev haptic.Device) error {
	if dev == nil {
		return ErrInvalidDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return ErrAlreadyAttached
	}
	if _, err := dev.IsCartesianForceModeEnabled(); err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error("device probe failed", "error", err)
		}
		return fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}

	s.device = dev
	s.latch = haptic.Vector3{}
	s.feedbackActive = false
	s.drainInbox()

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.samplerCancel = cancel
	s.samplerDone = make(chan struct{})
	go s.sampleLoop(ctx, s.samplerDone)

	s.logState(log.StateEntityDevice, "DETACHED", "ATTACHED", "")
	if s.config.Logger != nil {
		s.config.Logger.Info("device attached", "name", s.config.Name)
	}
	return nil
}

// Detach stops sampling and drops the device. A device with active
// feedback is stopped first.
func (s *ControlServer) Detach() error {
	s.mu.Lock()
	if s.device == nil {
		s.mu.Unlock()
		return ErrNotAttached
	}
	cancel, done := s.samplerCancel, s.samplerDone
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.feedbackActive {
		err = s.device.StopFeedback()
	}
	s.device = nil
	s.latch = haptic.Vector3{}
	s.feedbackActive = false
	s.samplerCancel = nil
	s.samplerDone = nil

	s.logState(log.StateEntityDevice, "ATTACHED", "DETACHED", "")
	if s.config.Logger != nil {
		s.config.Logger.Info("device detached", "name", s.config.Name)
	}
	return err
}

// FeedbackActive reports whether feedback is being forwarded.
func (s *ControlServer) FeedbackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedbackActive
}

// LastStamp returns the stamp of the most recent frame.
func (s *ControlServer) LastStamp() haptic.Stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamp
}

// Stats returns server counters.
func (s *ControlServer) Stats() ServerStats {
	s.mu.Lock()
	st := ServerStats{
		Seq:            s.stamp.Seq,
		FeedbackActive: s.feedbackActive,
		Attached:       s.device != nil,
	}
	s.mu.Unlock()

	s.connsMu.RLock()
	for _, p := range s.conns {
		if p.channel == wire.ChannelState {
			st.Subscribers++
		}
	}
	s.connsMu.RUnlock()
	st.Dropped = s.dropped.Load()
	return st
}

func (s *ControlServer) sampleLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample reads the device, broadcasts one frame and forwards feedback.
func (s *ControlServer) sample() {
	s.mu.Lock()
	dev := s.device
	if dev == nil {
		s.mu.Unlock()
		return
	}
	values, err := readFrame(dev)
	var stamp haptic.Stamp
	if err == nil {
		s.stamp = haptic.Stamp{Seq: s.stamp.Seq + 1, Time: time.Now()}
		stamp = s.stamp
	}
	s.mu.Unlock()

	if err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Debug("sample skipped", "error", err)
		}
	} else if data, err := wire.EncodeFrame(stamp.Seq, stamp.Time, values); err == nil {
		s.broadcast(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return
	}
	select {
	case v := <-s.inbox:
		s.latch = v
		if !s.feedbackActive {
			s.feedbackActive = true
			s.logState(log.StateEntityFeedback, "IDLE", "ACTIVE", "")
		}
	default:
	}
	if s.feedbackActive {
		if err := s.device.SetFeedback(s.latch[:]); err != nil && s.config.Logger != nil {
			s.config.Logger.Debug("forward feedback failed", "error", err)
		}
	}
}

// readFrame returns position(3) + orientation(3) + buttons(N).
func readFrame(dev haptic.Device) ([]float64, error) {
	pos, err := dev.Position()
	if err != nil {
		return nil, err
	}
	ori, err := dev.Orientation()
	if err != nil {
		return nil, err
	}
	btn, err := dev.Buttons()
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, 6+len(btn))
	values = append(values, pos[:]...)
	values = append(values, ori[:]...)
	values = append(values, btn...)
	return values, nil
}

// postFeedback stores v in the inbox, replacing any unconsumed vector.
func (s *ControlServer) postFeedback(v haptic.Vector3) {
	for {
		select {
		case s.inbox <- v:
			return
		default:
		}
		select {
		case <-s.inbox:
		default:
		}
	}
}

func (s *ControlServer) drainInbox() {
	select {
	case <-s.inbox:
	default:
	}
}

func (s *ControlServer) logState(entity log.StateEntity, oldState, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	e := log.NewStateEvent("", log.RoleServer, entity, oldState, newState, reason)
	e.Layer = log.LayerService
	e.Channel = s.config.Name
	s.config.ProtocolLogger.Log(e)
}

package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

func (s *ControlServer) handleRequest(p *peer, data []byte) {
	received := time.Now()

	req, err := wire.DecodeRequest(data)
	if err != nil {
		s.logError(p.conn, err, "decode request")
		s.sendReply(p, wire.Nack(wire.PeekMessageID(data)), "", received)
		return
	}
	s.logMessage(p, log.DirectionIn, &log.MessageEvent{
		Kind:      wire.KindRequest,
		MessageID: req.MessageID,
		Command:   req.Command,
		Values:    req.Values,
	})

	var reply *wire.Reply
	if p.channel != wire.ChannelRPC {
		reply = wire.Nack(req.MessageID)
		err = fmt.Errorf("request on %s channel", p.channel)
	} else {
		reply, err = s.execute(req)
	}
	if err != nil && s.config.Logger != nil {
		s.config.Logger.Debug("command rejected", "command", req.Command, "id", req.MessageID, "error", err)
	}

	s.sendReply(p, reply, req.Command, received)
}

// sendReply encodes and sends reply, then records it with the time spent
// since the request arrived.
func (s *ControlServer) sendReply(p *peer, reply *wire.Reply, command string, received time.Time) {
	out, err := wire.EncodeReply(reply)
	if err != nil {
		s.logError(p.conn, err, "encode reply")
		return
	}
	if err := p.conn.Send(out); err != nil {
		s.logError(p.conn, err, "send reply")
		return
	}

	elapsed := time.Since(received)
	s.logMessage(p, log.DirectionOut, &log.MessageEvent{
		Kind:           wire.KindReply,
		MessageID:      reply.MessageID,
		Command:        command,
		Code:           reply.Code,
		Values:         reply.Values,
		ProcessingTime: &elapsed,
	})
}

// execute runs one command against the attached device. Any failure
// yields a nack and the error that caused it.
func (s *ControlServer) execute(req *wire.Request) (*wire.Reply, error) {
	nack := wire.Nack(req.MessageID)

	cmd, err := wire.ParseCommand(req.Command)
	if err != nil {
		return nack, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev := s.device
	if dev == nil {
		return nack, ErrNotAttached
	}

	ack := wire.Ack(req.MessageID)
	switch cmd {
	case wire.CommandSetTransform:
		m, err := req.Transform()
		if err != nil {
			return nack, err
		}
		if err := dev.SetTransformation(m); err != nil {
			return nack, err
		}
		return ack, nil

	case wire.CommandGetTransform:
		t, err := dev.Transformation()
		if err != nil {
			return nack, err
		}
		return ack.WithValues(haptic.Row16(t)), nil

	case wire.CommandStopFeedback:
		if err := dev.StopFeedback(); err != nil {
			return nack, err
		}
		s.latch = haptic.Vector3{}
		s.drainInbox()
		if s.feedbackActive {
			s.feedbackActive = false
			s.logState(log.StateEntityFeedback, "ACTIVE", "IDLE", "stop requested")
		}
		return ack, nil

	case wire.CommandIsCartesian:
		on, err := dev.IsCartesianForceModeEnabled()
		if err != nil {
			return nack, err
		}
		return ack.WithFlag(on), nil

	case wire.CommandSetCartesian:
		if err := dev.SetCartesianForceMode(); err != nil {
			return nack, err
		}
		return ack, nil

	case wire.CommandSetJoint:
		if err := dev.SetJointTorqueMode(); err != nil {
			return nack, err
		}
		return ack, nil

	case wire.CommandGetMax:
		m, err := dev.MaxFeedback()
		if err != nil {
			return nack, err
		}
		return ack.WithValues(m.Slice()), nil
	}
	return nack, errors.New("unhandled command")
}

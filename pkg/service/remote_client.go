package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/discovery"
	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// RemoteClient is a haptic.Device served by a remote ControlServer.
type RemoteClient struct {
	config ClientConfig

	// mu guards the connection handles and the cached frame.
	mu     sync.RWMutex
	state  *transport.ClientConn
	rpc    *transport.ClientConn
	calls  *rpcClient
	frame  []float64
	stamp  haptic.Stamp
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ haptic.Device = (*RemoteClient)(nil)

// NewRemoteClient creates a client. It does not connect until Open.
func NewRemoteClient(config ClientConfig) *RemoteClient {
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = DefaultReplyTimeout
	}
	return &RemoteClient{config: config}
}

// Open resolves the remote, then dials the state and rpc connections.
// On failure every connection opened so far is closed.
func (c *RemoteClient) Open(ctx context.Context) error {
	if c.config.Remote == "" {
		return fmt.Errorf("%w: remote", ErrMissingOption)
	}
	if c.config.Local == "" {
		return fmt.Errorf("%w: local", ErrMissingOption)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		return ErrAlreadyOpen
	}

	addr, err := discovery.Resolve(ctx, c.config.Remote, c.config.Interface)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.config.Remote, err)
	}

	state, err := c.dial(ctx, addr, wire.ChannelState, StateSuffix)
	if err != nil {
		return err
	}
	rpc, err := c.dial(ctx, addr, wire.ChannelRPC, RPCSuffix)
	if err != nil {
		state.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.state = state
	c.rpc = rpc
	c.calls = newRPCClient(rpc, c.config.ReplyTimeout)
	c.frame = nil
	c.stamp = haptic.Stamp{}
	c.cancel = cancel

	c.wg.Add(2)
	go c.stateLoop(state)
	go c.rpcLoop(rpc, c.calls)

	if !c.config.DisableKeepAlive {
		rpc.StartKeepAlive(loopCtx, c.config.KeepAlive, func() {
			if c.config.Logger != nil {
				c.config.Logger.Warn("server stopped answering pings", "remote", c.config.Remote)
			}
		})
	}

	if c.config.Logger != nil {
		c.config.Logger.Info("connected to control server",
			"remote", c.config.Remote,
			"addr", addr,
			"local", c.config.Local)
	}
	return nil
}

func (c *RemoteClient) dial(ctx context.Context, addr string, ch wire.Channel, suffix string) (*transport.ClientConn, error) {
	conn, err := transport.Dial(ctx, addr, transport.ClientConfig{
		TLSConfig: c.config.TLSConfig,
		Logger:    c.config.ProtocolLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s channel: %w", ch, err)
	}
	conn.SetChannel(ChannelName(c.config.Local, suffix))

	hello, err := wire.EncodeHello(ch, c.config.Local)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s channel hello: %w", ch, err)
	}
	return conn, nil
}

// Close shuts both connections and waits for the read loops.
func (c *RemoteClient) Close() error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return nil
	}
	state, rpc, calls, cancel := c.state, c.rpc, c.calls, c.cancel
	c.state, c.rpc, c.calls, c.cancel = nil, nil, nil, nil
	c.mu.Unlock()

	cancel()
	calls.close()
	_ = state.SendClose()
	_ = rpc.SendClose()
	err := errors.Join(state.Close(), rpc.Close())
	c.wg.Wait()
	return err
}

func (c *RemoteClient) stateLoop(conn *transport.ClientConn) {
	defer c.wg.Done()
	defer conn.Close()

	for {
		data, err := conn.Receive(0)
		if err != nil {
			if c.config.Logger != nil && !errors.Is(err, transport.ErrConnectionClosed) {
				c.config.Logger.Debug("state connection ended", "error", err)
			}
			return
		}
		kind, err := wire.PeekKind(data)
		if err != nil || kind != wire.KindFrame {
			continue
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			continue
		}

		c.mu.Lock()
		if frame.Seq >= c.stamp.Seq {
			c.frame = frame.Values
			c.stamp = haptic.Stamp{Seq: frame.Seq, Time: frame.Timestamp()}
		}
		c.mu.Unlock()
	}
}

func (c *RemoteClient) rpcLoop(conn *transport.ClientConn, calls *rpcClient) {
	defer c.wg.Done()
	defer conn.Close()
	defer calls.close()

	for {
		data, err := conn.Receive(0)
		if err != nil {
			if c.config.Logger != nil && !errors.Is(err, transport.ErrConnectionClosed) {
				c.config.Logger.Debug("rpc connection ended", "error", err)
			}
			return
		}
		reply, err := wire.DecodeReply(data)
		if err != nil {
			continue
		}
		if err := calls.handleReply(reply); err != nil && c.config.Logger != nil {
			c.config.Logger.Debug("late reply dropped", "id", reply.MessageID)
		}
	}
}

// LastInputStamp returns the stamp of the most recent frame.
func (c *RemoteClient) LastInputStamp() haptic.Stamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stamp
}

// cached returns count values starting at offset from the latest frame.
func (c *RemoteClient) cached(offset, count int) ([]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == nil {
		return nil, ErrNotOpen
	}
	if c.frame == nil {
		return nil, ErrNoData
	}
	if count < 0 {
		count = len(c.frame) - offset
	}
	if offset+count > len(c.frame) || count < 0 {
		return nil, fmt.Errorf("%w: frame has %d values", ErrUnexpectedReply, len(c.frame))
	}
	return append([]float64(nil), c.frame[offset:offset+count]...), nil
}

// Position returns the cached position.
func (c *RemoteClient) Position() (haptic.Vector3, error) {
	v, err := c.cached(0, 3)
	if err != nil {
		return haptic.Vector3{}, err
	}
	return haptic.VectorFrom(v)
}

// Orientation returns the cached orientation.
func (c *RemoteClient) Orientation() (haptic.Vector3, error) {
	v, err := c.cached(3, 3)
	if err != nil {
		return haptic.Vector3{}, err
	}
	return haptic.VectorFrom(v)
}

// Buttons returns the cached button states.
func (c *RemoteClient) Buttons() (haptic.Buttons, error) {
	v, err := c.cached(6, -1)
	if err != nil {
		return nil, err
	}
	return haptic.Buttons(v), nil
}

// SetFeedback publishes v on the state connection. It does not wait for
// the server.
func (c *RemoteClient) SetFeedback(v []float64) error {
	if len(v) < 3 {
		return haptic.ErrShortVector
	}
	c.mu.RLock()
	conn := c.state
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotOpen
	}

	data, err := wire.EncodeFeedback(v[:3])
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (c *RemoteClient) call(cmd wire.Command, build func(*wire.Request)) (*wire.Reply, error) {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return nil, ErrNotOpen
	}

	req := wire.NewRequest(0, cmd)
	if build != nil {
		build(req)
	}
	return calls.call(context.Background(), req)
}

// StopFeedback zeroes the server latch and disarms forwarding.
func (c *RemoteClient) StopFeedback() error {
	_, err := c.call(wire.CommandStopFeedback, nil)
	return err
}

// IsCartesianForceModeEnabled queries the server.
func (c *RemoteClient) IsCartesianForceModeEnabled() (bool, error) {
	reply, err := c.call(wire.CommandIsCartesian, nil)
	if err != nil {
		return false, err
	}
	if reply.Flag == nil {
		return false, fmt.Errorf("%w: missing flag", ErrUnexpectedReply)
	}
	return *reply.Flag != 0, nil
}

// SetCartesianForceMode switches the remote device to Cartesian force output.
func (c *RemoteClient) SetCartesianForceMode() error {
	_, err := c.call(wire.CommandSetCartesian, nil)
	return err
}

// SetJointTorqueMode switches the remote device to joint torque output.
func (c *RemoteClient) SetJointTorqueMode() error {
	_, err := c.call(wire.CommandSetJoint, nil)
	return err
}

// MaxFeedback returns the remote per-axis ceiling.
func (c *RemoteClient) MaxFeedback() (haptic.Vector3, error) {
	reply, err := c.call(wire.CommandGetMax, nil)
	if err != nil {
		return haptic.Vector3{}, err
	}
	v, err := haptic.VectorFrom(reply.Values)
	if err != nil {
		return haptic.Vector3{}, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}
	return v, nil
}

// Transformation returns the remote transform.
func (c *RemoteClient) Transformation() (*mat.Dense, error) {
	reply, err := c.call(wire.CommandGetTransform, nil)
	if err != nil {
		return nil, err
	}
	if len(reply.Values) != 16 {
		return nil, fmt.Errorf("%w: %d transform values", ErrUnexpectedReply, len(reply.Values))
	}
	return mat.NewDense(4, 4, reply.Values), nil
}

// SetTransformation sends m as a matrix block. Size and rank are checked by the server.
func (c *RemoteClient) SetTransformation(m mat.Matrix) error {
	if m == nil {
		return haptic.ErrMatrixTooSmall
	}
	_, err := c.call(wire.CommandSetTransform, func(req *wire.Request) {
		req.Matrix = wire.NewMatrixBlock(m)
	})
	return err
}

// Connected reports whether both connections are up.
func (c *RemoteClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return false
	}
	select {
	case <-c.rpc.Done():
		return false
	case <-c.state.Done():
		return false
	default:
		return true
	}
}

// Timeout returns the command reply timeout.
func (c *RemoteClient) Timeout() time.Duration {
	return c.config.ReplyTimeout
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
	"github.com/haptic-bridge/haptic-go/pkg/wire"
)

// fakeDevice is an in-memory haptic.Device.
type fakeDevice struct {
	mu        sync.Mutex
	probeErr  error
	position  haptic.Vector3
	cartesian bool
	feedback  [][]float64
	stops     int
	transform *mat.Dense
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{cartesian: true, transform: haptic.Identity()}
}

func (d *fakeDevice) Position() (haptic.Vector3, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position, nil
}

func (d *fakeDevice) Orientation() (haptic.Vector3, error) { return haptic.Vector3{}, nil }
func (d *fakeDevice) Buttons() (haptic.Buttons, error)     { return haptic.Buttons{0, 1}, nil }

func (d *fakeDevice) IsCartesianForceModeEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cartesian, d.probeErr
}

func (d *fakeDevice) SetCartesianForceMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cartesian = true
	return nil
}

func (d *fakeDevice) SetJointTorqueMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cartesian = false
	return nil
}

func (d *fakeDevice) MaxFeedback() (haptic.Vector3, error) { return haptic.Vector3{1, 1, 1}, nil }

func (d *fakeDevice) SetFeedback(v []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feedback = append(d.feedback, append([]float64(nil), v...))
	return nil
}

func (d *fakeDevice) StopFeedback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Transformation() (*mat.Dense, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return mat.DenseCopyOf(d.transform), nil
}

func (d *fakeDevice) SetTransformation(m mat.Matrix) error {
	t, err := haptic.Transform4(m)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transform = t
	return nil
}

func (d *fakeDevice) lastFeedback() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.feedback) == 0 {
		return nil
	}
	return d.feedback[len(d.feedback)-1]
}

func (d *fakeDevice) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// captureLogger records protocol events.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) stateChanges(entity log.StateEntity) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if e.StateChange != nil && e.StateChange.Entity == entity {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func startServer(t *testing.T, config ServerConfig) *ControlServer {
	t.Helper()
	config.ListenAddress = "127.0.0.1:0"
	if config.Period == 0 {
		config.Period = 5 * time.Millisecond
	}
	srv := NewControlServer(config)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// rawConn opens a connection and sends hello for ch.
func rawConn(t *testing.T, srv *ControlServer, ch wire.Channel) *transport.ClientConn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), srv.Addr().String(), transport.ClientConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello, err := wire.EncodeHello(ch, "/test")
	require.NoError(t, err)
	require.NoError(t, conn.Send(hello))
	return conn
}

func rawCall(t *testing.T, conn *transport.ClientConn, req *wire.Request) *wire.Reply {
	t.Helper()
	data, err := wire.EncodeRequest(req)
	require.NoError(t, err)
	require.NoError(t, conn.Send(data))

	resp, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	reply, err := wire.DecodeReply(resp)
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, reply.MessageID)
	return reply
}

func TestAttachRejects(t *testing.T) {
	srv := NewControlServer(ServerConfig{})

	assert.ErrorIs(t, srv.Attach(nil), ErrInvalidDevice)

	broken := newFakeDevice()
	broken.probeErr = errors.New("device gone")
	assert.ErrorIs(t, srv.Attach(broken), ErrAttachFailed)
	assert.False(t, srv.Stats().Attached)

	dev := newFakeDevice()
	require.NoError(t, srv.Attach(dev))
	assert.ErrorIs(t, srv.Attach(newFakeDevice()), ErrAlreadyAttached)

	require.NoError(t, srv.Detach())
	assert.ErrorIs(t, srv.Detach(), ErrNotAttached)
}

func TestNoDeviceNackCarriesNoPayload(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	conn := rawConn(t, srv, wire.ChannelRPC)

	for i, cmd := range []wire.Command{wire.CommandGetTransform, wire.CommandIsCartesian, wire.CommandGetMax} {
		reply := rawCall(t, conn, wire.NewRequest(uint32(i+1), cmd))
		assert.Equal(t, wire.CodeNack, reply.Code, cmd.String())
		assert.Nil(t, reply.Values)
		assert.Nil(t, reply.Flag)
	}
}

func TestOversizedMatrixBlockNack(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	dev := newFakeDevice()
	require.NoError(t, srv.Attach(dev))
	conn := rawConn(t, srv, wire.ChannelRPC)

	req := wire.NewRequest(3, wire.CommandSetTransform)
	req.Matrix = &wire.MatrixBlock{Rows: 4, Cols: 1 << 62}
	reply := rawCall(t, conn, req)
	assert.Equal(t, wire.CodeNack, reply.Code)

	// The server is still serving.
	reply = rawCall(t, conn, wire.NewRequest(4, wire.CommandGetTransform))
	require.True(t, reply.IsAck())
	assert.Equal(t, haptic.Row16(haptic.Identity()), reply.Values)
}

func TestMalformedRequestNack(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	require.NoError(t, srv.Attach(newFakeDevice()))
	conn := rawConn(t, srv, wire.ChannelRPC)

	tests := []struct {
		name   string
		msg    map[int]any
		wantID uint32
	}{
		{"integer command tag", map[int]any{1: wire.KindRequest, 2: 9, 3: 42}, 9},
		{"message id zero", map[int]any{1: wire.KindRequest, 2: 0, 3: "gmax"}, 0},
		{"values of wrong type", map[int]any{1: wire.KindRequest, 2: 11, 3: "stra", 4: "x"}, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := wire.Marshal(tt.msg)
			require.NoError(t, err)
			require.NoError(t, conn.Send(data))

			resp, err := conn.Receive(2 * time.Second)
			require.NoError(t, err)
			reply, err := wire.DecodeReply(resp)
			require.NoError(t, err)
			assert.Equal(t, wire.CodeNack, reply.Code)
			assert.Equal(t, tt.wantID, reply.MessageID)
			assert.Nil(t, reply.Values)
		})
	}
}

func TestFailedAttachLeavesServerIdle(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	broken := newFakeDevice()
	broken.probeErr = errors.New("device gone")
	require.Error(t, srv.Attach(broken))

	conn := rawConn(t, srv, wire.ChannelRPC)
	reply := rawCall(t, conn, wire.NewRequest(7, wire.CommandIsCartesian))
	assert.False(t, reply.IsAck())
}

func TestUnknownTagNack(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	require.NoError(t, srv.Attach(newFakeDevice()))
	conn := rawConn(t, srv, wire.ChannelRPC)

	req := &wire.Request{Kind: wire.KindRequest, MessageID: 3, Command: "zzzz"}
	reply := rawCall(t, conn, req)
	assert.Equal(t, wire.CodeNack, reply.Code)
}

func TestRequestOnStateChannelNack(t *testing.T) {
	srv := startServer(t, ServerConfig{Period: time.Hour})
	require.NoError(t, srv.Attach(newFakeDevice()))
	conn := rawConn(t, srv, wire.ChannelState)

	reply := rawCall(t, conn, wire.NewRequest(4, wire.CommandIsCartesian))
	assert.Equal(t, wire.CodeNack, reply.Code)
}

func TestCommandsAgainstDevice(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	dev := newFakeDevice()
	require.NoError(t, srv.Attach(dev))
	conn := rawConn(t, srv, wire.ChannelRPC)

	reply := rawCall(t, conn, wire.NewRequest(1, wire.CommandSetJoint))
	require.True(t, reply.IsAck())

	reply = rawCall(t, conn, wire.NewRequest(2, wire.CommandIsCartesian))
	require.True(t, reply.IsAck())
	require.NotNil(t, reply.Flag)
	assert.Equal(t, int64(0), *reply.Flag)

	reply = rawCall(t, conn, wire.NewRequest(3, wire.CommandGetMax))
	require.True(t, reply.IsAck())
	assert.Equal(t, []float64{1, 1, 1}, reply.Values)

	stra := wire.NewRequest(4, wire.CommandSetTransform)
	stra.Values = []float64{1, 0, 0, 5, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	require.True(t, rawCall(t, conn, stra).IsAck())

	reply = rawCall(t, conn, wire.NewRequest(5, wire.CommandGetTransform))
	require.True(t, reply.IsAck())
	assert.Equal(t, stra.Values, reply.Values)

	short := wire.NewRequest(6, wire.CommandSetTransform)
	short.Values = []float64{1, 2, 3}
	assert.False(t, rawCall(t, conn, short).IsAck())
}

func TestBroadcastFramesStamped(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	dev := newFakeDevice()
	dev.position = haptic.Vector3{0.1, 0.2, 0.3}
	require.NoError(t, srv.Attach(dev))
	conn := rawConn(t, srv, wire.ChannelState)

	var last uint64
	for i := 0; i < 5; i++ {
		data, err := conn.Receive(2 * time.Second)
		require.NoError(t, err)
		frame, err := wire.DecodeFrame(data)
		require.NoError(t, err)
		assert.Greater(t, frame.Seq, last)
		last = frame.Seq
		assert.Equal(t, []float64{0.1, 0.2, 0.3, 0, 0, 0, 0, 1}, frame.Values)
	}
}

func TestFeedbackArmAndStop(t *testing.T) {
	events := &captureLogger{}
	srv := startServer(t, ServerConfig{ProtocolLogger: events})
	dev := newFakeDevice()
	require.NoError(t, srv.Attach(dev))

	state := rawConn(t, srv, wire.ChannelState)
	rpc := rawConn(t, srv, wire.ChannelRPC)

	// Short vectors are ignored and do not arm feedback.
	short, err := wire.EncodeFeedback([]float64{1, 2})
	require.NoError(t, err)
	require.NoError(t, state.Send(short))

	fb, err := wire.EncodeFeedback([]float64{0.5, -0.5, 0.25, 99})
	require.NoError(t, err)
	require.NoError(t, state.Send(fb))

	require.Eventually(t, srv.FeedbackActive, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		got := dev.lastFeedback()
		return len(got) == 3 && got[0] == 0.5 && got[1] == -0.5 && got[2] == 0.25
	}, 2*time.Second, time.Millisecond)

	require.True(t, rawCall(t, rpc, wire.NewRequest(9, wire.CommandStopFeedback)).IsAck())
	assert.False(t, srv.FeedbackActive())
	assert.Equal(t, 1, dev.stopCount())
	assert.Equal(t, []string{"ATTACHED", "ACTIVE", "IDLE"}, append(
		events.stateChanges(log.StateEntityDevice),
		events.stateChanges(log.StateEntityFeedback)...))
}

func TestDetachStopsActiveFeedback(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	dev := newFakeDevice()
	require.NoError(t, srv.Attach(dev))

	state := rawConn(t, srv, wire.ChannelState)
	fb, err := wire.EncodeFeedback([]float64{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, state.Send(fb))
	require.Eventually(t, srv.FeedbackActive, 2*time.Second, time.Millisecond)

	require.NoError(t, srv.Detach())
	assert.Equal(t, 1, dev.stopCount())

	seq := srv.Stats().Seq
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seq, srv.Stats().Seq)
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	srv := NewControlServer(ServerConfig{})
	p := &peer{channel: wire.ChannelState, out: make(chan []byte, 1)}
	srv.conns[nil] = p

	srv.broadcast([]byte{1})
	srv.broadcast([]byte{2})
	srv.broadcast([]byte{3})

	assert.Equal(t, uint64(2), p.dropped.Load())
	assert.Equal(t, uint64(2), srv.Stats().Dropped)
	assert.Equal(t, []byte{1}, <-p.out)
}

func TestPostFeedbackLatestWins(t *testing.T) {
	srv := NewControlServer(ServerConfig{})
	srv.postFeedback(haptic.Vector3{1, 1, 1})
	srv.postFeedback(haptic.Vector3{2, 2, 2})
	assert.Equal(t, haptic.Vector3{2, 2, 2}, <-srv.inbox)
}

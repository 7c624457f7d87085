package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/device"
	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/service"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestBuiltinsRegistered(t *testing.T) {
	assert.Subset(t, Names(), []string{NameLoopback, NameRemote, NameSim})
}

func TestRegisterDuplicate(t *testing.T) {
	assert.ErrorIs(t, Register(NameSim, newSim), ErrDuplicate)
}

func TestCreateUnknown(t *testing.T) {
	_, err := Create("phantom", Config{})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestCreateSim(t *testing.T) {
	dev, err := Create(NameSim, Config{})
	require.NoError(t, err)
	defer dev.Close()

	on, err := dev.IsCartesianForceModeEnabled()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, dev.SetJointTorqueMode())
	ceiling, err := dev.MaxFeedback()
	require.NoError(t, err)
	assert.Equal(t, device.DefaultJointLimit, ceiling[0])
}

func TestCreateRemoteMissingOptions(t *testing.T) {
	_, err := Create(NameRemote, Config{})
	assert.ErrorIs(t, err, service.ErrMissingOption)
}

func TestLoopbackEchoesSaturatedOutput(t *testing.T) {
	dev, err := Create(NameLoopback, Config{})
	require.NoError(t, err)

	require.NoError(t, dev.SetFeedback([]float64{5, -0.5, 0}))
	pos, err := dev.Position()
	require.NoError(t, err)
	assert.True(t, cmp.Equal(pos, haptic.Vector3{LoopbackMaxForce, -0.5, 0}, approx), pos)

	require.NoError(t, dev.StopFeedback())
	pos, err = dev.Position()
	require.NoError(t, err)
	assert.Equal(t, haptic.Vector3{}, pos)
}

func TestLoopbackTransform(t *testing.T) {
	l := NewLoopback(haptic.Vector3{})

	tr := mat.NewDense(4, 4, []float64{
		1, 0, 0, 2,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	require.NoError(t, l.SetTransformation(tr))
	pos, err := l.Position()
	require.NoError(t, err)
	assert.True(t, cmp.Equal(pos, haptic.Vector3{2, 0, 0}, approx), pos)

	assert.ErrorIs(t, l.SetTransformation(mat.NewDense(2, 2, nil)), haptic.ErrMatrixTooSmall)

	got, err := l.Transformation()
	require.NoError(t, err)
	assert.True(t, mat.Equal(tr, got))
}

func TestLoopbackClosed(t *testing.T) {
	l := NewLoopback(haptic.Vector3{})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Position()
	assert.ErrorIs(t, err, device.ErrNotOpen)
	assert.ErrorIs(t, l.SetFeedback([]float64{1, 1, 1}), device.ErrNotOpen)
}

func TestLoopbackServedEndToEnd(t *testing.T) {
	srv := service.NewControlServer(service.ServerConfig{ListenAddress: "127.0.0.1:0"})
	require.NoError(t, srv.Start(t.Context()))
	defer srv.Stop()
	require.NoError(t, srv.Attach(NewLoopback(haptic.Vector3{})))

	dev, err := Create(NameRemote, Config{Remote: srv.Addr().String(), Local: "/driver-test"})
	require.NoError(t, err)
	defer dev.Close()

	ceiling, err := dev.MaxFeedback()
	require.NoError(t, err)
	assert.Equal(t, haptic.Vector3{LoopbackMaxForce, LoopbackMaxForce, LoopbackMaxForce}, ceiling)
}

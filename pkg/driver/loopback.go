package driver

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/device"
	"github.com/haptic-bridge/haptic-go/pkg/haptic"
)

// LoopbackMaxForce is the Cartesian ceiling of the loopback device.
const LoopbackMaxForce = 1.0

// Loopback is an in-memory device whose native position echoes the last
// native output. It has no hardware loop and no buttons.
type Loopback struct {
	mu        sync.Mutex
	mode      haptic.Mode
	command   haptic.Vector3
	output    haptic.Vector3
	joints    haptic.Vector3
	transform *mat.Dense
	inverse   *mat.Dense
	closed    bool
}

// NewLoopback creates a loopback device. Zero joint limits take device.DefaultJointLimit.
func NewLoopback(joints haptic.Vector3) *Loopback {
	if joints == (haptic.Vector3{}) {
		joints = haptic.Vector3{device.DefaultJointLimit, device.DefaultJointLimit, device.DefaultJointLimit}
	}
	return &Loopback{
		joints:    joints,
		transform: haptic.Identity(),
		inverse:   haptic.Identity(),
	}
}

func (l *Loopback) ceilingLocked() haptic.Vector3 {
	if l.mode == haptic.ModeJointTorque {
		return l.joints
	}
	return haptic.Vector3{LoopbackMaxForce, LoopbackMaxForce, LoopbackMaxForce}
}

func (l *Loopback) pushLocked() {
	out := l.command
	if l.mode == haptic.ModeCartesianForce {
		out = haptic.ApplyDirection(l.inverse, out)
	}
	l.output = haptic.Saturate(out, l.ceilingLocked())
}

func (l *Loopback) Position() (haptic.Vector3, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return haptic.Vector3{}, device.ErrNotOpen
	}
	return haptic.ApplyPoint(l.transform, l.output), nil
}

func (l *Loopback) Orientation() (haptic.Vector3, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return haptic.Vector3{}, device.ErrNotOpen
	}
	return haptic.Vector3{}, nil
}

func (l *Loopback) Buttons() (haptic.Buttons, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, device.ErrNotOpen
	}
	return haptic.Buttons{}, nil
}

func (l *Loopback) IsCartesianForceModeEnabled() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, device.ErrNotOpen
	}
	return l.mode == haptic.ModeCartesianForce, nil
}

func (l *Loopback) SetCartesianForceMode() error { return l.setMode(haptic.ModeCartesianForce) }
func (l *Loopback) SetJointTorqueMode() error    { return l.setMode(haptic.ModeJointTorque) }

func (l *Loopback) setMode(m haptic.Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrNotOpen
	}
	l.mode = m
	l.pushLocked()
	return nil
}

func (l *Loopback) MaxFeedback() (haptic.Vector3, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return haptic.Vector3{}, device.ErrNotOpen
	}
	return l.ceilingLocked(), nil
}

func (l *Loopback) SetFeedback(v []float64) error {
	cmd, err := haptic.VectorFrom(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrNotOpen
	}
	l.command = cmd
	l.pushLocked()
	return nil
}

func (l *Loopback) StopFeedback() error {
	return l.SetFeedback([]float64{0, 0, 0})
}

func (l *Loopback) Transformation() (*mat.Dense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return haptic.Identity(), device.ErrNotOpen
	}
	return mat.DenseCopyOf(l.transform), nil
}

func (l *Loopback) SetTransformation(m mat.Matrix) error {
	t, err := haptic.Transform4(m)
	if err != nil {
		return err
	}
	inv := haptic.RigidInverse(t)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrNotOpen
	}
	l.transform, l.inverse = t, inv
	l.pushLocked()
	return nil
}

// Close marks the device closed. Safe to call more than once.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

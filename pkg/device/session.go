// Package device implements a haptic.Device backed by local hardware.
//
// A Session owns one hdapi.Hardware handle. The hardware scheduler runs the
// session tick once per servo frame: it reads the raw device state into an
// inner working copy and writes the latched actuation to the device. Accessors
// never touch the inner copy directly. They schedule a snapshot job on the
// scheduler (Hardware.RunSync) that copies inner state out, or copies a new
// actuation in, between two frames.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/hdapi"
)

// Defaults.
const (
	// DefaultPositionScale converts device millimetres to metres.
	DefaultPositionScale = 0.001

	// DefaultJointLimit is the per-joint torque ceiling in mNm.
	DefaultJointLimit = 350.0
)

// Errors returned by Session.
var (
	ErrNotOpen     = errors.New("device session not open")
	ErrAlreadyOpen = errors.New("device session already open")
)

// Config configures a Session.
type Config struct {
	// DeviceID selects the hardware device. Empty selects the default one.
	DeviceID string

	// PositionScale multiplies raw positions. Default: DefaultPositionScale.
	PositionScale float64

	// JointLimits are the joint torque ceilings. Default: DefaultJointLimit on every joint.
	JointLimits haptic.Vector3

	// Logger for operational messages. Optional.
	Logger *slog.Logger
}

// sample is the state captured from the device each frame.
type sample struct {
	position [3]float64
	gimbal   [3]float64
	buttons  uint32
	err      error
	errCount uint64
}

// actuation is what the tick writes to the device each frame.
type actuation struct {
	mode   haptic.Mode
	output haptic.Vector3
}

// Session is a haptic.Device backed by hdapi.Hardware.
type Session struct {
	hw     hdapi.Hardware
	config Config
	logger *slog.Logger

	// Owned by the scheduler goroutine and jobs it runs.
	inner    sample
	innerAct actuation

	mu        sync.Mutex
	open      bool
	info      hdapi.Info
	published sample
	mode      haptic.Mode
	command   haptic.Vector3
	transform *mat.Dense
	inverse   *mat.Dense
}

var _ haptic.Device = (*Session)(nil)

// New creates a closed Session for hw.
func New(hw hdapi.Hardware, config Config) *Session {
	if config.PositionScale == 0 {
		config.PositionScale = DefaultPositionScale
	}
	if config.JointLimits == (haptic.Vector3{}) {
		config.JointLimits = haptic.Vector3{DefaultJointLimit, DefaultJointLimit, DefaultJointLimit}
	}
	return &Session{
		hw:        hw,
		config:    config,
		logger:    config.Logger,
		transform: haptic.Identity(),
		inverse:   haptic.Identity(),
	}
}

// Open initializes the hardware and starts the polling loop.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return ErrAlreadyOpen
	}

	info, err := s.hw.Init(s.config.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to initialize haptic device: %w", err)
	}

	s.inner = sample{}
	s.innerAct = actuation{mode: s.mode}
	s.published = sample{}

	if err := s.hw.Start(s.tick); err != nil {
		_ = s.hw.Release()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.info = info
	s.open = true

	if s.logger != nil {
		s.logger.Info("haptic device opened",
			"model", info.Model,
			"serial", info.Serial,
			"outputDOF", info.OutputDOF,
			"nominalMaxForce", info.NominalMaxForce,
			"workspaceMin", info.WorkspaceMin,
			"workspaceMax", info.WorkspaceMax,
			"buttons", info.NumButtons)
	}
	return nil
}

// Close stops the polling loop and releases the hardware. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	// Final snapshot so the logged error count covers every tick.
	_ = s.snapshotLocked()
	s.open = false

	stopErr := s.hw.Stop()
	relErr := s.hw.Release()
	if s.logger != nil {
		s.logger.Info("haptic device closed", "frameErrors", s.published.errCount)
	}
	return errors.Join(stopErr, relErr)
}

// Info returns the description reported by the hardware at Open.
func (s *Session) Info() hdapi.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// tick runs on the scheduler goroutine once per frame.
func (s *Session) tick(io hdapi.FrameIO) {
	s.inner.buttons = io.Buttons()
	s.inner.position = io.Position()
	s.inner.gimbal = io.Gimbal()

	if err := io.Err(); err != nil {
		if s.inner.err == nil && s.logger != nil {
			s.logger.Warn("haptic device frame error", "error", err)
		}
		s.inner.err = err
		s.inner.errCount++
	} else {
		s.inner.err = nil
	}

	out := [3]float64(s.innerAct.output)
	switch s.innerAct.mode {
	case haptic.ModeCartesianForce:
		io.SetForce(out)
		io.SetJointTorque([3]float64{})
	case haptic.ModeJointTorque:
		io.SetJointTorque(out)
		io.SetForce([3]float64{})
	}
}

// snapshotLocked copies the inner sample into the published one.
func (s *Session) snapshotLocked() error {
	if !s.open {
		return ErrNotOpen
	}
	var snap sample
	if err := s.hw.RunSync(func() { snap = s.inner }); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	s.published = snap
	return nil
}

// pushLocked recomputes the actuation from the latched command and hands it to the tick.
func (s *Session) pushLocked() error {
	act := actuation{mode: s.mode, output: s.outputLocked(s.command)}
	if err := s.hw.RunSync(func() { s.innerAct = act }); err != nil {
		return fmt.Errorf("feedback update failed: %w", err)
	}
	return nil
}

// outputLocked maps an application-level command to the device-native,
// saturated vector for the current mode.
func (s *Session) outputLocked(cmd haptic.Vector3) haptic.Vector3 {
	if s.mode == haptic.ModeCartesianForce {
		cmd = haptic.ApplyDirection(s.inverse, cmd)
	}
	return haptic.Saturate(cmd, s.maxFeedbackLocked())
}

func (s *Session) maxFeedbackLocked() haptic.Vector3 {
	if s.mode == haptic.ModeJointTorque {
		return s.config.JointLimits
	}
	f := s.info.NominalMaxForce
	return haptic.Vector3{f, f, f}
}

// Position returns the transformed end effector position.
func (s *Session) Position() (haptic.Vector3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshotLocked(); err != nil {
		return haptic.Vector3{}, err
	}
	var p haptic.Vector3
	for i, v := range s.published.position {
		p[i] = v * s.config.PositionScale
	}
	return haptic.ApplyPoint(s.transform, p), nil
}

// Orientation returns the gimbal angles.
func (s *Session) Orientation() (haptic.Vector3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshotLocked(); err != nil {
		return haptic.Vector3{}, err
	}
	return haptic.Vector3(s.published.gimbal), nil
}

// Buttons returns one 0/1 value per device button.
func (s *Session) Buttons() (haptic.Buttons, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshotLocked(); err != nil {
		return nil, err
	}
	b := make(haptic.Buttons, s.info.NumButtons)
	for i := range b {
		if s.published.buttons&(1<<uint(i)) != 0 {
			b[i] = 1
		}
	}
	return b, nil
}

// FrameErrors returns the number of frames that reported a hardware error and the latest one.
func (s *Session) FrameErrors() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshotLocked(); err != nil {
		return 0, err
	}
	return s.published.errCount, s.published.err
}

// IsCartesianForceModeEnabled reports whether Cartesian force mode is active.
func (s *Session) IsCartesianForceModeEnabled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return false, ErrNotOpen
	}
	return s.mode == haptic.ModeCartesianForce, nil
}

// SetCartesianForceMode switches to Cartesian force mode.
func (s *Session) SetCartesianForceMode() error {
	return s.setMode(haptic.ModeCartesianForce)
}

// SetJointTorqueMode switches to joint torque mode.
func (s *Session) SetJointTorqueMode() error {
	return s.setMode(haptic.ModeJointTorque)
}

func (s *Session) setMode(m haptic.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}
	prev := s.mode
	s.mode = m
	if err := s.pushLocked(); err != nil {
		s.mode = prev
		return err
	}
	if prev != m && s.logger != nil {
		s.logger.Debug("feedback mode changed", "mode", m)
	}
	return nil
}

// MaxFeedback returns the saturation ceiling of the active mode.
func (s *Session) MaxFeedback() (haptic.Vector3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return haptic.Vector3{}, ErrNotOpen
	}
	return s.maxFeedbackLocked(), nil
}

// SetFeedback latches v. In Cartesian mode v is expressed in the application
// frame and is rotated into the device frame before saturation.
func (s *Session) SetFeedback(v []float64) error {
	cmd, err := haptic.VectorFrom(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}
	prev := s.command
	s.command = cmd
	if err := s.pushLocked(); err != nil {
		s.command = prev
		return err
	}
	return nil
}

// StopFeedback zeroes the latched feedback.
func (s *Session) StopFeedback() error {
	return s.SetFeedback([]float64{0, 0, 0})
}

// Applied returns the device-native vector currently latched for actuation.
func (s *Session) Applied() (haptic.Vector3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return haptic.Vector3{}, ErrNotOpen
	}
	return s.outputLocked(s.command), nil
}

// Transformation returns a copy of the current transform.
func (s *Session) Transformation() (*mat.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return haptic.Identity(), ErrNotOpen
	}
	return mat.DenseCopyOf(s.transform), nil
}

// SetTransformation replaces the transform with the top-left 4x4 block of m.
func (s *Session) SetTransformation(m mat.Matrix) error {
	t, err := haptic.Transform4(m)
	if err != nil {
		return err
	}
	inv := haptic.RigidInverse(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}
	prevT, prevInv := s.transform, s.inverse
	s.transform, s.inverse = t, inv
	if err := s.pushLocked(); err != nil {
		s.transform, s.inverse = prevT, prevInv
		return err
	}
	return nil
}

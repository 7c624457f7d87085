package haptic

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Errors shared by all Device implementations.
var (
	// ErrShortVector is returned when a feedback vector has fewer than 3 components.
	ErrShortVector = errors.New("feedback vector needs at least 3 components")

	// ErrMatrixTooSmall is returned when a transform smaller than 4x4 is supplied.
	ErrMatrixTooSmall = errors.New("transform must be at least 4x4")
)

// Vector3 is a three-component vector (position, orientation, force or torque).
type Vector3 [3]float64

// Slice returns the components as a slice.
func (v Vector3) Slice() []float64 {
	return []float64{v[0], v[1], v[2]}
}

// VectorFrom builds a Vector3 from the first 3 components of s.
func VectorFrom(s []float64) (Vector3, error) {
	if len(s) < 3 {
		return Vector3{}, fmt.Errorf("%w: got %d", ErrShortVector, len(s))
	}
	return Vector3{s[0], s[1], s[2]}, nil
}

// Buttons holds one 0/1 value per device button.
type Buttons []float64

// Pressed reports whether button i is down.
func (b Buttons) Pressed(i int) bool {
	return i >= 0 && i < len(b) && b[i] != 0
}

// Mode selects how feedback vectors are interpreted.
type Mode uint8

const (
	// ModeCartesianForce interprets feedback as a force in the application frame.
	ModeCartesianForce Mode = iota
	// ModeJointTorque interprets feedback as device-native per-joint torques.
	ModeJointTorque
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeCartesianForce:
		return "CARTESIAN"
	case ModeJointTorque:
		return "JOINT"
	default:
		return "UNKNOWN"
	}
}

// Stamp marks a broadcast sample. Seq never decreases for a given source.
type Stamp struct {
	Seq  uint64
	Time time.Time
}

// IsZero reports whether no sample has been stamped yet.
func (s Stamp) IsZero() bool {
	return s.Seq == 0 && s.Time.IsZero()
}

// Device is the capability contract implemented by hardware sessions,
// control servers and remote clients. All methods are safe for concurrent
// use. A non-nil error means the operation had no effect.
type Device interface {
	Position() (Vector3, error)
	Orientation() (Vector3, error)
	Buttons() (Buttons, error)

	IsCartesianForceModeEnabled() (bool, error)
	SetCartesianForceMode() error
	SetJointTorqueMode() error

	// MaxFeedback returns the per-axis saturation ceiling of the active mode.
	MaxFeedback() (Vector3, error)

	// SetFeedback latches a feedback vector. Components beyond the third are ignored.
	SetFeedback(v []float64) error

	// StopFeedback zeroes the latched feedback vector.
	StopFeedback() error

	Transformation() (*mat.Dense, error)
	SetTransformation(m mat.Matrix) error
}

// Closer is implemented by devices owning resources that must be released.
type Closer interface {
	Close() error
}

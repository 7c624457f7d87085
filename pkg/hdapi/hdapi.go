// Package hdapi describes what the haptic core needs from a vendor hardware
// SDK: a scheduler that invokes a callback once per servo frame, raw access
// to the device state from inside that callback, and synchronous jobs run on
// the scheduler's execution context.
package hdapi

import "errors"

// Errors returned by Hardware implementations.
var (
	ErrNotInitialized = errors.New("hardware not initialized")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Info describes an initialized device.
type Info struct {
	Model  string
	Serial string

	// OutputDOF is the number of actuated degrees of freedom.
	OutputDOF int

	// NominalMaxForce is the continuous Cartesian force ceiling in newtons.
	NominalMaxForce float64

	// Workspace bounds in millimetres.
	WorkspaceMin [3]float64
	WorkspaceMax [3]float64

	NumButtons int
}

// FrameIO is handed to the tick callback. It is only valid for the duration
// of that callback.
type FrameIO interface {
	// Buttons returns the button bitmask, bit i set when button i is down.
	Buttons() uint32

	// Position returns the end effector position in millimetres.
	Position() [3]float64

	// Gimbal returns the gimbal angles in radians.
	Gimbal() [3]float64

	// SetForce commands a Cartesian force in newtons.
	SetForce(f [3]float64)

	// SetJointTorque commands per-joint torques in mNm.
	SetJointTorque(t [3]float64)

	// Err returns the error reported by the device for this frame, if any.
	Err() error
}

// TickFunc runs once per servo frame on the scheduler goroutine.
type TickFunc func(io FrameIO)

// Hardware is a single device handle plus its scheduler.
type Hardware interface {
	// Init opens the device. An empty id selects the default device.
	Init(deviceID string) (Info, error)

	// Start runs tick once per frame until Stop.
	Start(tick TickFunc) error

	// RunSync runs job on the scheduler between two frames and waits for it.
	RunSync(job func()) error

	// Stop halts the scheduler and waits until no tick is executing.
	Stop() error

	// Release closes the device handle. Stop must be called first.
	Release() error
}

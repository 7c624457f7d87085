// Package hdsim provides an in-process simulated haptic device implementing
// hdapi.Hardware. It is used by the "sim" driver and by tests.
package hdsim

import (
	"context"
	"sync"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/hdapi"
)

// DefaultRate is the servo frame period of the simulated scheduler.
const DefaultRate = time.Millisecond

// Config configures a simulated device.
type Config struct {
	// Rate is the frame period. Default: DefaultRate.
	Rate time.Duration

	// Info is returned from Init. Zero fields are filled with defaults.
	Info hdapi.Info

	// InitErr, when set, makes Init fail with this error.
	InitErr error
}

// DefaultInfo describes the simulated device.
func DefaultInfo() hdapi.Info {
	return hdapi.Info{
		Model:           "Simulated Touch",
		Serial:          "SIM-0001",
		OutputDOF:       3,
		NominalMaxForce: 3.3,
		WorkspaceMin:    [3]float64{-80, -60, -35},
		WorkspaceMax:    [3]float64{80, 60, 35},
		NumButtons:      2,
	}
}

type job struct {
	fn   func()
	done chan struct{}
}

// Device is a simulated hdapi.Hardware.
type Device struct {
	config Config

	mu          sync.Mutex
	initialized bool
	position    [3]float64
	gimbal      [3]float64
	buttons     uint32
	pendingErr  error
	force       [3]float64
	torque      [3]float64
	ticks       uint64

	jobs    chan job
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

var _ hdapi.Hardware = (*Device)(nil)

// New creates a simulated device.
func New(config Config) *Device {
	if config.Rate <= 0 {
		config.Rate = DefaultRate
	}
	def := DefaultInfo()
	if config.Info.Model == "" {
		config.Info.Model = def.Model
	}
	if config.Info.Serial == "" {
		config.Info.Serial = def.Serial
	}
	if config.Info.OutputDOF == 0 {
		config.Info.OutputDOF = def.OutputDOF
	}
	if config.Info.NominalMaxForce == 0 {
		config.Info.NominalMaxForce = def.NominalMaxForce
	}
	if config.Info.NumButtons == 0 {
		config.Info.NumButtons = def.NumButtons
	}
	if config.Info.WorkspaceMin == ([3]float64{}) && config.Info.WorkspaceMax == ([3]float64{}) {
		config.Info.WorkspaceMin = def.WorkspaceMin
		config.Info.WorkspaceMax = def.WorkspaceMax
	}
	return &Device{
		config: config,
		jobs:   make(chan job),
	}
}

// Init implements hdapi.Hardware.
func (d *Device) Init(deviceID string) (hdapi.Info, error) {
	if d.config.InitErr != nil {
		return hdapi.Info{}, d.config.InitErr
	}
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()

	info := d.config.Info
	if deviceID != "" {
		info.Serial = deviceID
	}
	return info, nil
}

// Start implements hdapi.Hardware.
func (d *Device) Start(tick hdapi.TickFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return hdapi.ErrNotInitialized
	}
	if d.running {
		return hdapi.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.running = true

	go d.schedule(ctx, tick, d.stopped)
	return nil
}

func (d *Device) schedule(ctx context.Context, tick hdapi.TickFunc, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(d.config.Rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			j.fn()
			close(j.done)
		case <-ticker.C:
			d.frame(tick)
		}
	}
}

func (d *Device) frame(tick hdapi.TickFunc) {
	d.mu.Lock()
	f := &frameIO{
		buttons:  d.buttons,
		position: d.position,
		gimbal:   d.gimbal,
		err:      d.pendingErr,
	}
	d.pendingErr = nil
	d.mu.Unlock()

	tick(f)

	d.mu.Lock()
	if f.forceSet {
		d.force = f.force
	}
	if f.torqueSet {
		d.torque = f.torque
	}
	d.ticks++
	d.mu.Unlock()
}

// RunSync implements hdapi.Hardware.
func (d *Device) RunSync(fn func()) error {
	d.mu.Lock()
	running := d.running
	stopped := d.stopped
	d.mu.Unlock()

	if !running {
		return hdapi.ErrNotRunning
	}

	j := job{fn: fn, done: make(chan struct{})}
	select {
	case d.jobs <- j:
	case <-stopped:
		return hdapi.ErrNotRunning
	}
	<-j.done
	return nil
}

// Stop implements hdapi.Hardware.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	stopped := d.stopped
	d.mu.Unlock()

	cancel()
	<-stopped

	d.mu.Lock()
	d.force = [3]float64{}
	d.torque = [3]float64{}
	d.mu.Unlock()
	return nil
}

// Release implements hdapi.Hardware.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = false
	return nil
}

// SetPose sets the raw position (mm) and gimbal angles (rad) reported from the next frame on.
func (d *Device) SetPose(position, gimbal [3]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = position
	d.gimbal = gimbal
}

// SetButtons sets the button bitmask.
func (d *Device) SetButtons(mask uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttons = mask
}

// InjectError makes the next frame report err.
func (d *Device) InjectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingErr = err
}

// AppliedForce returns the last Cartesian force written by a tick.
func (d *Device) AppliedForce() [3]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.force
}

// AppliedTorque returns the last joint torque written by a tick.
func (d *Device) AppliedTorque() [3]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torque
}

// Ticks returns the number of frames executed so far.
func (d *Device) Ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

type frameIO struct {
	buttons  uint32
	position [3]float64
	gimbal   [3]float64
	err      error

	force     [3]float64
	forceSet  bool
	torque    [3]float64
	torqueSet bool
}

func (f *frameIO) Buttons() uint32      { return f.buttons }
func (f *frameIO) Position() [3]float64 { return f.position }
func (f *frameIO) Gimbal() [3]float64   { return f.gimbal }
func (f *frameIO) Err() error           { return f.err }

func (f *frameIO) SetForce(v [3]float64) {
	f.force = v
	f.forceSet = true
}

func (f *frameIO) SetJointTorque(v [3]float64) {
	f.torque = v
	f.torqueSet = true
}

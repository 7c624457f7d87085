// Package driver selects the haptic.Device a daemon serves. Drivers are
// registered by name and created from a common Config.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
)

// Built-in driver names.
const (
	NameSim      = "sim"
	NameLoopback = "loopback"
	NameRemote   = "remote"
)

// Errors.
var (
	ErrUnknownDriver = errors.New("unknown driver")
	ErrDuplicate     = errors.New("driver already registered")
)

// Device is a created driver instance.
type Device interface {
	haptic.Device
	haptic.Closer
}

// Config is handed to every factory. Each driver reads the fields it needs.
type Config struct {
	// DeviceID selects the hardware device (sim).
	DeviceID string

	// JointLimits overrides the joint torque ceilings (sim, loopback).
	JointLimits haptic.Vector3

	// Rate is the simulated servo period (sim).
	Rate time.Duration

	// Remote, Local and Interface address the upstream server (remote).
	Remote    string
	Local     string
	Interface string
	TLSConfig *transport.TLSConfig

	// Context bounds blocking setup such as dialing (remote).
	Context context.Context

	Logger *slog.Logger
}

func (c Config) context() context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}

// Factory creates a driver instance.
type Factory func(cfg Config) (Device, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a driver. Names are unique.
func Register(name string, f Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	factories[name] = f
	return nil
}

// Create instantiates the driver registered as name.
func Create(name string, cfg Config) (Device, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownDriver, name, Names())
	}
	dev, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s device: %w", name, err)
	}
	return dev, nil
}

// Names returns the registered driver names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	_ = Register(NameSim, newSim)
	_ = Register(NameLoopback, func(cfg Config) (Device, error) { return NewLoopback(cfg.JointLimits), nil })
	_ = Register(NameRemote, newRemote)
}

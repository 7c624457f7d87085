package driver

import (
	"github.com/haptic-bridge/haptic-go/pkg/device"
	"github.com/haptic-bridge/haptic-go/pkg/hdsim"
	"github.com/haptic-bridge/haptic-go/pkg/service"
)

// newSim opens a device session over the simulated hardware.
func newSim(cfg Config) (Device, error) {
	hw := hdsim.New(hdsim.Config{Rate: cfg.Rate})
	sess := device.New(hw, device.Config{
		DeviceID:    cfg.DeviceID,
		JointLimits: cfg.JointLimits,
		Logger:      cfg.Logger,
	})
	if err := sess.Open(); err != nil {
		return nil, err
	}
	return sess, nil
}

// newRemote connects to another control server.
func newRemote(cfg Config) (Device, error) {
	c := service.NewRemoteClient(service.ClientConfig{
		Remote:    cfg.Remote,
		Local:     cfg.Local,
		Interface: cfg.Interface,
		TLSConfig: cfg.TLSConfig,
		Logger:    cfg.Logger,
	})
	if err := c.Open(cfg.context()); err != nil {
		return nil, err
	}
	return c, nil
}

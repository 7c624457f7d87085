// Command hapticd serves a haptic device on the network.
//
// It creates the selected subdevice, attaches it to a control server,
// advertises the server over mDNS and runs until SIGINT or SIGTERM.
//
// Usage:
//
//	hapticd [flags]
//
// Flags:
//
//	-config string      YAML configuration file
//	-name string        Server name (default "/hapticdevice")
//	-listen string      Listen address (default ":10010")
//	-period int         Sample period in ms (default 20)
//	-verbosity int      0 silent, 1 info, 2 debug (default 1)
//	-subdevice string   Device driver: sim, loopback, remote (default "sim")
//	-remote string      Upstream server for the remote subdevice
//	-capture string     Write protocol events to a .hlog file
//
// Examples:
//
//	# Serve the simulated device
//	hapticd -subdevice sim
//
//	# Re-expose another server under a new name
//	hapticd -name /relay -subdevice remote -remote /hapticdevice -listen :10011
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/haptic-bridge/haptic-go/pkg/config"
	"github.com/haptic-bridge/haptic-go/pkg/discovery"
	"github.com/haptic-bridge/haptic-go/pkg/driver"
	"github.com/haptic-bridge/haptic-go/pkg/haptic"
	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/service"
)

var (
	configFile string
	overrides  config.Config
	noAdvert   bool
)

func init() {
	def := config.Default()
	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&overrides.Name, "name", def.Name, "Server name")
	flag.StringVar(&overrides.Listen, "listen", def.Listen, "Listen address")
	flag.IntVar(&overrides.PeriodMs, "period", def.PeriodMs, "Sample period in ms")
	flag.IntVar(&overrides.Verbosity, "verbosity", def.Verbosity, "0 silent, 1 info, 2 debug")
	flag.StringVar(&overrides.Subdevice, "subdevice", def.Subdevice, "Device driver: sim, loopback, remote")
	flag.StringVar(&overrides.DeviceID, "device-id", "", "Hardware device identifier")
	flag.StringVar(&overrides.Remote, "remote", "", "Upstream server for the remote subdevice")
	flag.StringVar(&overrides.Interface, "interface", "", "Network interface for mDNS")
	flag.StringVar(&overrides.Capture, "capture", "", "Write protocol events to a .hlog file")
	flag.StringVar(&overrides.TLS.Cert, "tls-cert", "", "Server certificate (PEM)")
	flag.StringVar(&overrides.TLS.Key, "tls-key", "", "Server key (PEM)")
	flag.BoolVar(&noAdvert, "no-advertise", false, "Disable mDNS advertisement")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hapticd: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.Logger(os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Error("hapticd failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the file (if any) and applies the flags that were set.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = overrides.Name
		case "listen":
			cfg.Listen = overrides.Listen
		case "period":
			cfg.PeriodMs = overrides.PeriodMs
		case "verbosity":
			cfg.Verbosity = overrides.Verbosity
		case "subdevice":
			cfg.Subdevice = overrides.Subdevice
		case "device-id":
			cfg.DeviceID = overrides.DeviceID
		case "remote":
			cfg.Remote = overrides.Remote
		case "interface":
			cfg.Interface = overrides.Interface
		case "capture":
			cfg.Capture = overrides.Capture
		case "tls-cert":
			cfg.TLS.Cert = overrides.TLS.Cert
		case "tls-key":
			cfg.TLS.Key = overrides.TLS.Key
		}
	})
	if noAdvert {
		cfg.Advertise = false
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tlsConf, err := cfg.TLS.Load()
	if err != nil {
		return err
	}

	var protocolLogger log.Logger
	var capture *log.FileLogger
	if cfg.Capture != "" {
		if capture, err = log.NewFileLogger(cfg.Capture); err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer func() {
			_ = capture.Close()
			logger.Info("capture closed", "file", cfg.Capture, "events", capture.Count())
		}()
		protocolLogger = capture
	}
	if cfg.Verbosity >= 3 {
		protocolLogger = log.NewMultiLogger(protocolLogger, log.NewSlogAdapter(logger))
	}

	srv := service.NewControlServer(service.ServerConfig{
		Name:           cfg.Name,
		ListenAddress:  cfg.Listen,
		Period:         cfg.Period(),
		TLSConfig:      tlsConf,
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	dev := attachSubdevice(ctx, cfg, srv, logger)

	if cfg.Advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: cfg.Interface, Logger: logger})
		if err := adv.Advertise(serverInfo(cfg, srv)); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := srv.Detach(); err != nil && !errors.Is(err, service.ErrNotAttached) {
		logger.Warn("detach failed", "error", err)
	}
	if dev != nil {
		if err := dev.Close(); err != nil {
			logger.Warn("close subdevice failed", "error", err)
		}
	}
	return srv.Stop()
}

// attachSubdevice creates the configured subdevice and attaches it. On any
// failure the server keeps running without a device and nil is returned.
func attachSubdevice(ctx context.Context, cfg config.Config, srv *service.ControlServer, logger *slog.Logger) driver.Device {
	var limits haptic.Vector3
	if len(cfg.JointLimits) == 3 {
		limits = haptic.Vector3{cfg.JointLimits[0], cfg.JointLimits[1], cfg.JointLimits[2]}
	}
	dev, err := driver.Create(cfg.Subdevice, driver.Config{
		DeviceID:    cfg.DeviceID,
		JointLimits: limits,
		Remote:      cfg.Remote,
		Local:       cfg.Name,
		Interface:   cfg.Interface,
		Context:     ctx,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("subdevice not created, serving without a device", "subdevice", cfg.Subdevice, "error", err)
		return nil
	}
	if err := srv.Attach(dev); err != nil {
		logger.Error("subdevice not attached, serving without a device", "subdevice", cfg.Subdevice, "error", err)
		_ = dev.Close()
		return nil
	}
	return dev
}

func serverInfo(cfg config.Config, srv *service.ControlServer) discovery.ServerInfo {
	var port uint16
	if tcp, ok := srv.Addr().(*net.TCPAddr); ok {
		port = uint16(tcp.Port)
	} else if _, p, err := net.SplitHostPort(cfg.Listen); err == nil {
		n, _ := strconv.ParseUint(p, 10, 16)
		port = uint16(n)
	}
	return discovery.ServerInfo{
		Name:            cfg.Name,
		Port:            port,
		StateChannel:    service.ChannelName(cfg.Name, service.StateSuffix),
		FeedbackChannel: service.ChannelName(cfg.Name, service.FeedbackSuffix),
		RPCChannel:      service.ChannelName(cfg.Name, service.RPCSuffix),
		Period:          cfg.Period(),
	}
}

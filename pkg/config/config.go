// Package config loads the startup configuration of the haptic daemon and
// console from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultName       = "/hapticdevice"
	DefaultListen     = ":10010"
	DefaultPeriodMs   = 20
	DefaultSubdevice  = "sim"
	DefaultVerbosity  = 1
	DefaultJointLimit = 350.0
)

// Errors.
var (
	ErrInvalidPeriod    = errors.New("period must be positive")
	ErrInvalidName      = errors.New("name must start with /")
	ErrInvalidVerbosity = errors.New("verbosity must not be negative")
	ErrJointLimits      = errors.New("joint limits need 3 positive values")
	ErrTLSPair          = errors.New("tls cert and key must be given together")
)

// Config is the startup configuration.
type Config struct {
	// Name is the local endpoint name, e.g. "/hapticdevice".
	Name string `yaml:"name"`

	// Remote is the server to connect to (host:port or advertised name).
	Remote string `yaml:"remote,omitempty"`

	// Listen is the server listen address.
	Listen string `yaml:"listen"`

	PeriodMs  int    `yaml:"period"`
	Verbosity int    `yaml:"verbosity"`
	Subdevice string `yaml:"subdevice"`
	DeviceID  string `yaml:"device_id,omitempty"`

	JointLimits []float64 `yaml:"joint_limits,omitempty"`

	// Advertise enables the mDNS advertisement.
	Advertise bool   `yaml:"advertise"`
	Interface string `yaml:"interface,omitempty"`

	// Capture is a protocol event capture file (.hlog).
	Capture string `yaml:"capture,omitempty"`

	TLS TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	Cert     string `yaml:"cert,omitempty"`
	Key      string `yaml:"key,omitempty"`
	CA       string `yaml:"ca,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.Cert != "" || t.CA != "" || t.Insecure
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Name:        DefaultName,
		Listen:      DefaultListen,
		PeriodMs:    DefaultPeriodMs,
		Verbosity:   DefaultVerbosity,
		Subdevice:   DefaultSubdevice,
		JointLimits: []float64{DefaultJointLimit, DefaultJointLimit, DefaultJointLimit},
		Advertise:   true,
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Name, "/") || len(c.Name) < 2 {
		return fmt.Errorf("%w: %q", ErrInvalidName, c.Name)
	}
	if c.PeriodMs <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPeriod, c.PeriodMs)
	}
	if c.Verbosity < 0 {
		return ErrInvalidVerbosity
	}
	if len(c.JointLimits) != 0 {
		if len(c.JointLimits) != 3 {
			return ErrJointLimits
		}
		for _, l := range c.JointLimits {
			if l <= 0 {
				return ErrJointLimits
			}
		}
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return ErrTLSPair
	}
	return nil
}

// Period returns the sample period.
func (c Config) Period() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// Channel returns the log label of a channel, e.g. "/hapticdevice/state:o".
func (c Config) Channel(suffix string) string {
	return c.Name + "/" + suffix
}

// Logger returns a slog logger for the verbosity level: 0 discards,
// 1 logs at info, 2 and above at debug.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return NewLogger(w, c.Verbosity)
}

// NewLogger builds a text logger for a verbosity level.
func NewLogger(w io.Writer, verbosity int) *slog.Logger {
	if verbosity <= 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	level := slog.LevelInfo
	if verbosity >= 2 {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/haptic-bridge/haptic-go/pkg/log"
	"github.com/haptic-bridge/haptic-go/pkg/transport"
)

// Service errors.
var (
	ErrInvalidDevice   = errors.New("invalid device")
	ErrAlreadyAttached = errors.New("device already attached")
	ErrNotAttached     = errors.New("no device attached")
	ErrAttachFailed    = errors.New("device probe failed")
	ErrNotStarted      = errors.New("server not started")
	ErrAlreadyStarted  = errors.New("server already started")

	ErrMissingOption   = errors.New("missing option")
	ErrNotOpen         = errors.New("remote client not open")
	ErrAlreadyOpen     = errors.New("remote client already open")
	ErrNoData          = errors.New("no frame received yet")
	ErrClientClosed    = errors.New("client is closed")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrRejected        = errors.New("command rejected")
)

// Defaults.
const (
	DefaultName             = "/hapticdevice"
	DefaultPeriod           = 20 * time.Millisecond
	DefaultReplyTimeout     = 5 * time.Second
	DefaultSubscriberBuffer = 4
)

// Channel suffixes used in log labels and discovery records.
const (
	StateSuffix    = "state:o"
	FeedbackSuffix = "feedback:i"
	RPCSuffix      = "rpc"
)

// ChannelName joins an endpoint name and a channel suffix.
func ChannelName(name, suffix string) string {
	return name + "/" + suffix
}

// ServerConfig configures a ControlServer.
type ServerConfig struct {
	// Name is the server endpoint name. Default: DefaultName.
	Name string

	// ListenAddress is the address to listen on (e.g. ":10010").
	ListenAddress string

	// Period is the sample period. Default: DefaultPeriod.
	Period time.Duration

	// TLSConfig enables TLS. Nil means plain TCP.
	TLSConfig *transport.TLSConfig

	// SubscriberBuffer is the number of frames queued per state connection
	// before new frames are dropped. Default: DefaultSubscriberBuffer.
	SubscriberBuffer int

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger
}

func (c *ServerConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
}

// ServerStats is a snapshot of ControlServer counters.
type ServerStats struct {
	Seq            uint64
	Subscribers    int
	Dropped        uint64
	FeedbackActive bool
	Attached       bool
}

// ClientConfig configures a RemoteClient.
type ClientConfig struct {
	// Remote is the server: host:port, or an advertised name such as "/hapticdevice".
	Remote string

	// Local is this client's endpoint name, sent in Hello.
	Local string

	// Interface restricts mDNS lookups to one network interface.
	Interface string

	// TLSConfig enables TLS. Nil means plain TCP.
	TLSConfig *transport.TLSConfig

	// ReplyTimeout bounds every command. Default: DefaultReplyTimeout.
	ReplyTimeout time.Duration

	// KeepAlive configures rpc connection pings. Zero value: transport defaults.
	KeepAlive transport.KeepAliveConfig

	// DisableKeepAlive turns pings off.
	DisableKeepAlive bool

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger
}

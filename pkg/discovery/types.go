package discovery

import (
	"errors"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of control servers.
	ServiceType = "_haptic._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// DefaultTTL is the advertised record TTL.
	DefaultTTL = 120 * time.Second

	// DefaultResolveTimeout bounds Resolve when ctx has no deadline.
	DefaultResolveTimeout = 3 * time.Second
)

// TXT record keys.
const (
	TXTKeyVersion  = "ver"
	TXTKeyState    = "st"
	TXTKeyFeedback = "fb"
	TXTKeyRPC      = "rpc"
	TXTKeyPeriod   = "per"
)

// ProtocolVersion is advertised in the ver TXT key.
const ProtocolVersion = "1"

// Errors.
var (
	ErrNotFound            = errors.New("server not found")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
)

// ServerInfo is what a control server advertises.
type ServerInfo struct {
	// Name is the server name, also used as the instance name.
	Name string

	Port uint16

	// Channel names, e.g. "/hapticdevice/state:o".
	StateChannel    string
	FeedbackChannel string
	RPCChannel      string

	// Period is the broadcast sample period.
	Period time.Duration
}

// Endpoint is a resolved server.
type Endpoint struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	Info      ServerInfo
}

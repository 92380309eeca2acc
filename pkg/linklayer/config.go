package linklayer

import (
	"time"

	"github.com/pion/logging"
)

// Config holds the tunables for the C3 LinkLayer component (spec §4.3,
// §6). Mirrors the teacher's single-struct-plus-DefaultConfig idiom from
// pkg/matter/config.go.
type Config struct {
	// ServiceName is the DNS-SD service identifier advertised and
	// scanned for. Analogous to the teacher's Matter service types.
	ServiceName string

	// RSSIFloor is the minimum signal strength hint accepted from a
	// discovered peer; weaker peers are ignored. Spec default: -90.
	RSSIFloor int

	// ScanInterval is how often the discovery resolver is polled for
	// newly advertised peers. Spec default: 1s.
	ScanInterval time.Duration

	// ConnectionTimeout bounds a single outbound connection attempt
	// before it is marked Failed. Spec default: 10s.
	ConnectionTimeout time.Duration

	// ReconnectBaseDelay is the base delay in the reconnect backoff
	// reconnect_delay x attempt_count. Spec default: 2s.
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts bounds reconnection attempts after a
	// Disconnected transition. Spec default: 3.
	MaxReconnectAttempts int

	// LoggerFactory constructs the scoped logger used throughout the
	// link layer, following the teacher's pion/logging convention.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns the spec §6 defaults for the LinkLayer component.
func DefaultConfig() Config {
	return Config{
		ServiceName:          "_meshcore._udp",
		RSSIFloor:            -90,
		ScanInterval:         1 * time.Second,
		ConnectionTimeout:    10 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.RSSIFloor == 0 {
		c.RSSIFloor = d.RSSIFloor
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
}

// Package meshnode wires C1-C8 into a single running node, the way
// pkg/matter/node.go assembles the teacher's stack layers into one
// Node type.
package meshnode

import (
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/chunking"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/linklayer"
	"github.com/driftmesh/meshcore/pkg/reliability"
	"github.com/driftmesh/meshcore/pkg/router"
)

// Config aggregates every subsystem's tunables behind one struct, the
// same single-Config-plus-DefaultConfig shape as pkg/matter/config.go,
// rather than threading eight separate parameter structs through
// New.
type Config struct {
	// LocalName is the display name advertised in envelopes and
	// ANNOUNCE beacons (spec §3 OriginName).
	LocalName string

	// Store persists this node's long-term identity key material.
	// Required.
	Store identity.Store

	// Radio is the byte-pipe transport backend (WebRTCRadio in
	// production, MemoryRadio in tests). Required.
	Radio linklayer.Radio

	// LinkLayer holds the C3 tunables (ServiceName, RSSIFloor,
	// ScanInterval, ConnectionTimeout, ReconnectBaseDelay,
	// MaxReconnectAttempts).
	LinkLayer linklayer.Config

	// Router holds the C5 tunables (MaxTTL, RouteDiscoveryTimeout,
	// RouteIdleWindow, SeenExpiry, AnnounceMaxHops, GCTick).
	Router router.Params

	// Reliability holds the C6 tunables (BaseRetryInterval,
	// MaxBackoffInterval, MaxRetries, RetryTick, ExpiryTick,
	// MessageExpiry).
	Reliability reliability.Params

	// MTU is the transport unit assumed for chunking when the radio
	// backend cannot negotiate one. Spec default: 182.
	MTU int

	// ChunkHeaderSize is the fixed wire size of a chunk header. Spec
	// default: 20 (chunking.HeaderSize).
	ChunkHeaderSize int

	// ReassemblyExpiry bounds how long a partially-reassembled
	// message is held before being discarded. Spec default: 300s.
	ReassemblyExpiry time.Duration

	// AnnounceInterval is how often this node broadcasts an ANNOUNCE
	// presence beacon once started. Spec default: 30s.
	AnnounceInterval time.Duration

	LoggerFactory logging.LoggerFactory
}

// DefaultMTU is the spec §6 default transport unit.
const DefaultMTU = 182

// DefaultAnnounceInterval is how often a started Node beacons presence.
const DefaultAnnounceInterval = 30 * time.Second

// DefaultConfig returns the spec §6 defaults across every subsystem.
func DefaultConfig() Config {
	return Config{
		LinkLayer:        linklayer.DefaultConfig(),
		Router:           router.DefaultParams(),
		Reliability:      reliability.DefaultParams(),
		MTU:              DefaultMTU,
		ChunkHeaderSize:  chunking.HeaderSize,
		ReassemblyExpiry: chunking.DefaultReassemblyExpiry,
		AnnounceInterval: DefaultAnnounceInterval,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.ChunkHeaderSize == 0 {
		c.ChunkHeaderSize = d.ChunkHeaderSize
	}
	if c.ReassemblyExpiry == 0 {
		c.ReassemblyExpiry = d.ReassemblyExpiry
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = d.AnnounceInterval
	}
	c.LinkLayer.LoggerFactory = orFactory(c.LinkLayer.LoggerFactory, c.LoggerFactory)
}

func orFactory(f, fallback logging.LoggerFactory) logging.LoggerFactory {
	if f != nil {
		return f
	}
	return fallback
}

// Validate checks the configuration for errors ahead of New.
func (c *Config) Validate() error {
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.Radio == nil {
		return ErrRadioRequired
	}
	return nil
}

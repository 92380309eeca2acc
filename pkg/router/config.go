package router

import "time"

// Params holds the C5 Router tunables (spec §6).
type Params struct {
	// MaxTTL bounds envelope and RREQ hop count. Spec default: 3.
	MaxTTL int
	// RouteDiscoveryTimeout bounds how long a send buffers pending an
	// RREP. Spec recommends 5-10s; default: 8s.
	RouteDiscoveryTimeout time.Duration
	// RouteIdleWindow is the soft TTL on an unused cached route.
	RouteIdleWindow time.Duration
	// SeenExpiry is the SeenMessageCache window. Spec default: 300s.
	SeenExpiry time.Duration
	// AnnounceMaxHops caps presence-beacon propagation. Spec: 2.
	AnnounceMaxHops int
	// GCTick is how often the route cache and seen cache are swept.
	GCTick time.Duration
}

// DefaultParams returns the spec §6 defaults for the Router component.
func DefaultParams() Params {
	return Params{
		MaxTTL:                3,
		RouteDiscoveryTimeout: DefaultRouteDiscoveryTimeout,
		RouteIdleWindow:       DefaultRouteIdleWindow,
		SeenExpiry:            300 * time.Second,
		AnnounceMaxHops:       2,
		GCTick:                30 * time.Second,
	}
}

func (p *Params) applyDefaults() {
	d := DefaultParams()
	if p.MaxTTL == 0 {
		p.MaxTTL = d.MaxTTL
	}
	if p.RouteDiscoveryTimeout == 0 {
		p.RouteDiscoveryTimeout = d.RouteDiscoveryTimeout
	}
	if p.RouteIdleWindow == 0 {
		p.RouteIdleWindow = d.RouteIdleWindow
	}
	if p.SeenExpiry == 0 {
		p.SeenExpiry = d.SeenExpiry
	}
	if p.AnnounceMaxHops == 0 {
		p.AnnounceMaxHops = d.AnnounceMaxHops
	}
	if p.GCTick == 0 {
		p.GCTick = d.GCTick
	}
}

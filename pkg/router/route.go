package router

import (
	"sync"
	"time"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// DefaultRouteIdleWindow is how long an unused RouteEntry survives a GC
// pass (spec §4.5 "Cache entries have a soft TTL").
const DefaultRouteIdleWindow = 120 * time.Second

// RouteEntry is a per-destination next-hop cache entry (spec §3).
type RouteEntry struct {
	DestinationID identity.NodeID
	NextHopID     identity.NodeID
	HopCount      int
	LastUsed      time.Time
	Path          []identity.NodeID
}

// RouteCache is the mutex-guarded next-hop table the Router consults on
// every outgoing and forwarded send, grounded on the teacher's
// pkg/session/manager.go (peer-handle-keyed map under a single mutex,
// looked up by id rather than passed around as object references).
type RouteCache struct {
	idleWindow time.Duration

	mu      sync.Mutex
	entries map[identity.NodeID]*RouteEntry
}

// NewRouteCache constructs an empty RouteCache. A zero idleWindow falls
// back to DefaultRouteIdleWindow.
func NewRouteCache(idleWindow time.Duration) *RouteCache {
	if idleWindow <= 0 {
		idleWindow = DefaultRouteIdleWindow
	}
	return &RouteCache{idleWindow: idleWindow, entries: make(map[identity.NodeID]*RouteEntry)}
}

// Put records or replaces the route to destination.
func (c *RouteCache) Put(destination, nextHop identity.NodeID, hopCount int, path []identity.NodeID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[destination] = &RouteEntry{
		DestinationID: destination,
		NextHopID:     nextHop,
		HopCount:      hopCount,
		LastUsed:      now,
		Path:          append([]identity.NodeID(nil), path...),
	}
}

// Lookup returns the cached route to destination, touching LastUsed.
// The caller is responsible for checking the next hop is still
// connected (spec §3 invariant) via Transmitter.IsConnected before
// trusting it.
func (c *RouteCache) Lookup(destination identity.NodeID, now time.Time) (RouteEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[destination]
	if !ok {
		return RouteEntry{}, false
	}
	entry.LastUsed = now
	return *entry, true
}

// PutIfBetter records the route only if no entry exists yet for
// destination or the new hop count is strictly lower than the cached
// one, reporting whether it replaced the entry. Used for RREP handling
// (spec §4.5 "duplicate RREPs: lower hop count wins, first arrival
// otherwise") so that an equal-hop-count duplicate arriving after the
// winning reply is silently ignored rather than re-triggering resolution
// or re-forwarding.
func (c *RouteCache) PutIfBetter(destination, nextHop identity.NodeID, hopCount int, path []identity.NodeID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[destination]; ok && hopCount >= existing.HopCount {
		return false
	}
	c.entries[destination] = &RouteEntry{
		DestinationID: destination,
		NextHopID:     nextHop,
		HopCount:      hopCount,
		LastUsed:      now,
		Path:          append([]identity.NodeID(nil), path...),
	}
	return true
}

// InvalidateNextHop drops every cache entry whose NextHopID equals the
// now-unreachable peer, returning the affected destination IDs (spec
// §4.5 RERR handling: "invalidate cache entries whose NextHop equals the
// unreachable ID").
func (c *RouteCache) InvalidateNextHop(unreachable identity.NodeID) []identity.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var affected []identity.NodeID
	for dest, entry := range c.entries {
		if entry.NextHopID == unreachable {
			affected = append(affected, dest)
			delete(c.entries, dest)
		}
	}
	return affected
}

// GC drops entries idle longer than the cache's idle window.
func (c *RouteCache) GC(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for dest, entry := range c.entries {
		if now.Sub(entry.LastUsed) >= c.idleWindow {
			delete(c.entries, dest)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached routes, for diagnostics and tests.
func (c *RouteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package router

import (
	"sync"
	"time"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// DefaultRouteDiscoveryTimeout bounds how long an outgoing send buffers
// an envelope waiting for an RREP (spec §5 recommends 5-10s).
const DefaultRouteDiscoveryTimeout = 8 * time.Second

// pendingDiscovery is shared by every SendEnvelope call currently
// blocked on a route to the same destination, grounded on the
// teacher's pkg/exchange/retransmit.go map-of-pending-by-key shape (one
// entry per key, not per message): a second send to a destination
// already being discovered waits on the same RREQ's resolved channel
// instead of starting a new one, and transmits its own envelope once
// woken.
type pendingDiscovery struct {
	requestID   identity.NodeID
	destination identity.NodeID
	deadline    time.Time
	resolved    chan struct{}
}

type pendingTable struct {
	mu      sync.Mutex
	byDest  map[identity.NodeID]*pendingDiscovery
	byReqID map[identity.NodeID]*pendingDiscovery
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		byDest:  make(map[identity.NodeID]*pendingDiscovery),
		byReqID: make(map[identity.NodeID]*pendingDiscovery),
	}
}

// getOrStart returns the in-flight discovery for destination, creating
// one (and reporting created=true) if none exists.
func (t *pendingTable) getOrStart(destination identity.NodeID, requestID identity.NodeID, timeout time.Duration, now time.Time) (entry *pendingDiscovery, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byDest[destination]; ok {
		return existing, false
	}
	entry = &pendingDiscovery{
		requestID:   requestID,
		destination: destination,
		deadline:    now.Add(timeout),
		resolved:    make(chan struct{}),
	}
	t.byDest[destination] = entry
	t.byReqID[requestID] = entry
	return entry, true
}

// resolve releases every call waiting on requestID, reporting whether an
// entry was found (a second, worse RREP for an already-resolved or
// already-expired RequestID is simply ignored by the caller).
func (t *pendingTable) resolve(requestID identity.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byReqID[requestID]
	if !ok {
		return false
	}
	delete(t.byReqID, requestID)
	delete(t.byDest, entry.destination)
	close(entry.resolved)
	return true
}

// fail expires an unresolved discovery so every waiter's own timeout
// branch (or this close) unblocks with ErrNoRoute.
func (t *pendingTable) fail(requestID identity.NodeID) bool {
	return t.resolve(requestID)
}

package linklayer

import (
	"sync"
	"time"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// Peer is the link-layer record for a remote node (spec §3 Peer):
// connection state, role, signal hint, and whether both public keys
// have been handed to C2 yet.
type Peer struct {
	mu sync.RWMutex

	id    identity.NodeID
	state ConnectionState
	role  Role

	rssi int

	hasAgreementKey bool
	hasSigningKey   bool

	reconnectAttempts int
	lastStateChange   time.Time
}

func newPeer(id identity.NodeID, rssi int) *Peer {
	return &Peer{
		id:              id,
		state:           Discovered,
		rssi:            rssi,
		lastStateChange: time.Time{},
	}
}

// ID returns the peer's NodeID.
func (p *Peer) ID() identity.NodeID {
	return p.id
}

// State returns the peer's current connection state.
func (p *Peer) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// RSSI returns the last observed signal strength hint.
func (p *Peer) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

// Role returns which side initiated the byte-pipe connection.
func (p *Peer) Role() Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// FullyConnected reports whether the peer's byte pipe is bound AND both
// public keys have been received, per spec §4.3's definition of a fully
// connected peer.
func (p *Peer) FullyConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == Connected && p.hasAgreementKey && p.hasSigningKey
}

func (p *Peer) setState(s ConnectionState, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == Connected {
		p.reconnectAttempts = 0
	}
	p.state = s
	p.lastStateChange = now
}

func (p *Peer) setRole(r Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = r
}

func (p *Peer) setRSSI(rssi int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rssi = rssi
}

func (p *Peer) markAgreementKeyReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasAgreementKey = true
}

func (p *Peer) markSigningKeyReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasSigningKey = true
}

func (p *Peer) incrementReconnectAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectAttempts++
	return p.reconnectAttempts
}

func (p *Peer) snapshot() PeerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeerSnapshot{
		ID:              p.id,
		State:           p.state,
		Role:            p.role,
		RSSI:            p.rssi,
		FullyConnected:  p.state == Connected && p.hasAgreementKey && p.hasSigningKey,
		LastStateChange: p.lastStateChange,
	}
}

// PeerSnapshot is an immutable point-in-time copy of a Peer's fields,
// safe to hand to callers outside the radio context (spec §5 "snapshot
// then release" pattern).
type PeerSnapshot struct {
	ID              identity.NodeID
	State           ConnectionState
	Role            Role
	RSSI            int
	FullyConnected  bool
	LastStateChange time.Time
}

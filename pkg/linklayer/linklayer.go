package linklayer

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
)

// LinkLayer implements the C3 component: dual-role discovery, the
// Discovered/Connected peer indices, the connection-state machine, and
// the send/broadcast/on_frame byte I/O contract (spec §4.3). All state
// mutation happens on the radio context (the Radio backend's own
// goroutines dispatching onFrame/onLink) or under the single mutex
// below; callers outside that context only ever see PeerSnapshot
// copies (spec §5 "radio context" / "snapshot then release").
type LinkLayer struct {
	cfg    Config
	radio  Radio
	crypto *crypto.Manager
	log    logging.LeveledLogger

	events chan Event

	mu         sync.RWMutex
	discovered map[identity.NodeID]*Peer
	connected  map[identity.NodeID]*Peer
	closed     bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a LinkLayer bound to a Radio backend and a Crypto
// manager. The Crypto manager is the explicitly-injected dependency
// spec §9 calls for instead of an ambient singleton.
func New(cfg Config, radio Radio, cryptoMgr *crypto.Manager) *LinkLayer {
	cfg.applyDefaults()
	l := &LinkLayer{
		cfg:        cfg,
		radio:      radio,
		crypto:     cryptoMgr,
		events:     make(chan Event, 64),
		discovered: make(map[identity.NodeID]*Peer),
		connected:  make(map[identity.NodeID]*Peer),
		stopCh:     make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		l.log = cfg.LoggerFactory.NewLogger("linklayer")
	}
	return l
}

// Events returns the channel of connection-lifecycle and inbound-frame
// notifications for upstream components to consume.
func (l *LinkLayer) Events() <-chan Event {
	return l.events
}

// Start attaches to the radio backend. Safe to call once.
func (l *LinkLayer) Start() error {
	if l.radio == nil {
		return ErrRadioUnavailable
	}
	return l.radio.Start(l.handleFrame, l.handleLink)
}

// Stop closes the radio and the event channel's producer side.
func (l *LinkLayer) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()

	if l.radio != nil {
		return l.radio.Close()
	}
	return nil
}

// OnDiscovered records a scan result in the Discovered index, ignoring
// peers below the configured RSSI floor (spec §4.3).
func (l *LinkLayer) OnDiscovered(peer DiscoveredPeer) {
	if peer.RSSI < l.cfg.RSSIFloor {
		return
	}

	l.mu.Lock()
	if existing, exists := l.discovered[peer.NodeID]; exists {
		existing.setRSSI(peer.RSSI)
		l.mu.Unlock()
		return
	}
	if _, already := l.connected[peer.NodeID]; already {
		l.mu.Unlock()
		return
	}
	p := newPeer(peer.NodeID, peer.RSSI)
	l.discovered[peer.NodeID] = p
	l.mu.Unlock()

	l.emit(Event{Kind: EventPeerDiscovered, Peer: peer.NodeID, RSSI: peer.RSSI})
}

// Connect initiates an outbound connection to a discovered peer (spec
// §4.3 "Connects outbound"). The connection attempt times out after
// ConnectionTimeout, transitioning the peer to Failed.
func (l *LinkLayer) Connect(peer identity.NodeID) error {
	l.mu.Lock()
	p, known := l.connected[peer]
	if !known {
		p, known = l.discovered[peer]
	}
	if !known {
		p = newPeer(peer, 0)
		l.discovered[peer] = p
	}
	l.mu.Unlock()

	if p.State() == Connected {
		// Already linked, e.g. a Radio backend that establishes the byte
		// pipe as a side effect of discovery (MemoryRadio in tests).
		return nil
	}

	p.setState(Connecting, time.Now())
	p.setRole(RoleOutbound)

	done := make(chan error, 1)
	go func() { done <- l.radio.Connect(peer) }()

	select {
	case err := <-done:
		if err != nil {
			p.setState(Failed, time.Now())
			return err
		}
		return nil
	case <-time.After(l.cfg.ConnectionTimeout):
		p.setState(Failed, time.Now())
		return ErrPeerNotConnected
	}
}

// handleLink is the Radio backend's PeerLinkHandler: fired when a byte
// pipe is bound (inbound subscribe/write, or an outbound Connect's
// underlying transport finishing its handshake) or lost.
func (l *LinkLayer) handleLink(peer identity.NodeID, up bool) {
	now := time.Now()

	l.mu.Lock()
	p, known := l.discovered[peer]
	if !known {
		p, known = l.connected[peer]
	}
	if !known {
		p = newPeer(peer, 0)
	}
	if up {
		if p.Role() == RoleUnknown {
			p.setRole(RoleInbound)
		}
		delete(l.discovered, peer)
		l.connected[peer] = p
	} else {
		delete(l.connected, peer)
		l.discovered[peer] = p
	}
	l.mu.Unlock()

	if up {
		p.setState(Connected, now)
		if l.maybeFullyConnected(p) {
			l.emit(Event{Kind: EventPeerConnected, Peer: peer})
		}
	} else {
		wasConnected := p.State() == Connected
		p.setState(Disconnected, now)
		if wasConnected {
			l.emit(Event{Kind: EventPeerDisconnected, Peer: peer})
			l.scheduleReconnect(p)
		}
	}
}

// NotePeerAgreementKey records that C2 has received and validated a
// peer's agreement public key, one of the two conditions for "fully
// connected" (spec §4.3).
func (l *LinkLayer) NotePeerAgreementKey(peer identity.NodeID) {
	l.mu.RLock()
	p := l.connected[peer]
	l.mu.RUnlock()
	if p == nil {
		return
	}
	p.markAgreementKeyReceived()
	if l.maybeFullyConnected(p) {
		l.emit(Event{Kind: EventPeerConnected, Peer: peer})
	}
}

// NotePeerSigningKey records that C2 has received and validated a
// peer's signing public key.
func (l *LinkLayer) NotePeerSigningKey(peer identity.NodeID) {
	l.mu.RLock()
	p := l.connected[peer]
	l.mu.RUnlock()
	if p == nil {
		return
	}
	p.markSigningKeyReceived()
	if l.maybeFullyConnected(p) {
		l.emit(Event{Kind: EventPeerConnected, Peer: peer})
	}
}

func (l *LinkLayer) maybeFullyConnected(p *Peer) bool {
	return p.FullyConnected()
}

func (l *LinkLayer) scheduleReconnect(p *Peer) {
	attempt := p.incrementReconnectAttempts()
	if attempt > l.cfg.MaxReconnectAttempts {
		p.setState(Failed, time.Now())
		return
	}
	delay := time.Duration(attempt) * l.cfg.ReconnectBaseDelay

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-time.After(delay):
			_ = l.Connect(p.ID())
		case <-l.stopCh:
		}
	}()
}

func (l *LinkLayer) handleFrame(frame Frame) {
	if l.log != nil {
		l.log.Tracef("linklayer: frame from %s (%d bytes)", frame.From, len(frame.Data))
	}
	l.emit(Event{Kind: EventFrameReceived, Peer: frame.From, Frame: frame.Data})
}

func (l *LinkLayer) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		if l.log != nil {
			l.log.Warnf("linklayer: event channel full, dropping %v for %s", ev.Kind, ev.Peer)
		}
	}
}

// Send transmits bytes to a connected peer (spec §4.3 byte I/O
// contract). Rejects sends to a peer that is not fully connected.
func (l *LinkLayer) Send(peer identity.NodeID, data []byte) (bool, error) {
	l.mu.RLock()
	p, ok := l.connected[peer]
	l.mu.RUnlock()
	if !ok {
		return false, ErrPeerNotConnected
	}
	if !p.FullyConnected() {
		return false, ErrNotFullyConnected
	}
	return l.radio.Send(peer, data)
}

// Broadcast sends to every fully connected peer except those excluded,
// used by the Router to avoid echoing floods back to their origin.
func (l *LinkLayer) Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int {
	l.mu.RLock()
	targets := make(map[identity.NodeID]struct{}, len(exclude))
	for id := range exclude {
		targets[id] = struct{}{}
	}
	for id, p := range l.connected {
		if !p.FullyConnected() {
			targets[id] = struct{}{}
		}
	}
	l.mu.RUnlock()
	return l.radio.Broadcast(data, targets)
}

// ConnectedPeers returns a snapshot of every peer in the connected
// index, fully connected or not (see PeerSnapshot.FullyConnected).
func (l *LinkLayer) ConnectedPeers() []PeerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PeerSnapshot, 0, len(l.connected))
	for _, p := range l.connected {
		out = append(out, p.snapshot())
	}
	return out
}

// ConnectedPeerIDs returns the NodeIDs of every fully connected peer,
// for callers (the Router) that only need identity, not full state.
func (l *LinkLayer) ConnectedPeerIDs() []identity.NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]identity.NodeID, 0, len(l.connected))
	for id, p := range l.connected {
		if p.FullyConnected() {
			out = append(out, id)
		}
	}
	return out
}

// IsConnected reports whether peer is currently in the fully-connected
// index.
func (l *LinkLayer) IsConnected(peer identity.NodeID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.connected[peer]
	return ok && p.FullyConnected()
}

// Peer returns a snapshot of one peer, from either index.
func (l *LinkLayer) Peer(id identity.NodeID) (PeerSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.connected[id]; ok {
		return p.snapshot(), true
	}
	if p, ok := l.discovered[id]; ok {
		return p.snapshot(), true
	}
	return PeerSnapshot{}, false
}

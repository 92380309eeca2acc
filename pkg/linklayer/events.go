package linklayer

import "github.com/driftmesh/meshcore/pkg/identity"

// EventKind identifies the shape of a link-layer Event.
type EventKind int

const (
	// EventPeerDiscovered fires when a new peer is seen during scanning,
	// above the configured RSSI floor.
	EventPeerDiscovered EventKind = iota
	// EventPeerConnected fires when a peer becomes fully connected
	// (byte pipe bound and both public keys received).
	EventPeerConnected
	// EventFrameReceived fires for every inbound frame, opaque at this
	// layer (spec §4.3 on_frame contract).
	EventFrameReceived
	// EventPeerDisconnected fires when a previously connected peer's
	// byte pipe is lost.
	EventPeerDisconnected
)

// Event is the typed notification the LinkLayer emits for upstream
// components (Router, Reliability) to observe connection lifecycle and
// inbound traffic, following the teacher's channel/callback idiom
// (pkg/transport.MessageHandler, pkg/discovery resolved-service
// channels) rather than field-level observation (spec §9).
type Event struct {
	Kind EventKind
	Peer identity.NodeID
	// Frame carries the raw inbound bytes when Kind == EventFrameReceived.
	Frame []byte
	// RSSI carries the signal hint when Kind == EventPeerDiscovered.
	RSSI int
}

package linklayer

import "github.com/driftmesh/meshcore/pkg/identity"

// Frame is one inbound byte frame handed up from a Radio backend,
// opaque at this layer (spec §4.3).
type Frame struct {
	From identity.NodeID
	Data []byte
}

// FrameHandler receives every inbound frame from a Radio backend.
type FrameHandler func(Frame)

// PeerLinkHandler is invoked by a Radio backend when a remote peer's
// byte pipe becomes bound (inbound subscribe/write) or is lost.
type PeerLinkHandler func(peer identity.NodeID, connected bool)

// Radio is the dual-role byte-pipe transport contract C3 sits on top
// of: a single well-known message endpoint supporting write-with-
// response (outbound) and subscribe-for-notify (inbound), abstracted
// down to send/broadcast/receive so LinkLayer can run against either a
// real WebRTC data-channel backend or an in-memory test backend.
type Radio interface {
	// Start begins delivering inbound frames and peer link changes to
	// the given handlers. Must be called once before Send/Broadcast.
	Start(onFrame FrameHandler, onLink PeerLinkHandler) error

	// Connect starts an outbound byte pipe to peer. It returns once the
	// transport has accepted the dial (for WebRTC, once the SDP answer is
	// applied), or with an error when the radio's own dial timeout
	// elapses; the bound pipe is reported later through the
	// PeerLinkHandler.
	Connect(peer identity.NodeID) error

	// Send transmits data to peer using whichever direction is bound
	// for that peer (write-to-server if we dialed out, notify-on-our-
	// endpoint if they subscribed to us). Returns whether the transport
	// accepted the frame; does not block for end-to-end delivery.
	Send(peer identity.NodeID, data []byte) (bool, error)

	// Broadcast sends data to every peer with a bound byte pipe except
	// those in exclude, returning the count of successful sends.
	Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int

	// Disconnect tears down the byte pipe to peer, if any.
	Disconnect(peer identity.NodeID) error

	// Close shuts down the radio and all its byte pipes.
	Close() error
}

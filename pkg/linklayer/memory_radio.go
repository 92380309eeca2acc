package linklayer

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pion/transport/v3/test"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// MemoryRadio is an in-memory Radio backend for deterministic,
// flaky-free tests without real network or WebRTC I/O, following the
// teacher's "Virtual Network" testing pattern (pkg/transport/pipe.go,
// built on pion's test.Bridge).
//
// A MemoryRadio only ever has a single remote peer: the other end of
// the pair it was constructed with. This mirrors how pipe.go's
// PipeFactory models exactly two endpoints.
type MemoryRadio struct {
	localID identity.NodeID
	peerID  identity.NodeID
	conn    net.Conn

	mu      sync.Mutex
	onFrame FrameHandler
	onLink  PeerLinkHandler
	linked  bool
	closed  bool
}

// NewMemoryRadioPair creates two MemoryRadios already wired to each
// other via an in-memory pion test.Bridge, as if both sides had
// already completed discovery and connection.
func NewMemoryRadioPair(localID, peerID identity.NodeID) (*MemoryRadio, *MemoryRadio) {
	bridge := test.NewBridge()
	a := &MemoryRadio{localID: localID, peerID: peerID, conn: bridge.GetConn0()}
	b := &MemoryRadio{localID: peerID, peerID: localID, conn: bridge.GetConn1()}
	return a, b
}

// Start begins the read loop delivering frames to onFrame.
func (r *MemoryRadio) Start(onFrame FrameHandler, onLink PeerLinkHandler) error {
	r.mu.Lock()
	r.onFrame = onFrame
	r.onLink = onLink
	r.linked = true
	r.mu.Unlock()

	if onLink != nil {
		onLink(r.peerID, true)
	}

	go r.readLoop()
	return nil
}

func (r *MemoryRadio) readLoop() {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r.conn, lenBuf[:]); err != nil {
			r.mu.Lock()
			wasLinked := r.linked
			r.linked = false
			handler := r.onLink
			r.mu.Unlock()
			if wasLinked && handler != nil {
				handler(r.peerID, false)
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r.conn, payload); err != nil {
			return
		}

		r.mu.Lock()
		handler := r.onFrame
		r.mu.Unlock()
		if handler != nil {
			handler(Frame{From: r.peerID, Data: payload})
		}
	}
}

// Connect is a no-op for MemoryRadio: the pair is pre-linked at
// construction, matching how tests bypass real discovery/handshaking.
func (r *MemoryRadio) Connect(peer identity.NodeID) error {
	if peer != r.peerID {
		return ErrUnknownPeer
	}
	return nil
}

func (r *MemoryRadio) writeFrame(data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := r.conn.Write(data)
	return err
}

// Send transmits a frame to the single peer this radio is linked to.
func (r *MemoryRadio) Send(peer identity.NodeID, data []byte) (bool, error) {
	if peer != r.peerID {
		return false, ErrUnknownPeer
	}
	r.mu.Lock()
	linked := r.linked
	r.mu.Unlock()
	if !linked {
		return false, ErrPeerNotConnected
	}
	if err := r.writeFrame(data); err != nil {
		return false, err
	}
	return true, nil
}

// Broadcast sends to the single linked peer unless it is in exclude.
func (r *MemoryRadio) Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int {
	if _, skip := exclude[r.peerID]; skip {
		return 0
	}
	ok, err := r.Send(r.peerID, data)
	if err != nil || !ok {
		return 0
	}
	return 1
}

// Disconnect closes the shared connection, simulating a link loss.
func (r *MemoryRadio) Disconnect(peer identity.NodeID) error {
	if peer != r.peerID {
		return ErrUnknownPeer
	}
	return r.conn.Close()
}

// Close tears down the underlying connection.
func (r *MemoryRadio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.conn.Close()
}

package linklayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// Signaler exchanges SDP offers/answers with a remote peer out of band
// (e.g. over the mDNS-discovered message endpoint's control channel, or
// manually for bootstrapping). LinkLayer never assumes a signaling
// transport itself, the same way the teacher's WebRTC Transport
// Provider cluster treats PeerConnection management as injected
// (examples/webrtc-transport/device.go's DeviceDelegate).
type Signaler interface {
	// SendOffer delivers a local SDP offer to peer and returns the
	// remote answer SDP.
	SendOffer(ctx context.Context, peer identity.NodeID, offerSDP string) (answerSDP string, err error)
}

// IncomingOfferHandler is invoked when a remote peer signals an offer to
// us; the returned SDP is the local answer.
type IncomingOfferHandler func(ctx context.Context, peer identity.NodeID, offerSDP string) (answerSDP string, err error)

// WebRTCRadio is the production dual-role byte-pipe backend: each peer
// link is one pion/webrtc PeerConnection carrying a single ordered,
// reliable DataChannel, mirroring the data-channel exchange in
// test/integration/webrtc_transport_e2e_test.go (TestE2E_WebRTCDataChannel)
// but driven directly rather than through Matter cluster commands.
type WebRTCRadio struct {
	localID     identity.NodeID
	signaler    Signaler
	log         logging.LeveledLogger
	dialTimeout time.Duration

	mu      sync.Mutex
	onFrame FrameHandler
	onLink  PeerLinkHandler
	links   map[identity.NodeID]*webrtcLink
}

type webrtcLink struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu    sync.Mutex
	ready bool
}

// WebRTCRadioConfig configures a WebRTCRadio.
type WebRTCRadioConfig struct {
	LocalID       identity.NodeID
	Signaler      Signaler
	DialTimeout   time.Duration
	LoggerFactory logging.LoggerFactory
}

// NewWebRTCRadio constructs a radio backend that dials peers via WebRTC
// data channels, using the given Signaler for SDP exchange.
func NewWebRTCRadio(config WebRTCRadioConfig) *WebRTCRadio {
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	r := &WebRTCRadio{
		localID:     config.LocalID,
		signaler:    config.Signaler,
		dialTimeout: config.DialTimeout,
		links:       make(map[identity.NodeID]*webrtcLink),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("linklayer-webrtc")
	}
	return r
}

// Start records the frame and link-change handlers; inbound offers are
// wired via HandleIncomingOffer, which callers invoke from their own
// signaling transport.
func (r *WebRTCRadio) Start(onFrame FrameHandler, onLink PeerLinkHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = onFrame
	r.onLink = onLink
	return nil
}

// HandleIncomingOffer accepts a remote SDP offer for peer, completes the
// WebRTC answer flow, and registers the resulting link for inbound use
// (spec §4.3 "Accepts inbound subscriptions").
func (r *WebRTCRadio) HandleIncomingOffer(ctx context.Context, peer identity.NodeID, offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("linklayer: new peer connection: %w", err)
	}

	link := &webrtcLink{pc: pc}
	r.registerDataChannelHandlers(peer, link)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", fmt.Errorf("linklayer: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("linklayer: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("linklayer: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return "", ctx.Err()
	}

	r.mu.Lock()
	r.links[peer] = link
	r.mu.Unlock()

	return pc.LocalDescription().SDP, nil
}

func (r *WebRTCRadio) registerDataChannelHandlers(peer identity.NodeID, link *webrtcLink) {
	link.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		r.bindDataChannel(peer, link, dc)
	})
}

func (r *WebRTCRadio) bindDataChannel(peer identity.NodeID, link *webrtcLink, dc *webrtc.DataChannel) {
	link.mu.Lock()
	link.dc = dc
	link.mu.Unlock()

	dc.OnOpen(func() {
		link.mu.Lock()
		link.ready = true
		link.mu.Unlock()
		r.mu.Lock()
		handler := r.onLink
		r.mu.Unlock()
		if handler != nil {
			handler(peer, true)
		}
	})
	dc.OnClose(func() {
		link.mu.Lock()
		link.ready = false
		link.mu.Unlock()
		r.mu.Lock()
		handler := r.onLink
		r.mu.Unlock()
		if handler != nil {
			handler(peer, false)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.mu.Lock()
		handler := r.onFrame
		r.mu.Unlock()
		if handler != nil {
			handler(Frame{From: peer, Data: msg.Data})
		}
		if r.log != nil {
			r.log.Tracef("linklayer: frame from %s (%d bytes)", peer, len(msg.Data))
		}
	})
}

// Connect dials peer: creates a PeerConnection and a DataChannel,
// signals the offer via the configured Signaler, and applies the
// returned answer.
func (r *WebRTCRadio) Connect(peer identity.NodeID) error {
	if r.signaler == nil {
		return fmt.Errorf("linklayer: %w: no signaler configured", ErrRadioUnavailable)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("linklayer: new peer connection: %w", err)
	}

	link := &webrtcLink{pc: pc}
	dc, err := pc.CreateDataChannel(peer.String(), nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("linklayer: create data channel: %w", err)
	}
	r.bindDataChannel(peer, link, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("linklayer: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("linklayer: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	answerSDP, err := r.signaler.SendOffer(ctx, peer, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return fmt.Errorf("linklayer: signal offer: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		pc.Close()
		return fmt.Errorf("linklayer: set remote description: %w", err)
	}

	r.mu.Lock()
	r.links[peer] = link
	r.mu.Unlock()
	return nil
}

// Send writes data to peer's open data channel.
func (r *WebRTCRadio) Send(peer identity.NodeID, data []byte) (bool, error) {
	r.mu.Lock()
	link := r.links[peer]
	r.mu.Unlock()
	if link == nil {
		return false, ErrPeerNotConnected
	}
	link.mu.Lock()
	dc, ready := link.dc, link.ready
	link.mu.Unlock()
	if dc == nil || !ready {
		return false, ErrPeerNotConnected
	}
	if err := dc.Send(data); err != nil {
		return false, err
	}
	return true, nil
}

// Broadcast writes data to every open data channel except those excluded.
func (r *WebRTCRadio) Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int {
	r.mu.Lock()
	peers := make([]identity.NodeID, 0, len(r.links))
	for id := range r.links {
		if _, skip := exclude[id]; !skip {
			peers = append(peers, id)
		}
	}
	r.mu.Unlock()

	count := 0
	for _, id := range peers {
		if ok, err := r.Send(id, data); err == nil && ok {
			count++
		}
	}
	return count
}

// Disconnect closes peer's PeerConnection.
func (r *WebRTCRadio) Disconnect(peer identity.NodeID) error {
	r.mu.Lock()
	link := r.links[peer]
	delete(r.links, peer)
	r.mu.Unlock()
	if link == nil {
		return ErrUnknownPeer
	}
	return link.pc.Close()
}

// Close tears down every peer connection.
func (r *WebRTCRadio) Close() error {
	r.mu.Lock()
	links := r.links
	r.links = make(map[identity.NodeID]*webrtcLink)
	r.mu.Unlock()

	var firstErr error
	for _, link := range links {
		if err := link.pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Radio = (*WebRTCRadio)(nil)
var _ Radio = (*MemoryRadio)(nil)

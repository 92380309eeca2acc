package router

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/chunking"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/relay"
)

// Transmitter is the subset of LinkLayer the Router needs: framed byte
// I/O to a directly connected peer, flood broadcast, and the set of
// currently connected peers. Implemented by *linklayer.LinkLayer;
// expressed as an interface here per spec §9's "explicitly-injected
// dependencies" design note.
type Transmitter interface {
	Send(peer identity.NodeID, data []byte) (bool, error)
	Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int
	ConnectedPeerIDs() []identity.NodeID
	IsConnected(peer identity.NodeID) bool
}

// LocalDeliverer hands a locally-terminating envelope to the Relay
// layer for decryption and dispatch. Implemented by *relay.Relay.
type LocalDeliverer interface {
	DeliverLocal(env *relay.Envelope, fromPeer identity.NodeID, now time.Time) error
}

// GroupMembership reports whether the local node belongs to the group a
// flooded envelope is addressed to, so the Router knows to also deliver
// it locally while continuing to forward the flood. Implemented by
// pkg/conversation.Manager.
type GroupMembership interface {
	IsMember(destination identity.NodeID) bool
}

// AckHandler receives inbound ACK control messages. Implemented by
// *reliability.Tracker.
type AckHandler interface {
	OnAck(messageID identity.NodeID) error
}

// Config configures a Router.
type Config struct {
	LocalID     identity.NodeID
	LocalName   string
	Params      Params
	Transmitter Transmitter
	Fragmenter  *chunking.Fragmenter
	Reassembler *chunking.Reassembler
	Deliverer   LocalDeliverer
	Groups      GroupMembership
	Acks        AckHandler

	LoggerFactory logging.LoggerFactory
}

// Router implements the C5 component: on-demand AODV-style path
// discovery, a next-hop cache, TTL-bounded flooding with duplicate
// suppression, and envelope forwarding. Grounded on the teacher's
// concurrency idioms (pkg/session/manager.go's mutex-guarded id-keyed
// table, pkg/exchange/retransmit.go's pending-by-key map) since the
// teacher itself never implements multi-hop routing.
type Router struct {
	localID   identity.NodeID
	localName string
	params    Params

	transmitter Transmitter
	fragmenter  *chunking.Fragmenter
	reassembler *chunking.Reassembler
	deliverer   LocalDeliverer
	groups      GroupMembership
	acks        AckHandler

	routes  *RouteCache
	seen    *relay.SeenMessageCache
	pending *pendingTable

	readHandlers []func(senderID, messageID identity.NodeID)
	gkdHandlers  []func(senderID identity.NodeID, payload []byte)
	mu           sync.Mutex

	log logging.LeveledLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Router.
func New(cfg Config) *Router {
	cfg.Params.applyDefaults()
	r := &Router{
		localID:     cfg.LocalID,
		localName:   cfg.LocalName,
		params:      cfg.Params,
		transmitter: cfg.Transmitter,
		fragmenter:  cfg.Fragmenter,
		reassembler: cfg.Reassembler,
		deliverer:   cfg.Deliverer,
		groups:      cfg.Groups,
		acks:        cfg.Acks,
		routes:      NewRouteCache(cfg.Params.RouteIdleWindow),
		seen:        relay.NewSeenMessageCache(cfg.Params.SeenExpiry),
		pending:     newPendingTable(),
		stopCh:      make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		r.log = cfg.LoggerFactory.NewLogger("router")
	}
	return r
}

// SetAcks wires the AckHandler after construction, for callers (like
// pkg/meshnode) that build the Reliability tracker after the Router
// since the tracker's own RetransmitFunc points back at this Router.
// Mirrors relay.Relay.SetControl.
func (r *Router) SetAcks(acks AckHandler) {
	r.acks = acks
}

// Start launches the periodic route/seen-cache GC sweep.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.gcLoop()
}

// Stop halts the GC sweep.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Router) gcLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.params.GCTick)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.routes.GC(now)
			r.seen.GC(now)
		}
	}
}

// OnPeerDisconnected should be called by the owner whenever a connected
// peer drops, triggering RERR propagation (spec §4.5).
func (r *Router) OnPeerDisconnected(peer identity.NodeID) {
	affected := r.routes.InvalidateNextHop(peer)
	if len(affected) == 0 {
		return
	}
	rerr := &RouteError{UnreachableID: peer, AffectedDests: affected}
	payload, err := EncodeRouteError(rerr)
	if err != nil {
		return
	}
	r.broadcastControl(ControlRERR, payload, nil)
}

// SendEnvelope implements the spec §4.5 "Outgoing send" algorithm for a
// freshly originated or retransmitted envelope.
func (r *Router) SendEnvelope(env *relay.Envelope) error {
	destination := env.DestinationID
	env.TTL = uint8(r.params.MaxTTL)

	if env.GroupMessage {
		return r.floodEnvelope(env, nil)
	}

	if r.transmitter.IsConnected(destination) {
		return r.transmitChunks(destination, env)
	}

	if route, ok := r.routes.Lookup(destination, time.Now()); ok && r.transmitter.IsConnected(route.NextHopID) {
		return r.transmitChunks(route.NextHopID, env)
	}

	return r.discoverAndSend(env)
}

// Retransmit re-emits an already-tracked envelope to the Router,
// exactly the hook spec §4.6 describes ("re-emit the envelope to the
// Router"). envelopeBytes is the relay.EncodeEnvelope output stored by
// the Reliability tracker.
func (r *Router) Retransmit(messageID, destination identity.NodeID, envelopeBytes []byte) error {
	env, err := relay.DecodeEnvelope(envelopeBytes)
	if err != nil {
		return err
	}
	return r.SendEnvelope(env)
}

func (r *Router) discoverAndSend(env *relay.Envelope) error {
	requestID := identity.NewNodeID()
	entry, created := r.pending.getOrStart(env.DestinationID, requestID, r.params.RouteDiscoveryTimeout, time.Now())

	if created {
		rreq := &RouteRequest{
			RequestID:     entry.requestID,
			OriginID:      r.localID,
			OriginName:    r.localName,
			DestinationID: env.DestinationID,
			HopCount:      0,
			TTL:           r.params.MaxTTL,
			HopPath:       []identity.NodeID{r.localID},
		}
		payload, err := EncodeRouteRequest(rreq)
		if err != nil {
			return err
		}
		r.seen.CheckAndRecord(entry.requestID, r.localID, time.Now())
		r.broadcastControl(ControlRREQ, payload, nil)
		go r.awaitDiscovery(entry.requestID, r.params.RouteDiscoveryTimeout)
	}

	select {
	case <-entry.resolved:
		if route, ok := r.routes.Lookup(env.DestinationID, time.Now()); ok {
			return r.transmitChunks(route.NextHopID, env)
		}
		return ErrNoRoute
	case <-time.After(r.params.RouteDiscoveryTimeout):
		return ErrNoRoute
	}
}

func (r *Router) awaitDiscovery(requestID identity.NodeID, timeout time.Duration) {
	select {
	case <-time.After(timeout):
		r.pending.fail(requestID)
	case <-r.stopCh:
	}
}

// transmitChunks fragments env and sends every chunk to nextHop.
func (r *Router) transmitChunks(nextHop identity.NodeID, env *relay.Envelope) error {
	body, err := relay.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	frame := relay.EncodeFrame(relay.FrameKindEnvelope, body)
	return r.sendFrame(nextHop, env.MessageID, frame, env.RequiresAck)
}

func (r *Router) sendFrame(peer identity.NodeID, messageID identity.NodeID, frame []byte, requiresAck bool) error {
	chunks := r.fragmenter.ChunksFor(chunking.MessageID(messageID), frame, requiresAck)
	for _, c := range chunks {
		if _, err := r.transmitter.Send(peer, c.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) broadcastControl(kind ControlType, innerPayload []byte, exclude map[identity.NodeID]struct{}) int {
	msg := &ControlMessage{Type: kind, Payload: innerPayload}
	body, err := EncodeControlMessage(msg)
	if err != nil {
		return 0
	}
	frame := relay.EncodeFrame(relay.FrameKindControl, body)
	return r.chunkedBroadcast(frame, exclude)
}

func (r *Router) unicastControl(peer identity.NodeID, kind ControlType, innerPayload []byte) error {
	msg := &ControlMessage{Type: kind, Payload: innerPayload}
	body, err := EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	frame := relay.EncodeFrame(relay.FrameKindControl, body)
	return r.sendFrame(peer, identity.NewNodeID(), frame, false)
}

func (r *Router) chunkedBroadcast(frame []byte, exclude map[identity.NodeID]struct{}) int {
	chunks := r.fragmenter.ChunksFor(chunking.MessageID(identity.NewNodeID()), frame, false)
	sent := 0
	for _, c := range chunks {
		sent += r.transmitter.Broadcast(c.Encode(), exclude)
	}
	return sent
}

// floodEnvelope sends a group-addressed envelope to every connected
// peer except the ones in exclude (used when re-flooding a forward to
// avoid echoing it back to the peer it arrived from).
func (r *Router) floodEnvelope(env *relay.Envelope, exclude map[identity.NodeID]struct{}) error {
	body, err := relay.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	frame := relay.EncodeFrame(relay.FrameKindEnvelope, body)
	r.chunkedBroadcast(frame, exclude)
	return nil
}

// SendAck implements relay.ControlSender for the Relay layer.
func (r *Router) SendAck(destination, messageID identity.NodeID) error {
	payload := messageID[:]
	if r.transmitter.IsConnected(destination) {
		return r.unicastControl(destination, ControlAck, payload)
	}
	if route, ok := r.routes.Lookup(destination, time.Now()); ok && r.transmitter.IsConnected(route.NextHopID) {
		return r.unicastControl(route.NextHopID, ControlAck, payload)
	}
	return ErrNoRoute
}

// HandleFrame is the LinkLayer frame-received callback entry point:
// feeds fragmented bytes into the reassembler and, on completion,
// decodes and dispatches the reassembled message.
func (r *Router) HandleFrame(from identity.NodeID, data []byte) {
	chunk, err := chunking.DecodeChunk(data)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("router: dropping malformed chunk from %s: %v", from, err)
		}
		return
	}
	assembled, complete, err := r.reassembler.Offer(chunk, time.Now())
	if err != nil {
		if r.log != nil {
			r.log.Debugf("router: reassembly error from %s: %v", from, err)
		}
		return
	}
	if !complete {
		return
	}

	kind, body, err := relay.DecodeFrame(assembled)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("router: dropping unrecognised frame from %s: %v", from, err)
		}
		return
	}

	switch kind {
	case relay.FrameKindEnvelope:
		r.handleEnvelope(from, body)
	case relay.FrameKindControl:
		r.handleControl(from, body)
	}
}

func (r *Router) handleEnvelope(from identity.NodeID, body []byte) {
	env, err := relay.DecodeEnvelope(body)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("router: malformed envelope from %s: %v", from, err)
		}
		return
	}

	if r.seen.CheckAndRecord(env.MessageID, env.OriginID, time.Now()) {
		return
	}

	isLocal := env.DestinationID == r.localID
	isGroupMember := !isLocal && env.GroupMessage && r.groups != nil && r.groups.IsMember(env.DestinationID)

	if isLocal || isGroupMember {
		if r.deliverer != nil {
			if err := r.deliverer.DeliverLocal(env, from, time.Now()); err != nil && r.log != nil {
				r.log.Warnf("router: local delivery failed for %s: %v", env.MessageID, err)
			}
		}
	}
	if isLocal {
		return
	}

	r.forward(from, env)
}

// forward implements envelope forwarding for a non-local destination
// (spec §4.5 "Envelope forwarding"): decrement TTL, drop at zero,
// otherwise route (unicast) or re-flood (group).
func (r *Router) forward(from identity.NodeID, env *relay.Envelope) {
	if env.TTL <= 1 {
		return
	}
	fwd := env.Clone()
	fwd.TTL = env.TTL - 1

	if fwd.GroupMessage {
		exclude := map[identity.NodeID]struct{}{from: {}}
		if err := r.floodEnvelope(fwd, exclude); err != nil && r.log != nil {
			r.log.Warnf("router: re-flood failed for %s: %v", fwd.MessageID, err)
		}
		return
	}

	if route, ok := r.routes.Lookup(fwd.DestinationID, time.Now()); ok && r.transmitter.IsConnected(route.NextHopID) {
		if err := r.transmitChunks(route.NextHopID, fwd); err != nil && r.log != nil {
			r.log.Warnf("router: forward failed for %s: %v", fwd.MessageID, err)
		}
		return
	}
	// Conservative policy (spec §4.5): drop relay traffic with no cached
	// route rather than buffering it behind a fresh RREQ.
	if r.log != nil {
		r.log.Debugf("router: no route to forward %s, dropping", fwd.DestinationID)
	}
}

func (r *Router) hopPathContainsSelf(path []identity.NodeID) bool {
	for _, id := range path {
		if id == r.localID {
			return true
		}
	}
	return false
}

func (r *Router) handleControl(from identity.NodeID, body []byte) {
	msg, err := DecodeControlMessage(body)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("router: malformed control message from %s: %v", from, err)
		}
		return
	}

	switch msg.Type {
	case ControlRREQ:
		r.handleRREQ(from, msg.Payload)
	case ControlRREP:
		r.handleRREP(from, msg.Payload)
	case ControlRERR:
		r.handleRERR(from, msg.Payload)
	case ControlAnnounce:
		r.handleAnnounce(from, msg.Payload)
	case ControlAck:
		r.handleAck(msg.Payload)
	case ControlRead:
		r.handleRead(from, msg.Payload)
	case ControlGKD:
		r.handleGKD(from, msg.Payload)
	}
}

func (r *Router) handleRREQ(from identity.NodeID, payload []byte) {
	req, err := DecodeRouteRequest(payload)
	if err != nil {
		return
	}

	if r.hopPathContainsSelf(req.HopPath) {
		return
	}
	if r.seen.CheckAndRecord(req.RequestID, req.OriginID, time.Now()) {
		return
	}

	// Record the reverse path back to the origin via whoever sent us
	// this RREQ, regardless of destination match.
	r.routes.Put(req.OriginID, from, req.HopCount, reversed(append(req.HopPath, r.localID)), time.Now())

	if req.DestinationID == r.localID {
		reply := &RouteReply{
			RequestID:     req.RequestID,
			OriginID:      req.OriginID,
			DestinationID: req.DestinationID,
			HopCount:      req.HopCount + 1,
			ForwardPath:   append(append([]identity.NodeID(nil), req.HopPath...), r.localID),
		}
		payload, err := EncodeRouteReply(reply)
		if err != nil {
			return
		}
		_ = r.unicastControl(from, ControlRREP, payload)
		return
	}

	if req.HopCount >= req.TTL {
		return
	}
	req.HopCount++
	req.HopPath = append(append([]identity.NodeID(nil), req.HopPath...), r.localID)
	rebroadcast, err := EncodeRouteRequest(req)
	if err != nil {
		return
	}
	exclude := map[identity.NodeID]struct{}{from: {}}
	r.broadcastControl(ControlRREQ, rebroadcast, exclude)
}

func (r *Router) handleRREP(from identity.NodeID, payload []byte) {
	rep, err := DecodeRouteReply(payload)
	if err != nil {
		return
	}

	// Record the forward route to the destination via whoever relayed
	// this RREP to us, applying the tie-break rule: only a strictly
	// shorter path replaces an already-cached one, so an equal-hop
	// duplicate arriving after the winning reply is dropped here.
	if !r.routes.PutIfBetter(rep.DestinationID, from, rep.HopCount, rep.ForwardPath, time.Now()) {
		return
	}

	if rep.OriginID == r.localID {
		// Each SendEnvelope call blocked on this destination is waiting
		// on entry.resolved in its own discoverAndSend goroutine and
		// sends its own buffered envelope once woken; resolve here only
		// releases them; it does not transmit anything itself.
		r.pending.resolve(rep.RequestID)
		return
	}

	// Forward the RREP to our predecessor on the stored return path:
	// the peer immediately before us in ForwardPath.
	prev, ok := predecessorOf(rep.ForwardPath, r.localID)
	if !ok {
		return
	}
	fwdPayload, err := EncodeRouteReply(rep)
	if err != nil {
		return
	}
	_ = r.unicastControl(prev, ControlRREP, fwdPayload)
}

func (r *Router) handleRERR(from identity.NodeID, payload []byte) {
	rerr, err := DecodeRouteError(payload)
	if err != nil {
		return
	}
	affected := r.routes.InvalidateNextHop(rerr.UnreachableID)
	if len(affected) == 0 {
		return
	}
	exclude := map[identity.NodeID]struct{}{from: {}}
	r.broadcastControl(ControlRERR, payload, exclude)
}

func (r *Router) handleAnnounce(from identity.NodeID, payload []byte) {
	ann, err := DecodeAnnounce(payload)
	if err != nil {
		return
	}
	if r.seen.CheckAndRecord(ann.OriginID, ann.OriginID, time.Now()) {
		return
	}
	r.routes.Put(ann.OriginID, from, ann.HopCount, nil, time.Now())
	if ann.HopCount >= r.params.AnnounceMaxHops {
		return
	}
	ann.HopCount++
	fwd, err := EncodeAnnounce(ann)
	if err != nil {
		return
	}
	exclude := map[identity.NodeID]struct{}{from: {}}
	r.broadcastControl(ControlAnnounce, fwd, exclude)
}

func (r *Router) handleAck(payload []byte) {
	if len(payload) != 16 || r.acks == nil {
		return
	}
	var messageID identity.NodeID
	copy(messageID[:], payload)
	_ = r.acks.OnAck(messageID)
}

// OnRead registers a handler invoked on receipt of a READ control
// message (read receipt). senderID is the peer acknowledging the read.
func (r *Router) OnRead(handler func(senderID, messageID identity.NodeID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readHandlers = append(r.readHandlers, handler)
}

func (r *Router) handleRead(from identity.NodeID, payload []byte) {
	if len(payload) != 16 {
		return
	}
	var messageID identity.NodeID
	copy(messageID[:], payload)
	r.mu.Lock()
	handlers := append([]func(identity.NodeID, identity.NodeID){}, r.readHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(from, messageID)
	}
}

// OnGKD registers a handler invoked on receipt of a GKD (group key
// distribution) control message. Implements spec §9 Open Question 2's
// minimal hook; Conversation/Crypto decide how to apply the key.
func (r *Router) OnGKD(handler func(senderID identity.NodeID, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gkdHandlers = append(r.gkdHandlers, handler)
}

func (r *Router) handleGKD(from identity.NodeID, payload []byte) {
	r.mu.Lock()
	handlers := append([]func(identity.NodeID, []byte){}, r.gkdHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(from, payload)
	}
}

// SendGKD emits a group-key-distribution control message directly to a
// peer, sealed by the caller (Crypto/Conversation own key sealing).
func (r *Router) SendGKD(peer identity.NodeID, payload []byte) error {
	return r.unicastControl(peer, ControlGKD, payload)
}

// SendRead emits a read-receipt control message to peer.
func (r *Router) SendRead(peer, messageID identity.NodeID) error {
	return r.unicastControl(peer, ControlRead, messageID[:])
}

// SendAnnounce broadcasts a presence beacon.
func (r *Router) SendAnnounce() {
	ann := &Announce{OriginID: r.localID, OriginName: r.localName, HopCount: 0}
	payload, err := EncodeAnnounce(ann)
	if err != nil {
		return
	}
	r.broadcastControl(ControlAnnounce, payload, nil)
}

// RouteCacheLen exposes the cache size for diagnostics and tests.
func (r *Router) RouteCacheLen() int { return r.routes.Len() }

func reversed(path []identity.NodeID) []identity.NodeID {
	out := make([]identity.NodeID, len(path))
	for i, id := range path {
		out[len(path)-1-i] = id
	}
	return out
}

// predecessorOf finds the node immediately preceding target in path (the
// next hop back toward the origin).
func predecessorOf(path []identity.NodeID, target identity.NodeID) (identity.NodeID, bool) {
	for i, id := range path {
		if id == target && i > 0 {
			return path[i-1], true
		}
	}
	return identity.NodeID{}, false
}

package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/meshcore/pkg/chunking"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/relay"
)

func newTestID(seed byte) identity.NodeID {
	var id identity.NodeID
	for i := range id {
		id[i] = seed
	}
	return id
}

func newCodec(t *testing.T) (*chunking.Fragmenter, *chunking.Reassembler) {
	t.Helper()
	f, err := chunking.NewFragmenter(512, chunking.HeaderSize)
	require.NoError(t, err)
	return f, chunking.NewReassembler(0)
}

// recordingDeliverer captures every locally delivered envelope.
type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*relay.Envelope
}

func (d *recordingDeliverer) DeliverLocal(env *relay.Envelope, fromPeer identity.NodeID, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, env)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

// meshNet wires a set of named routers into a fully-meshed in-process
// network: every Send/Broadcast call hands bytes directly to the
// addressed peer's Router.HandleFrame, bypassing any real transport.
type meshNet struct {
	mu      sync.Mutex
	routers map[identity.NodeID]*Router
	links   map[identity.NodeID]map[identity.NodeID]bool
}

func newMeshNet() *meshNet {
	return &meshNet{
		routers: make(map[identity.NodeID]*Router),
		links:   make(map[identity.NodeID]map[identity.NodeID]bool),
	}
}

func (n *meshNet) addLink(a, b identity.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[a] == nil {
		n.links[a] = make(map[identity.NodeID]bool)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[identity.NodeID]bool)
	}
	n.links[a][b] = true
	n.links[b][a] = true
}

func (n *meshNet) removeLink(a, b identity.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.links[a], b)
	delete(n.links[b], a)
}

// transmitterFor returns a Transmitter bound to self's view of the mesh.
func (n *meshNet) transmitterFor(self identity.NodeID) Transmitter {
	return &meshTransmitter{net: n, self: self}
}

type meshTransmitter struct {
	net  *meshNet
	self identity.NodeID
}

func (t *meshTransmitter) peers() []identity.NodeID {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	out := make([]identity.NodeID, 0, len(t.net.links[t.self]))
	for id, up := range t.net.links[t.self] {
		if up {
			out = append(out, id)
		}
	}
	return out
}

func (t *meshTransmitter) Send(peer identity.NodeID, data []byte) (bool, error) {
	if !t.IsConnected(peer) {
		return false, nil
	}
	t.net.mu.Lock()
	r := t.net.routers[peer]
	t.net.mu.Unlock()
	if r != nil {
		r.HandleFrame(t.self, data)
	}
	return true, nil
}

func (t *meshTransmitter) Broadcast(data []byte, exclude map[identity.NodeID]struct{}) int {
	sent := 0
	for _, peer := range t.peers() {
		if _, skip := exclude[peer]; skip {
			continue
		}
		if _, err := t.Send(peer, data); err == nil {
			sent++
		}
	}
	return sent
}

func (t *meshTransmitter) ConnectedPeerIDs() []identity.NodeID {
	return t.peers()
}

func (t *meshTransmitter) IsConnected(peer identity.NodeID) bool {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.net.links[t.self][peer]
}

type nodeHandle struct {
	id        identity.NodeID
	router    *Router
	deliverer *recordingDeliverer
}

func (n *meshNet) newNode(t *testing.T, id identity.NodeID) *nodeHandle {
	t.Helper()
	frag, reasm := newCodec(t)
	deliverer := &recordingDeliverer{}
	r := New(Config{
		LocalID:     id,
		LocalName:   id.String(),
		Params:      DefaultParams(),
		Transmitter: n.transmitterFor(id),
		Fragmenter:  frag,
		Reassembler: reasm,
		Deliverer:   deliverer,
	})
	n.mu.Lock()
	n.routers[id] = r
	n.mu.Unlock()
	return &nodeHandle{id: id, router: r, deliverer: deliverer}
}

func testEnvelope(origin, destination identity.NodeID, ttl uint8) *relay.Envelope {
	return &relay.Envelope{
		MessageID:     identity.NewNodeID(),
		OriginID:      origin,
		OriginName:    origin.String(),
		DestinationID: destination,
		IsEncrypted:   false,
		RequiresAck:   false,
		TTL:           ttl,
		Payload:       []byte("hello"),
	}
}

func encodeEnvelopeFrame(t *testing.T, env *relay.Envelope) []byte {
	t.Helper()
	body, err := relay.EncodeEnvelope(env)
	require.NoError(t, err)
	return relay.EncodeFrame(relay.FrameKindEnvelope, body)
}

func chunksFor(t *testing.T, frag *chunking.Fragmenter, env *relay.Envelope, frame []byte) [][]byte {
	t.Helper()
	chunks := frag.ChunksFor(chunking.MessageID(env.MessageID), frame, false)
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = c.Encode()
	}
	return out
}

// TestHandleFrameDeliversDirectEnvelope exercises the simplest path: a
// single-chunk envelope addressed to the local node is delivered once
// and not forwarded.
func TestHandleFrameDeliversDirectEnvelope(t *testing.T) {
	frag, reasm := newCodec(t)
	deliverer := &recordingDeliverer{}
	local := newTestID(1)
	sender := newTestID(2)

	r := New(Config{
		LocalID:     local,
		Params:      DefaultParams(),
		Transmitter: newMeshNet().transmitterFor(local),
		Fragmenter:  frag,
		Reassembler: reasm,
		Deliverer:   deliverer,
	})

	env := testEnvelope(sender, local, 3)
	frame := encodeEnvelopeFrame(t, env)
	for _, c := range chunksFor(t, frag, env, frame) {
		r.HandleFrame(sender, c)
	}

	require.Equal(t, 1, deliverer.count())
}

// TestHandleFrameDropsAtTTLExpired checks that a non-local envelope with
// TTL<=1 is not forwarded further.
func TestHandleFrameDropsAtTTLExpired(t *testing.T) {
	net := newMeshNet()
	a := newTestID(1)
	r := newTestID(2)
	b := newTestID(3)
	net.addLink(a, r)
	net.addLink(r, b)

	relayNode := net.newNode(t, r)
	bNode := net.newNode(t, b)

	frag, _ := newCodec(t)
	env := testEnvelope(a, b, 1) // TTL already at the forwarding floor
	frame := encodeEnvelopeFrame(t, env)
	for _, c := range chunksFor(t, frag, env, frame) {
		relayNode.router.HandleFrame(a, c)
	}

	require.Equal(t, 0, bNode.deliverer.count())
}

// TestHandleFrameForwardsWithDecrementedTTL routes an envelope through a
// relay with a pre-seeded route, asserting the forwarded copy's TTL is
// exactly one less than the original and the destination delivers it
// exactly once.
func TestHandleFrameForwardsWithDecrementedTTL(t *testing.T) {
	net := newMeshNet()
	a := newTestID(1)
	r := newTestID(2)
	b := newTestID(3)
	net.addLink(a, r)
	net.addLink(r, b)

	relayNode := net.newNode(t, r)
	bNode := net.newNode(t, b)
	relayNode.router.routes.Put(b, b, 1, []identity.NodeID{r, b}, time.Now())

	frag, _ := newCodec(t)
	env := testEnvelope(a, b, 3)
	frame := encodeEnvelopeFrame(t, env)
	for _, c := range chunksFor(t, frag, env, frame) {
		relayNode.router.HandleFrame(a, c)
	}

	require.Equal(t, 1, bNode.deliverer.count())
	require.Equal(t, uint8(2), bNode.deliverer.delivered[0].TTL)
}

// TestHandleFrameSuppressesDuplicateEnvelope checks the single dedup
// checkpoint: the same (MessageID, OriginID) pair delivered twice to a
// relay only forwards once.
func TestHandleFrameSuppressesDuplicateEnvelope(t *testing.T) {
	net := newMeshNet()
	a := newTestID(1)
	r := newTestID(2)
	b := newTestID(3)
	net.addLink(a, r)
	net.addLink(r, b)

	relayNode := net.newNode(t, r)
	bNode := net.newNode(t, b)
	relayNode.router.routes.Put(b, b, 1, []identity.NodeID{r, b}, time.Now())

	frag, _ := newCodec(t)
	env := testEnvelope(a, b, 3)
	frame := encodeEnvelopeFrame(t, env)
	chunks := chunksFor(t, frag, env, frame)

	for _, c := range chunks {
		relayNode.router.HandleFrame(a, c)
	}
	for _, c := range chunks {
		relayNode.router.HandleFrame(a, c)
	}

	require.Equal(t, 1, bNode.deliverer.count())
}

// TestThreeNodeRelayDiscoversRouteAndDelivers is the three-node relay
// scenario: A has no direct link to B, only to R; a send from A to B
// triggers RREQ flooding through R, B replies with an RREP, and the
// envelope is delivered to B exactly once.
func TestThreeNodeRelayDiscoversRouteAndDelivers(t *testing.T) {
	net := newMeshNet()
	a := newTestID(1)
	r := newTestID(2)
	b := newTestID(3)
	net.addLink(a, r)
	net.addLink(r, b)

	aNode := net.newNode(t, a)
	net.newNode(t, r)
	bNode := net.newNode(t, b)

	aNode.router.Start()
	defer aNode.router.Stop()

	env := testEnvelope(a, b, DefaultParams().MaxTTL)
	errCh := make(chan error, 1)
	go func() { errCh <- aNode.router.SendEnvelope(env) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for route discovery to resolve")
	}

	require.Eventually(t, func() bool {
		return bNode.deliverer.count() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestRouteInvalidationTriggersRediscovery: A reaches B via two
// redundant relays R1 and R2. R1 "disconnects" (link drops both ways);
// A's cached route through R1 is invalidated and a fresh send still
// reaches B, this time via R2.
func TestRouteInvalidationTriggersRediscovery(t *testing.T) {
	net := newMeshNet()
	a := newTestID(1)
	r1 := newTestID(2)
	r2 := newTestID(3)
	b := newTestID(4)
	net.addLink(a, r1)
	net.addLink(a, r2)
	net.addLink(r1, b)
	net.addLink(r2, b)

	aNode := net.newNode(t, a)
	net.newNode(t, r1)
	net.newNode(t, r2)
	bNode := net.newNode(t, b)

	aNode.router.Start()
	defer aNode.router.Stop()

	// Seed A's cache with a stale route via r1, then drop that link and
	// tell A's Router about it the way the owning LinkLayer would.
	aNode.router.routes.Put(b, r1, 1, []identity.NodeID{a, r1, b}, time.Now())
	net.removeLink(a, r1)
	aNode.router.OnPeerDisconnected(r1)

	env := testEnvelope(a, b, DefaultParams().MaxTTL)
	errCh := make(chan error, 1)
	go func() { errCh <- aNode.router.SendEnvelope(env) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rediscovery after route invalidation")
	}

	require.Eventually(t, func() bool {
		return bNode.deliverer.count() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestRouteCachePutIfBetterKeepsShorterPath asserts the RREP tie-break
// rule directly against RouteCache.
func TestRouteCachePutIfBetterKeepsShorterPath(t *testing.T) {
	c := NewRouteCache(time.Minute)
	dest := newTestID(9)
	now := time.Now()

	require.True(t, c.PutIfBetter(dest, newTestID(1), 3, nil, now))
	require.False(t, c.PutIfBetter(dest, newTestID(2), 3, nil, now)) // equal hop count, dropped
	require.True(t, c.PutIfBetter(dest, newTestID(3), 2, nil, now))  // strictly shorter wins

	entry, ok := c.Lookup(dest, now)
	require.True(t, ok)
	require.Equal(t, newTestID(3), entry.NextHopID)
	require.Equal(t, 2, entry.HopCount)
}

// TestSendAckRoutesThroughCachedNextHop confirms the relay.ControlSender
// implementation picks the cached next hop for an indirect destination.
func TestSendAckRoutesThroughCachedNextHop(t *testing.T) {
	net := newMeshNet()
	local := newTestID(1)
	hop := newTestID(2)
	dest := newTestID(3)
	net.addLink(local, hop)

	node := net.newNode(t, local)
	net.newNode(t, hop)
	node.router.routes.Put(dest, hop, 1, nil, time.Now())

	err := node.router.SendAck(dest, identity.NewNodeID())
	require.NoError(t, err)
}

func TestSendAckNoRouteReturnsError(t *testing.T) {
	net := newMeshNet()
	local := newTestID(1)
	node := net.newNode(t, local)

	err := node.router.SendAck(newTestID(9), identity.NewNodeID())
	require.ErrorIs(t, err, ErrNoRoute)
}

// TestSendGKDAndSendReadDeliverToHandlers round-trips the GKD and READ
// control messages end to end: SendGKD/SendRead on one node's Router
// through HandleFrame and handleGKD/handleRead dispatch on the peer's,
// arriving at handlers registered via OnGKD/OnRead.
func TestSendGKDAndSendReadDeliverToHandlers(t *testing.T) {
	net := newMeshNet()
	local := newTestID(1)
	peer := newTestID(2)
	net.addLink(local, peer)

	localNode := net.newNode(t, local)
	peerNode := net.newNode(t, peer)

	gkdCh := make(chan []byte, 1)
	peerNode.router.OnGKD(func(senderID identity.NodeID, payload []byte) {
		require.Equal(t, local, senderID)
		gkdCh <- payload
	})

	readCh := make(chan identity.NodeID, 1)
	peerNode.router.OnRead(func(senderID, messageID identity.NodeID) {
		require.Equal(t, local, senderID)
		readCh <- messageID
	})

	groupKey := []byte("a shared group key of 32 bytes!")
	require.NoError(t, localNode.router.SendGKD(peer, groupKey))

	select {
	case payload := <-gkdCh:
		require.Equal(t, groupKey, payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for GKD delivery")
	}

	messageID := identity.NewNodeID()
	require.NoError(t, localNode.router.SendRead(peer, messageID))

	select {
	case got := <-readCh:
		require.Equal(t, messageID, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for READ delivery")
	}
}

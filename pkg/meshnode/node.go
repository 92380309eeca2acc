package meshnode

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/chunking"
	"github.com/driftmesh/meshcore/pkg/conversation"
	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/linklayer"
	"github.com/driftmesh/meshcore/pkg/relay"
	"github.com/driftmesh/meshcore/pkg/reliability"
	"github.com/driftmesh/meshcore/pkg/router"
)

// Node is a running mesh participant: it owns one identity and wires
// every stack layer (C1-C8) together, the way pkg/matter/node.go
// assembles a Matter node's managers around one config and identity.
type Node struct {
	config Config
	id     *identity.Identity
	log    logging.LeveledLogger

	crypto       *crypto.Manager
	link         *linklayer.LinkLayer
	fragmenter   *chunking.Fragmenter
	reassembler  *chunking.Reassembler
	router       *router.Router
	reliability  *reliability.Tracker
	relay        *relay.Relay
	conversation *conversation.Manager

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Node but does not start any background activity.
// Call Start to begin discovery, routing, and reliability sweeps.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	id, err := identity.LoadOrGenerate(cfg.Store)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config: cfg,
		id:     id,
		stopCh: make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		n.log = cfg.LoggerFactory.NewLogger("meshnode")
	}

	n.crypto = crypto.NewManager(id)

	n.link = linklayer.New(cfg.LinkLayer, cfg.Radio, n.crypto)

	fragmenter, err := chunking.NewFragmenter(cfg.MTU, cfg.ChunkHeaderSize)
	if err != nil {
		return nil, err
	}
	n.fragmenter = fragmenter
	n.reassembler = chunking.NewReassembler(cfg.ReassemblyExpiry)

	n.conversation = conversation.New(conversation.Config{
		LocalID:       id.NodeID(),
		LoggerFactory: cfg.LoggerFactory,
	})

	// relay.Relay needs the Router as its ControlSender, but the
	// Router needs the Relay as its LocalDeliverer: construct the
	// Relay first with Control left nil and wire it in once the
	// Router exists (see relay.Relay.SetControl).
	n.relay = relay.New(relay.Config{
		LocalID:       id.NodeID(),
		Crypto:        n.crypto,
		Groups:        n.conversation,
		Sink:          n.conversation,
		LoggerFactory: cfg.LoggerFactory,
	})

	n.router = router.New(router.Config{
		LocalID:       id.NodeID(),
		LocalName:     cfg.LocalName,
		Params:        cfg.Router,
		Transmitter:   n.link,
		Fragmenter:    n.fragmenter,
		Reassembler:   n.reassembler,
		Deliverer:     n.relay,
		Groups:        n.conversation,
		LoggerFactory: cfg.LoggerFactory,
	})
	n.relay.SetControl(n.router)

	n.reliability = reliability.NewTracker(reliability.Config{
		Params:        cfg.Reliability,
		Retransmit:    n.router.Retransmit,
		LoggerFactory: cfg.LoggerFactory,
	})

	// router.Config.Acks wants an AckHandler, and reliability.Tracker
	// was constructed after the Router config was built; route inbound
	// ACKs to it via the same late-wiring shape as relay.SetControl.
	n.router.SetAcks(n.reliability)

	return n, nil
}

// NodeID returns the local node's stable identifier.
func (n *Node) NodeID() identity.NodeID {
	return n.id.NodeID()
}

// Identity returns the local node's identity (public keys and NodeID).
func (n *Node) Identity() *identity.Identity {
	return n.id
}

// LinkLayer exposes the C3 component for callers driving discovery and
// the connection handshake directly (radio wiring, key-exchange
// notification), mirroring pkg/matter/node.go's TransportManager().
func (n *Node) LinkLayer() *linklayer.LinkLayer {
	return n.link
}

// Router exposes the C5 component for callers that need route-cache
// introspection or control-message hooks (OnRead, OnGKD).
func (n *Node) Router() *router.Router {
	return n.router
}

// Conversation exposes the C8 bookkeeping layer for UI/CLI consumers.
func (n *Node) Conversation() *conversation.Manager {
	return n.conversation
}

// Crypto exposes the C2 key-agreement manager, e.g. for commissioning a
// new peer's agreement/signing keys before the first send.
func (n *Node) Crypto() *crypto.Manager {
	return n.crypto
}

// Start begins link-layer discovery, the router's GC sweep, the
// reliability tracker's retry/expiry sweeps, periodic ANNOUNCE beacons,
// and the event pump that drives inbound frames and peer-disconnect
// notifications from the link layer into the router.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.link.Start(); err != nil {
		return err
	}
	n.router.Start()
	n.reliability.Start()

	n.wg.Add(1)
	go n.pumpEvents()

	n.wg.Add(1)
	go n.announceLoop()

	n.started = true
	if n.log != nil {
		n.log.Infof("node %s started", n.id.NodeID())
	}
	return nil
}

// Stop halts all background activity and tears down the link layer.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return ErrNotStarted
	}
	close(n.stopCh)
	n.wg.Wait()
	n.reliability.Stop()
	n.router.Stop()
	err := n.link.Stop()
	n.started = false
	return err
}

// pumpEvents is the single-goroutine "application context" spec §5
// describes: it drains LinkLayer.Events() and dispatches each one to
// the Router, the one place inbound frames and peer-lifecycle changes
// enter the routing layer.
func (n *Node) pumpEvents() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case ev, ok := <-n.link.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case linklayer.EventFrameReceived:
				n.router.HandleFrame(ev.Peer, ev.Frame)
			case linklayer.EventPeerDisconnected:
				n.router.OnPeerDisconnected(ev.Peer)
			case linklayer.EventPeerConnected:
				if n.log != nil {
					n.log.Debugf("peer %s connected", ev.Peer)
				}
			}
		}
	}
}

// announceLoop emits a hop-limited ANNOUNCE presence beacon on a
// fixed interval, the reactive-routing analogue of the teacher's mDNS
// service-record refresh.
func (n *Node) announceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.router.SendAnnounce()
		}
	}
}

// SendDirect encrypts (if a session exists with peer) and routes a
// plaintext application message to a single destination, optionally
// tracking it for ACK-driven retry.
func (n *Node) SendDirect(peer identity.NodeID, plaintext []byte, requiresAck bool) (identity.NodeID, error) {
	env, err := n.relay.EncodeOutgoing(peer, plaintext, requiresAck)
	if err != nil {
		return identity.NodeID{}, err
	}
	return n.sendAndTrack(env, requiresAck)
}

// SendGroup seals plaintext under the group's shared key and floods it
// to every member, optionally tracking it for ACK-driven retry.
func (n *Node) SendGroup(groupID identity.NodeID, plaintext []byte, requiresAck bool) (identity.NodeID, error) {
	key, ok := n.conversation.GroupKey(groupID)
	if !ok {
		return identity.NodeID{}, conversation.ErrNotGroupMember
	}
	env, err := n.relay.EncodeOutgoingGroup(groupID, n.config.LocalName, key, plaintext, requiresAck)
	if err != nil {
		return identity.NodeID{}, err
	}
	return n.sendAndTrack(env, requiresAck)
}

func (n *Node) sendAndTrack(env *relay.Envelope, requiresAck bool) (identity.NodeID, error) {
	if requiresAck {
		envelopeBytes, err := relay.EncodeEnvelope(env)
		if err != nil {
			return identity.NodeID{}, err
		}
		if err := n.reliability.Track(env.MessageID, env.DestinationID, envelopeBytes, nil); err != nil {
			return identity.NodeID{}, err
		}
	}
	if err := n.router.SendEnvelope(env); err != nil {
		return identity.NodeID{}, err
	}
	return env.MessageID, nil
}

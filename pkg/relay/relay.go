package relay

import (
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
)

// DeliveredMessage is the plaintext handed to the Conversation layer
// after a local or group envelope has been decrypted (or passed through
// unencrypted for a debug/plaintext deployment, per spec §9 Open
// Question 1).
type DeliveredMessage struct {
	MessageID     identity.NodeID
	OriginID      identity.NodeID
	OriginName    string
	DestinationID identity.NodeID
	GroupMessage  bool
	Plaintext     []byte
	ReceivedAt    time.Time
}

// ConversationSink receives locally-terminated messages for bookkeeping
// (C8). Implemented by pkg/conversation.Manager.
type ConversationSink interface {
	Deliver(msg DeliveredMessage) error
}

// GroupKeyProvider resolves the symmetric key for a group destination.
// Implemented by pkg/conversation.Manager, which owns group membership
// and key material for conversations the local node belongs to.
type GroupKeyProvider interface {
	GroupKey(destinationID identity.NodeID) (*crypto.GroupKey, bool)
}

// ControlSender emits the ACK control message spec §4.6 requires on
// successful receipt of a RequiresAck message. Implemented by
// pkg/router.Router, which owns control-message transmission.
type ControlSender interface {
	SendAck(destination, messageID identity.NodeID) error
}

// Config configures a Relay.
type Config struct {
	LocalID       identity.NodeID
	Crypto        *crypto.Manager
	Groups        GroupKeyProvider
	Sink          ConversationSink
	Control       ControlSender
	LoggerFactory logging.LoggerFactory
}

// Relay implements the C7 component's local-termination half: given an
// envelope the Router has already decided terminates here (destination
// is the local node, or a group the local node belongs to), it decrypts
// and hands the plaintext to the Conversation layer, emitting an ACK if
// requested. Forwarding and the shared dedup checkpoint live in
// pkg/router, which owns the single point spec §4.5 describes where a
// duplicate is "dropped before any forwarding work".
type Relay struct {
	localID identity.NodeID
	crypto  *crypto.Manager
	groups  GroupKeyProvider
	sink    ConversationSink
	control ControlSender
	log     logging.LeveledLogger
}

// New constructs a Relay.
func New(cfg Config) *Relay {
	r := &Relay{
		localID: cfg.LocalID,
		crypto:  cfg.Crypto,
		groups:  cfg.Groups,
		sink:    cfg.Sink,
		control: cfg.Control,
	}
	if cfg.LoggerFactory != nil {
		r.log = cfg.LoggerFactory.NewLogger("relay")
	}
	return r
}

// SetControl wires the ControlSender after construction, breaking the
// Relay/Router construction cycle: the Router needs a LocalDeliverer
// (this Relay) to build, and the Relay needs a ControlSender (that
// same Router) to emit ACKs, so the caller constructs the Relay first
// with Control left nil and fills it in once the Router exists.
// Mirrors the teacher's SetDelegate post-construction wiring
// (pkg/exchange/context.go).
func (r *Relay) SetControl(control ControlSender) {
	r.control = control
}

// DeliverLocal decrypts (if required) and dispatches env to the
// Conversation layer, then emits an ACK if env.RequiresAck. fromPeer is
// the neighbour the envelope most recently arrived from, used only for
// logging.
func (r *Relay) DeliverLocal(env *Envelope, fromPeer identity.NodeID, now time.Time) error {
	plaintext, err := r.decrypt(env)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("relay: dropping undeliverable envelope %s: %v", env.MessageID, err)
		}
		return err
	}

	if r.sink != nil {
		if err := r.sink.Deliver(DeliveredMessage{
			MessageID:     env.MessageID,
			OriginID:      env.OriginID,
			OriginName:    env.OriginName,
			DestinationID: env.DestinationID,
			GroupMessage:  env.GroupMessage,
			Plaintext:     plaintext,
			ReceivedAt:    now,
		}); err != nil {
			return err
		}
	}

	if env.RequiresAck && r.control != nil {
		if err := r.control.SendAck(env.OriginID, env.MessageID); err != nil && r.log != nil {
			r.log.Warnf("relay: failed to emit ack for %s: %v", env.MessageID, err)
		}
	}
	return nil
}

func (r *Relay) decrypt(env *Envelope) ([]byte, error) {
	if !env.IsEncrypted {
		return env.Payload, nil
	}
	if r.crypto == nil {
		return nil, crypto.ErrNoSession
	}
	if env.GroupMessage {
		group, err := DecodeSealedGroupPayload(env.Payload)
		if err != nil {
			return nil, err
		}
		key, ok := r.groupKey(env.DestinationID)
		if !ok {
			return nil, ErrNoSuchConversation
		}
		sealed := &crypto.Sealed{Ciphertext: group.Ciphertext, Nonce: group.Nonce, Tag: group.Tag}
		return r.crypto.DecryptWithGroup(key, sealed)
	}

	sealedRecord, err := DecodeSealedPayload(env.Payload)
	if err != nil {
		return nil, err
	}
	sealed := &crypto.Sealed{Ciphertext: sealedRecord.Ciphertext, Nonce: sealedRecord.Nonce, Tag: sealedRecord.Tag}
	return r.crypto.DecryptFrom(env.OriginID, sealed)
}

func (r *Relay) groupKey(destinationID identity.NodeID) (*crypto.GroupKey, bool) {
	if r.groups == nil {
		return nil, false
	}
	return r.groups.GroupKey(destinationID)
}

// EncodeOutgoing builds the wire payload for a plaintext application
// message addressed to peer, encrypting it via the direct session if a
// session exists. Used by the sending side before handing the result to
// the Router for next-hop selection.
func (r *Relay) EncodeOutgoing(destinationID identity.NodeID, plaintext []byte, requiresAck bool) (*Envelope, error) {
	env := &Envelope{
		MessageID:     identity.NewNodeID(),
		OriginID:      r.localID,
		DestinationID: destinationID,
		RequiresAck:   requiresAck,
		TTL:           0, // set by the Router at send time
	}

	if r.crypto != nil && r.crypto.HasSession(destinationID) {
		sealed, err := r.crypto.EncryptFor(destinationID, plaintext)
		if err != nil {
			return nil, err
		}
		payload, err := EncodeSealedPayload(&SealedPayload{
			Ciphertext: sealed.Ciphertext,
			Nonce:      sealed.Nonce,
			Tag:        sealed.Tag,
		})
		if err != nil {
			return nil, err
		}
		env.IsEncrypted = true
		env.Payload = payload
		return env, nil
	}

	env.Payload = plaintext
	return env, nil
}

// EncodeOutgoingGroup builds the wire payload for a group message sealed
// under the group's shared key.
func (r *Relay) EncodeOutgoingGroup(groupID identity.NodeID, localName string, group *crypto.GroupKey, plaintext []byte, requiresAck bool) (*Envelope, error) {
	if r.crypto == nil {
		return nil, crypto.ErrNoSession
	}
	sealed, err := r.crypto.EncryptWithGroup(group, plaintext)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeSealedGroupPayload(&SealedGroupPayload{
		GroupID:    group.ID,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Tag:        sealed.Tag,
		SenderID:   r.localID,
		SenderName: localName,
	})
	if err != nil {
		return nil, err
	}
	return &Envelope{
		MessageID:     identity.NewNodeID(),
		OriginID:      r.localID,
		OriginName:    localName,
		DestinationID: groupID,
		IsEncrypted:   true,
		RequiresAck:   requiresAck,
		GroupMessage:  true,
		Payload:       payload,
	}, nil
}

// Package conversation implements the C8 receive-side bookkeeping a
// mesh node terminates into: mapping delivered messages to a direct or
// group conversation, deduplicating by MessageID, and tracking
// unread/last-message state per conversation.
package conversation

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/relay"
)

// Kind discriminates a direct peer-to-peer conversation from a group
// one.
type Kind int

const (
	KindDirect Kind = iota
	KindGroup
)

// Message is one delivered, already-decrypted entry in a conversation's
// history.
type Message struct {
	MessageID  identity.NodeID
	OriginID   identity.NodeID
	OriginName string
	Plaintext  []byte
	ReceivedAt time.Time
}

// Conversation is the per-destination bookkeeping record (spec §4.8):
// either a direct session keyed by the peer's NodeID, or a group keyed
// by its GroupID (reinterpreted as a NodeID, the same convertibility
// pkg/relay's SealedGroupPayload relies on).
type Conversation struct {
	ID          identity.NodeID
	Kind        Kind
	PeerName    string
	LastMessage *Message
	UnreadCount int

	seen map[identity.NodeID]struct{}
}

// Config configures a Manager.
type Config struct {
	LocalID       identity.NodeID
	LoggerFactory logging.LoggerFactory
}

// Manager implements relay.ConversationSink, relay.GroupKeyProvider, and
// router.GroupMembership. Grounded on the teacher's general
// table-guarded-by-a-single-mutex shape used throughout pkg/matter and
// pkg/fabric (no close Matter analogue exists for conversation
// bookkeeping itself, since Matter has no notion of a text conversation).
type Manager struct {
	localID identity.NodeID
	log     logging.LeveledLogger

	mu            sync.Mutex
	conversations map[identity.NodeID]*Conversation
	groupKeys     map[identity.NodeID]*crypto.GroupKey
}

// New constructs an empty Manager.
func New(cfg Config) *Manager {
	m := &Manager{
		localID:       cfg.LocalID,
		conversations: make(map[identity.NodeID]*Conversation),
		groupKeys:     make(map[identity.NodeID]*crypto.GroupKey),
	}
	if cfg.LoggerFactory != nil {
		m.log = cfg.LoggerFactory.NewLogger("conversation")
	}
	return m
}

// Deliver implements relay.ConversationSink: records a decrypted message
// against its conversation, creating the conversation on first contact,
// deduplicating by MessageID, and bumping the unread count for any
// message that was not already recorded.
func (m *Manager) Deliver(msg relay.DeliveredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversations[msg.DestinationID]
	if conv == nil {
		kind := KindDirect
		if msg.GroupMessage {
			kind = KindGroup
		}
		conv = &Conversation{
			ID:   msg.DestinationID,
			Kind: kind,
			seen: make(map[identity.NodeID]struct{}),
		}
		m.conversations[msg.DestinationID] = conv
	}

	if _, dup := conv.seen[msg.MessageID]; dup {
		return nil
	}
	conv.seen[msg.MessageID] = struct{}{}

	entry := &Message{
		MessageID:  msg.MessageID,
		OriginID:   msg.OriginID,
		OriginName: msg.OriginName,
		Plaintext:  msg.Plaintext,
		ReceivedAt: msg.ReceivedAt,
	}
	conv.LastMessage = entry
	conv.UnreadCount++

	if conv.Kind == KindDirect && conv.PeerName == "" {
		conv.PeerName = msg.OriginName
	}

	if m.log != nil {
		m.log.Debugf("conversation: delivered %s into %s (unread=%d)", msg.MessageID, msg.DestinationID, conv.UnreadCount)
	}
	return nil
}

// GroupKey implements relay.GroupKeyProvider: resolves the symmetric key
// for a group destination the local node is a member of.
func (m *Manager) GroupKey(destinationID identity.NodeID) (*crypto.GroupKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.groupKeys[destinationID]
	return key, ok
}

// IsMember implements router.GroupMembership.
func (m *Manager) IsMember(destination identity.NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.groupKeys[destination]
	return ok
}

// CreateGroup generates a fresh GroupKey, registers the local node as a
// member, and creates the associated conversation. The caller is
// responsible for sealing and distributing the key to invited members
// via GKD (spec §9 Open Question 2); this method only owns local state.
func (m *Manager) CreateGroup(name string) (*crypto.GroupKey, error) {
	key, err := crypto.GenerateGroupKey()
	if err != nil {
		return nil, err
	}
	if err := m.JoinGroup(key, name); err != nil {
		return nil, err
	}
	return key, nil
}

// JoinGroup registers local membership in a group whose key was received
// out of band (directly, or via a GKD control message), creating its
// conversation entry if one does not exist yet.
func (m *Manager) JoinGroup(key *crypto.GroupKey, name string) error {
	groupID := identity.NodeID(key.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, already := m.groupKeys[groupID]; already {
		return ErrAlreadyMember
	}
	m.groupKeys[groupID] = key
	if _, exists := m.conversations[groupID]; !exists {
		m.conversations[groupID] = &Conversation{
			ID:       groupID,
			Kind:     KindGroup,
			PeerName: name,
			seen:     make(map[identity.NodeID]struct{}),
		}
	}
	return nil
}

// LeaveGroup drops local membership and key material for a group. The
// conversation's message history is retained for local reference.
func (m *Manager) LeaveGroup(groupID identity.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groupKeys[groupID]; !ok {
		return ErrNotGroupMember
	}
	delete(m.groupKeys, groupID)
	return nil
}

// StartDirect ensures a direct conversation entry exists for peer,
// without waiting for an inbound message to create it (e.g. when the
// local user initiates the chat).
func (m *Manager) StartDirect(peer identity.NodeID, peerName string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[peer]
	if !ok {
		conv = &Conversation{ID: peer, Kind: KindDirect, PeerName: peerName, seen: make(map[identity.NodeID]struct{})}
		m.conversations[peer] = conv
	}
	return conv
}

// MarkRead zeroes the unread count for a conversation.
func (m *Manager) MarkRead(conversationID identity.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrUnknownConversation
	}
	conv.UnreadCount = 0
	return nil
}

// Conversation returns the conversation record for id, if any.
func (m *Manager) Conversation(id identity.NodeID) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

// List returns every known conversation in unspecified order.
func (m *Manager) List() []*Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		out = append(out, conv)
	}
	return out
}

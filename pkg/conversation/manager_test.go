package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/relay"
)

func TestDeliverCreatesDirectConversationAndTracksUnread(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	peer := identity.NewNodeID()

	err := m.Deliver(relay.DeliveredMessage{
		MessageID:     identity.NewNodeID(),
		OriginID:      peer,
		OriginName:    "bob",
		DestinationID: peer,
		Plaintext:     []byte("hi"),
		ReceivedAt:    time.Now(),
	})
	require.NoError(t, err)

	conv, ok := m.Conversation(peer)
	require.True(t, ok)
	require.Equal(t, KindDirect, conv.Kind)
	require.Equal(t, "bob", conv.PeerName)
	require.Equal(t, 1, conv.UnreadCount)
	require.Equal(t, []byte("hi"), conv.LastMessage.Plaintext)
}

func TestDeliverDeduplicatesByMessageID(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	peer := identity.NewNodeID()
	msgID := identity.NewNodeID()

	for i := 0; i < 2; i++ {
		err := m.Deliver(relay.DeliveredMessage{
			MessageID:     msgID,
			OriginID:      peer,
			OriginName:    "bob",
			DestinationID: peer,
			Plaintext:     []byte("hi"),
			ReceivedAt:    time.Now(),
		})
		require.NoError(t, err)
	}

	conv, ok := m.Conversation(peer)
	require.True(t, ok)
	require.Equal(t, 1, conv.UnreadCount)
}

func TestMarkReadResetsUnreadCount(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	peer := identity.NewNodeID()
	require.NoError(t, m.Deliver(relay.DeliveredMessage{
		MessageID: identity.NewNodeID(), OriginID: peer, DestinationID: peer, ReceivedAt: time.Now(),
	}))

	require.NoError(t, m.MarkRead(peer))

	conv, ok := m.Conversation(peer)
	require.True(t, ok)
	require.Equal(t, 0, conv.UnreadCount)
}

func TestMarkReadUnknownConversationReturnsError(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	err := m.MarkRead(identity.NewNodeID())
	require.ErrorIs(t, err, ErrUnknownConversation)
}

func TestCreateGroupRegistersMembershipAndKey(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})

	key, err := m.CreateGroup("friends")
	require.NoError(t, err)
	require.NotNil(t, key)

	groupID := identity.NodeID(key.ID)
	require.True(t, m.IsMember(groupID))

	resolved, ok := m.GroupKey(groupID)
	require.True(t, ok)
	require.Equal(t, key, resolved)

	conv, ok := m.Conversation(groupID)
	require.True(t, ok)
	require.Equal(t, KindGroup, conv.Kind)
	require.Equal(t, "friends", conv.PeerName)
}

func TestJoinGroupTwiceReturnsAlreadyMember(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	key, err := m.CreateGroup("friends")
	require.NoError(t, err)

	err = m.JoinGroup(key, "friends")
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestLeaveGroupDropsMembership(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	key, err := m.CreateGroup("friends")
	require.NoError(t, err)
	groupID := identity.NodeID(key.ID)

	require.NoError(t, m.LeaveGroup(groupID))
	require.False(t, m.IsMember(groupID))

	_, ok := m.GroupKey(groupID)
	require.False(t, ok)
}

func TestLeaveGroupNotMemberReturnsError(t *testing.T) {
	m := New(Config{LocalID: identity.NewNodeID()})
	err := m.LeaveGroup(identity.NewNodeID())
	require.ErrorIs(t, err, ErrNotGroupMember)
}

// Literal scenario 6: a group message delivered once per member; a
// fourth node with no GroupKeyProvider entry simply cannot decrypt
// upstream in pkg/relay, so conversation bookkeeping never sees it.
// This test covers the half owned by this package: two distinct members
// each get their own independent unread count for the same MessageID.
func TestGroupDeliveryIsPerMemberIndependent(t *testing.T) {
	origin := identity.NewNodeID()
	msgID := identity.NewNodeID()

	b := New(Config{LocalID: identity.NewNodeID()})
	c := New(Config{LocalID: identity.NewNodeID()})
	keyB, err := b.CreateGroup("team")
	require.NoError(t, err)
	require.NoError(t, c.JoinGroup(keyB, "team"))
	groupID := identity.NodeID(keyB.ID)

	for _, m := range []*Manager{b, c} {
		require.NoError(t, m.Deliver(relay.DeliveredMessage{
			MessageID:     msgID,
			OriginID:      origin,
			OriginName:    "alice",
			DestinationID: groupID,
			GroupMessage:  true,
			Plaintext:     []byte("standup at 9"),
			ReceivedAt:    time.Now(),
		}))
	}

	convB, _ := b.Conversation(groupID)
	convC, _ := c.Conversation(groupID)
	require.Equal(t, 1, convB.UnreadCount)
	require.Equal(t, 1, convC.UnreadCount)
}

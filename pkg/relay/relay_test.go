package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/meshcore/pkg/crypto"
	"github.com/driftmesh/meshcore/pkg/identity"
)

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	env := &Envelope{
		MessageID:     identity.NewNodeID(),
		OriginID:      identity.NewNodeID(),
		OriginName:    "alice",
		DestinationID: identity.NewNodeID(),
		IsEncrypted:   true,
		RequiresAck:   true,
		TTL:           3,
		Payload:       []byte("sealed-bytes"),
		GroupMessage:  false,
	}
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env, decoded)
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte("hello")
	framed := EncodeFrame(FrameKindEnvelope, body)
	kind, decoded, err := DecodeFrame(framed)
	require.NoError(t, err)
	require.Equal(t, FrameKindEnvelope, kind)
	require.Equal(t, body, decoded)
}

func TestDecodeFrameRejectsUnknownKind(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0x7F, 1, 2, 3})
	require.ErrorIs(t, err, ErrUnknownFrameKind)
}

func TestDecodeFrameRejectsEmpty(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	require.ErrorIs(t, err, ErrTruncatedFrame)
}

type fakeSink struct {
	delivered []DeliveredMessage
}

func (s *fakeSink) Deliver(msg DeliveredMessage) error {
	s.delivered = append(s.delivered, msg)
	return nil
}

type fakeControl struct {
	acks []identity.NodeID
}

func (c *fakeControl) SendAck(destination, messageID identity.NodeID) error {
	c.acks = append(c.acks, messageID)
	return nil
}

func TestDeliverLocalDirectMessageDecryptsAndAcks(t *testing.T) {
	alice := mustIdentity(t)
	bob := mustIdentity(t)

	aliceCrypto := crypto.NewManager(alice)
	bobCrypto := crypto.NewManager(bob)
	require.NoError(t, aliceCrypto.StorePeerAgreementKey(bob.NodeID(), bob.AgreementPublicKey()))
	require.NoError(t, bobCrypto.StorePeerAgreementKey(alice.NodeID(), alice.AgreementPublicKey()))

	aliceRelay := New(Config{LocalID: alice.NodeID(), Crypto: aliceCrypto})
	env, err := aliceRelay.EncodeOutgoing(bob.NodeID(), []byte("hi bob"), true)
	require.NoError(t, err)
	env.TTL = 3

	sink := &fakeSink{}
	control := &fakeControl{}
	bobRelay := New(Config{LocalID: bob.NodeID(), Crypto: bobCrypto, Sink: sink, Control: control})

	require.NoError(t, bobRelay.DeliverLocal(env, alice.NodeID(), time.Now()))
	require.Len(t, sink.delivered, 1)
	require.Equal(t, []byte("hi bob"), sink.delivered[0].Plaintext)
	require.Len(t, control.acks, 1)
	require.Equal(t, env.MessageID, control.acks[0])
}

type fakeGroupKeys struct {
	key *crypto.GroupKey
}

func (g *fakeGroupKeys) GroupKey(destinationID identity.NodeID) (*crypto.GroupKey, bool) {
	if g.key == nil || identity.NodeID(g.key.ID) != destinationID {
		return nil, false
	}
	return g.key, true
}

func TestDeliverLocalGroupMessageDecryptsWithGroupKey(t *testing.T) {
	alice := mustIdentity(t)
	group, err := crypto.GenerateGroupKey()
	require.NoError(t, err)
	groupDest := identity.NodeID(group.ID)

	aliceCrypto := crypto.NewManager(alice)
	aliceRelay := New(Config{LocalID: alice.NodeID(), Crypto: aliceCrypto})
	env, err := aliceRelay.EncodeOutgoingGroup(groupDest, "alice", group, []byte("to the group"), false)
	require.NoError(t, err)

	bob := mustIdentity(t)
	bobCrypto := crypto.NewManager(bob)
	sink := &fakeSink{}
	bobRelay := New(Config{
		LocalID: bob.NodeID(),
		Crypto:  bobCrypto,
		Groups:  &fakeGroupKeys{key: group},
		Sink:    sink,
	})

	require.NoError(t, bobRelay.DeliverLocal(env, alice.NodeID(), time.Now()))
	require.Len(t, sink.delivered, 1)
	require.Equal(t, []byte("to the group"), sink.delivered[0].Plaintext)
	require.True(t, sink.delivered[0].GroupMessage)
}

func TestDeliverLocalUnknownGroupKeyFails(t *testing.T) {
	alice := mustIdentity(t)
	group, err := crypto.GenerateGroupKey()
	require.NoError(t, err)
	groupDest := identity.NodeID(group.ID)

	aliceCrypto := crypto.NewManager(alice)
	aliceRelay := New(Config{LocalID: alice.NodeID(), Crypto: aliceCrypto})
	env, err := aliceRelay.EncodeOutgoingGroup(groupDest, "alice", group, []byte("secret"), false)
	require.NoError(t, err)

	outsider := mustIdentity(t)
	outsiderRelay := New(Config{LocalID: outsider.NodeID(), Crypto: crypto.NewManager(outsider), Groups: &fakeGroupKeys{}})
	err = outsiderRelay.DeliverLocal(env, alice.NodeID(), time.Now())
	require.ErrorIs(t, err, ErrNoSuchConversation)
}

func TestSealedPayloadRoundTrip(t *testing.T) {
	p := &SealedPayload{
		Ciphertext:            []byte("ct"),
		Nonce:                 []byte("nonce1234567"),
		Tag:                   []byte("tagtagtagtagtagt"),
		SenderAgreementPublic: []byte("pubkeybytes"),
	}
	data, err := EncodeSealedPayload(p)
	require.NoError(t, err)
	decoded, err := DecodeSealedPayload(data)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestSeenMessageCacheSuppressesDuplicates(t *testing.T) {
	cache := NewSeenMessageCache(5 * time.Minute)
	now := time.Now()
	msgID := identity.NewNodeID()
	originID := identity.NewNodeID()

	require.False(t, cache.CheckAndRecord(msgID, originID, now))
	require.True(t, cache.CheckAndRecord(msgID, originID, now.Add(time.Second)))
	require.True(t, cache.CheckAndRecord(msgID, originID, now.Add(4*time.Minute)))
}

func TestSeenMessageCacheExpiresEntries(t *testing.T) {
	cache := NewSeenMessageCache(time.Minute)
	now := time.Now()
	msgID := identity.NewNodeID()
	originID := identity.NewNodeID()

	require.False(t, cache.CheckAndRecord(msgID, originID, now))
	require.Equal(t, 1, cache.Len())
	require.Equal(t, 1, cache.GC(now.Add(2*time.Minute)))
	require.Equal(t, 0, cache.Len())
}

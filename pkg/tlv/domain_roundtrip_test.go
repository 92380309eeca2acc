package tlv_test

// Round-trips this repository's own wire records through the tlv
// codec, as an external test package so it can exercise the consumers
// (pkg/relay, pkg/router) without creating an import cycle back into
// pkg/tlv itself.

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/meshcore/pkg/identity"
	"github.com/driftmesh/meshcore/pkg/relay"
	"github.com/driftmesh/meshcore/pkg/router"
)

func TestGroupEnvelopeRoundTripsThroughTLV(t *testing.T) {
	env := &relay.Envelope{
		MessageID:     identity.NewNodeID(),
		OriginID:      identity.NewNodeID(),
		OriginName:    "bob",
		DestinationID: identity.NewNodeID(),
		IsEncrypted:   true,
		RequiresAck:   false,
		TTL:           5,
		Payload:       []byte("sealed-group-bytes"),
		GroupMessage:  true,
	}

	data, err := relay.EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := relay.DecodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env, decoded)
}

func TestRouteRequestRoundTripsThroughTLV(t *testing.T) {
	req := &router.RouteRequest{
		RequestID:     identity.NewNodeID(),
		OriginID:      identity.NewNodeID(),
		OriginName:    "alice",
		DestinationID: identity.NewNodeID(),
		HopCount:      2,
		TTL:           6,
		HopPath:       []identity.NodeID{identity.NewNodeID(), identity.NewNodeID()},
	}

	data, err := router.EncodeRouteRequest(req)
	require.NoError(t, err)

	decoded, err := router.DecodeRouteRequest(data)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestRouteReplyRoundTripsThroughTLV(t *testing.T) {
	rep := &router.RouteReply{
		RequestID:     identity.NewNodeID(),
		OriginID:      identity.NewNodeID(),
		DestinationID: identity.NewNodeID(),
		HopCount:      3,
		ForwardPath:   []identity.NodeID{identity.NewNodeID(), identity.NewNodeID(), identity.NewNodeID()},
	}

	data, err := router.EncodeRouteReply(rep)
	require.NoError(t, err)

	decoded, err := router.DecodeRouteReply(data)
	require.NoError(t, err)
	require.Equal(t, rep, decoded)
}

func TestRouteErrorRoundTripsThroughTLV(t *testing.T) {
	rerr := &router.RouteError{
		UnreachableID: identity.NewNodeID(),
		AffectedDests: []identity.NodeID{identity.NewNodeID(), identity.NewNodeID()},
	}

	data, err := router.EncodeRouteError(rerr)
	require.NoError(t, err)

	decoded, err := router.DecodeRouteError(data)
	require.NoError(t, err)
	require.Equal(t, rerr, decoded)
}

func TestAnnounceRoundTripsThroughTLV(t *testing.T) {
	ann := &router.Announce{
		OriginID:   identity.NewNodeID(),
		OriginName: "carol",
		HopCount:   1,
	}

	data, err := router.EncodeAnnounce(ann)
	require.NoError(t, err)

	decoded, err := router.DecodeAnnounce(data)
	require.NoError(t, err)
	require.Equal(t, ann, decoded)
}

func TestControlMessageWrapsArbitraryPayload(t *testing.T) {
	inner := &router.Announce{
		OriginID:   identity.NewNodeID(),
		OriginName: "dave",
		HopCount:   0,
	}
	innerBytes, err := router.EncodeAnnounce(inner)
	require.NoError(t, err)

	msg := &router.ControlMessage{Type: router.ControlAnnounce, Payload: innerBytes}
	data, err := router.EncodeControlMessage(msg)
	require.NoError(t, err)

	decoded, err := router.DecodeControlMessage(data)
	require.NoError(t, err)
	require.Equal(t, msg.Type, decoded.Type)

	innerDecoded, err := router.DecodeAnnounce(decoded.Payload)
	require.NoError(t, err)
	require.Equal(t, inner, innerDecoded)
}

func TestDecodeRouteRequestRejectsMalformedData(t *testing.T) {
	_, err := router.DecodeRouteRequest([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

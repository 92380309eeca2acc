package chunking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/meshcore/pkg/identity"
)

func TestNewFragmenterRejectsMtuSmallerThanHeader(t *testing.T) {
	_, err := NewFragmenter(HeaderSize-1, HeaderSize)
	require.ErrorIs(t, err, ErrMtuTooSmall)
}

func TestChunksForRoundTrip(t *testing.T) {
	f, err := NewFragmenter(182, HeaderSize)
	require.NoError(t, err)

	msgID := identity.NewNodeID()
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}

	chunks := f.ChunksFor(msgID, payload, true)
	require.True(t, chunks[0].HasFlag(FlagFirstChunk))
	require.False(t, chunks[0].HasFlag(FlagLastChunk))
	require.True(t, chunks[len(chunks)-1].HasFlag(FlagLastChunk))

	r := NewReassembler(0)
	now := time.Unix(1_700_000_000, 0)
	var got []byte
	for _, c := range chunks {
		wire := c.Encode()
		decoded, err := DecodeChunk(wire)
		require.NoError(t, err)

		out, done, err := r.Offer(decoded, now)
		require.NoError(t, err)
		if done {
			got = out
		}
	}
	require.Equal(t, payload, got)
	require.Equal(t, 0, r.Pending())
}

// Literal scenario 4: a 1000-byte payload with MTU 182 and a 20-byte
// header splits into exactly 7 chunks of 162-byte max payload.
func TestChunksForScenario4SevenChunks(t *testing.T) {
	f, err := NewFragmenter(182, HeaderSize)
	require.NoError(t, err)
	require.Equal(t, 162, f.MaxPayload())

	payload := make([]byte, 1000)
	chunks := f.ChunksFor(identity.NewNodeID(), payload, false)
	require.Len(t, chunks, 7)

	for i, c := range chunks {
		require.Equal(t, uint8(7), c.TotalChunks)
		require.Equal(t, uint16(i), c.ChunkIndex)
		if i < 6 {
			require.Len(t, c.Payload, 162)
		}
	}
	require.Len(t, chunks[6].Payload, 1000-6*162)
}

func TestOfferRejectsConflictingTotalChunks(t *testing.T) {
	r := NewReassembler(0)
	msgID := identity.NewNodeID()
	now := time.Unix(1_700_000_000, 0)

	first := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 0, TotalChunks: 3, Flags: FlagFirstChunk}, Payload: []byte("a")}
	_, done, err := r.Offer(first, now)
	require.NoError(t, err)
	require.False(t, done)

	conflicting := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 1, TotalChunks: 5}, Payload: []byte("b")}
	_, _, err = r.Offer(conflicting, now)
	require.ErrorIs(t, err, ErrReassemblyMismatch)

	require.Equal(t, 1, r.Pending())
}

// TestOfferRejectsChunkIndexAtOrAboveTotal guards against a malformed
// peer claiming an index outside [0, TotalChunks): without this check
// the entry could "complete" with a gap, silently emitting a payload
// with an empty slot where the out-of-range chunk's real data belongs.
func TestOfferRejectsChunkIndexAtOrAboveTotal(t *testing.T) {
	r := NewReassembler(0)
	msgID := identity.NewNodeID()
	now := time.Unix(1_700_000_000, 0)

	first := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 0, TotalChunks: 3, Flags: FlagFirstChunk}, Payload: []byte("a")}
	_, done, err := r.Offer(first, now)
	require.NoError(t, err)
	require.False(t, done)

	outOfRange := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 5, TotalChunks: 3}, Payload: []byte("bogus")}
	_, done, err = r.Offer(outOfRange, now)
	require.ErrorIs(t, err, ErrReassemblyMismatch)
	require.False(t, done)
}

func TestOfferKeepsFirstOnDuplicateIndex(t *testing.T) {
	r := NewReassembler(0)
	msgID := identity.NewNodeID()
	now := time.Unix(1_700_000_000, 0)

	a := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 0, TotalChunks: 2, Flags: FlagFirstChunk}, Payload: []byte("first")}
	b := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 0, TotalChunks: 2, Flags: FlagFirstChunk}, Payload: []byte("dupe!")}
	last := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 1, TotalChunks: 2, Flags: FlagLastChunk}, Payload: []byte("tail")}

	_, _, err := r.Offer(a, now)
	require.NoError(t, err)
	_, _, err = r.Offer(b, now)
	require.NoError(t, err)

	out, done, err := r.Offer(last, now)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte("firsttail"), out)
}

func TestGCDropsExpiredEntries(t *testing.T) {
	r := NewReassembler(10 * time.Second)
	msgID := identity.NewNodeID()
	start := time.Unix(1_700_000_000, 0)

	partial := &Chunk{ChunkHeader: ChunkHeader{MessageID: msgID, ChunkIndex: 0, TotalChunks: 2}, Payload: []byte("a")}
	_, _, err := r.Offer(partial, start)
	require.NoError(t, err)
	require.Equal(t, 1, r.Pending())

	dropped := r.GC(start.Add(5 * time.Second))
	require.Equal(t, 0, dropped)
	require.Equal(t, 1, r.Pending())

	dropped = r.GC(start.Add(11 * time.Second))
	require.Equal(t, 1, dropped)
	require.Equal(t, 0, r.Pending())
}

func TestChunkHeaderWireRoundTrip(t *testing.T) {
	h := ChunkHeader{MessageID: identity.NewNodeID(), ChunkIndex: 3, TotalChunks: 9, Flags: FlagRequiresAck}
	encoded := h.Encode()
	require.Len(t, encoded, HeaderSize)

	decoded, n, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	_, _, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrShortHeader)
}

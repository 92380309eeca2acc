package chunking

import "fmt"

// Fragmenter splits serialised envelope bytes into transport-sized
// Chunks (spec §4.4 `chunks_for`).
type Fragmenter struct {
	mtu        int
	headerSize int
}

// NewFragmenter constructs a Fragmenter for the given transport MTU and
// chunk header size. Returns ErrMtuTooSmall if the header alone would
// not fit (a fatal configuration error per spec §7).
func NewFragmenter(mtu, headerSize int) (*Fragmenter, error) {
	if mtu <= headerSize {
		return nil, ErrMtuTooSmall
	}
	return &Fragmenter{mtu: mtu, headerSize: headerSize}, nil
}

// MaxPayload returns the maximum chunk payload size in bytes.
func (f *Fragmenter) MaxPayload() int {
	return f.mtu - f.headerSize
}

// ChunksFor splits envelopeBytes into an ordered sequence of Chunks for
// messageID. requiresAck is stamped onto every chunk so duplicate-free
// ACK accounting downstream does not need to re-derive it from the
// envelope.
func (f *Fragmenter) ChunksFor(messageID MessageID, envelopeBytes []byte, requiresAck bool) []*Chunk {
	maxPayload := f.MaxPayload()
	total := (len(envelopeBytes) + maxPayload - 1) / maxPayload
	if total == 0 {
		total = 1 // empty envelope still gets a single (empty) chunk
	}
	if total > 255 {
		// TotalChunks is a single byte on the wire (spec §6); callers
		// are expected to keep envelopes within this bound.
		total = 255
	}

	chunks := make([]*Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(envelopeBytes) {
			end = len(envelopeBytes)
		}

		var flags uint8
		if i == 0 {
			flags |= FlagFirstChunk
		}
		if i == total-1 {
			flags |= FlagLastChunk
		}
		if requiresAck {
			flags |= FlagRequiresAck
		}

		chunks = append(chunks, &Chunk{
			ChunkHeader: ChunkHeader{
				MessageID:   messageID,
				ChunkIndex:  uint16(i),
				TotalChunks: uint8(total),
				Flags:       flags,
			},
			Payload: append([]byte(nil), envelopeBytes[start:end]...),
		})
	}
	return chunks
}

// String is a debug helper describing a chunk header compactly.
func (h ChunkHeader) String() string {
	return fmt.Sprintf("chunk(msg=%s idx=%d/%d flags=%#02x)", h.MessageID, h.ChunkIndex, h.TotalChunks, h.Flags)
}

// Package chunking implements the C4 Chunker: splitting a serialised
// envelope into transport-sized frames and reassembling them on the
// receive side, per spec §4.4 and the wire format in spec §6.
package chunking

import (
	"encoding/binary"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// Chunk flag bits (spec §6).
const (
	FlagFirstChunk  uint8 = 0x01
	FlagLastChunk   uint8 = 0x02
	FlagRequiresAck uint8 = 0x04
	FlagRelayed     uint8 = 0x08
	FlagEncrypted   uint8 = 0x10
)

// HeaderSize is the fixed wire size of a ChunkHeader in bytes.
const HeaderSize = 20

// ChunkHeader is the fixed 20-byte header prefixing every chunk on the
// wire: MessageID (16 bytes) || ChunkIndex (u16 LE) || TotalChunks (u8)
// || Flags (u8). This mirrors the teacher's pkg/message/header.go idiom
// of a fixed-size binary header encoded with encoding/binary, not a
// structured codec — the same way the teacher reserves encoding/binary
// for its one truly fixed-layout header and pkg/tlv for everything
// variable-length.
type ChunkHeader struct {
	MessageID   MessageID
	ChunkIndex  uint16
	TotalChunks uint8
	Flags       uint8
}

// MessageID identifies the envelope a chunk belongs to. It reuses the
// 128-bit NodeID shape purely for its size and formatting; a MessageID
// is unrelated to any particular node.
type MessageID = identity.NodeID

// Size returns the encoded size of the header; always HeaderSize.
func (h *ChunkHeader) Size() int { return HeaderSize }

// EncodeTo serialises the header into buf, which must be at least
// HeaderSize bytes. Returns the number of bytes written.
func (h *ChunkHeader) EncodeTo(buf []byte) int {
	copy(buf[0:16], h.MessageID[:])
	binary.LittleEndian.PutUint16(buf[16:18], h.ChunkIndex)
	buf[18] = h.TotalChunks
	buf[19] = h.Flags
	return HeaderSize
}

// Encode serialises the header into a freshly allocated slice.
func (h *ChunkHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

// DecodeHeader parses a ChunkHeader from the front of data. Returns the
// number of bytes consumed (always HeaderSize on success).
func DecodeHeader(data []byte) (ChunkHeader, int, error) {
	var h ChunkHeader
	if len(data) < HeaderSize {
		return h, 0, ErrShortHeader
	}
	copy(h.MessageID[:], data[0:16])
	h.ChunkIndex = binary.LittleEndian.Uint16(data[16:18])
	h.TotalChunks = data[18]
	h.Flags = data[19]
	return h, HeaderSize, nil
}

func (h *ChunkHeader) HasFlag(flag uint8) bool { return h.Flags&flag != 0 }

// Chunk is a transport-sized fragment of a serialised envelope.
type Chunk struct {
	ChunkHeader
	Payload []byte
}

// Encode serialises the full chunk (header + payload) for transmission.
func (c *Chunk) Encode() []byte {
	buf := make([]byte, HeaderSize+len(c.Payload))
	c.EncodeTo(buf)
	copy(buf[HeaderSize:], c.Payload)
	return buf
}

// DecodeChunk parses a full chunk (header + payload) from data.
func DecodeChunk(data []byte) (*Chunk, error) {
	header, n, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), data[n:]...)
	return &Chunk{ChunkHeader: header, Payload: payload}, nil
}

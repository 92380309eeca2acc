package relay

import "errors"

// Package-level sentinel errors for the C7 Relay/Envelope component.
var (
	// ErrUnknownFrameKind is returned when a frame's leading discriminator
	// byte does not match a known FrameKind.
	ErrUnknownFrameKind = errors.New("relay: unknown frame kind")

	// ErrTruncatedFrame is returned when a frame is shorter than its
	// required discriminator byte.
	ErrTruncatedFrame = errors.New("relay: truncated frame")

	// ErrMalformedEnvelope is returned when envelope TLV decoding fails
	// structurally (missing required field, wrong type).
	ErrMalformedEnvelope = errors.New("relay: malformed envelope")

	// ErrEnvelopeTooLarge caps a decoded envelope's payload to guard
	// against a malicious or corrupt TotalChunks/length claim.
	ErrEnvelopeTooLarge = errors.New("relay: envelope payload exceeds maximum size")

	// ErrNoSuchConversation is returned by local delivery when the
	// destination does not correspond to any known conversation context.
	ErrNoSuchConversation = errors.New("relay: no such conversation")
)

// maxEnvelopePayload bounds decoded envelope payloads. Chosen generously
// above any realistic chunked message while still rejecting a corrupt
// length field from exhausting memory.
const maxEnvelopePayload = 16 * 1024 * 1024

package chunking

import "errors"

var (
	// ErrMtuTooSmall is a fatal configuration error: the chunk header
	// alone does not fit inside the configured MTU.
	ErrMtuTooSmall = errors.New("chunking: chunk header exceeds MTU")

	// ErrReassemblyMismatch is returned (and the offending chunk
	// discarded) when a chunk claims a TotalChunks different from the
	// value already recorded for its MessageID.
	ErrReassemblyMismatch = errors.New("chunking: conflicting total chunk count")

	// ErrShortHeader is returned when decoding a byte slice shorter than
	// HeaderSize.
	ErrShortHeader = errors.New("chunking: chunk header too short")
)

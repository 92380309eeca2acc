package chunking

import (
	"sync"
	"time"
)

// DefaultReassemblyExpiry is the default time a partial reassembly entry
// is kept before being garbage collected (spec §6 config defaults).
const DefaultReassemblyExpiry = 300 * time.Second

// reassemblyEntry tracks the partial state of one in-flight message
// (spec §3 ReassemblyEntry): a sparse index->payload map, the expected
// chunk count, and when the first chunk for this message arrived.
type reassemblyEntry struct {
	total     uint8
	parts     map[uint16][]byte
	firstSeen time.Time
}

func (e *reassemblyEntry) complete() bool {
	return len(e.parts) == int(e.total)
}

func (e *reassemblyEntry) assemble() []byte {
	out := make([]byte, 0, len(e.parts))
	for i := uint16(0); i < uint16(e.total); i++ {
		out = append(out, e.parts[i]...)
	}
	return out
}

// Reassembler implements the receive side of C4: accumulating chunks
// per MessageID and releasing the reassembled payload once every index
// has arrived.
type Reassembler struct {
	expiry time.Duration

	mu      sync.Mutex
	entries map[MessageID]*reassemblyEntry
}

// NewReassembler constructs a Reassembler with the given entry expiry.
// A zero expiry falls back to DefaultReassemblyExpiry.
func NewReassembler(expiry time.Duration) *Reassembler {
	if expiry <= 0 {
		expiry = DefaultReassemblyExpiry
	}
	return &Reassembler{
		expiry:  expiry,
		entries: make(map[MessageID]*reassemblyEntry),
	}
}

// Offer feeds one received chunk into the reassembler. It returns the
// full reassembled payload (and true) once the last missing index for
// its MessageID arrives; otherwise it returns (nil, false).
//
// A chunk whose TotalChunks disagrees with the value already recorded
// for its MessageID is rejected with ErrReassemblyMismatch and does not
// disturb the existing entry. A duplicate chunk index is ignored,
// keeping whichever payload arrived first for that index.
func (r *Reassembler) Offer(chunk *Chunk, now time.Time) ([]byte, bool, error) {
	if chunk.TotalChunks == 0 {
		return nil, false, ErrReassemblyMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[chunk.MessageID]
	if entry == nil {
		entry = &reassemblyEntry{
			total:     chunk.TotalChunks,
			parts:     make(map[uint16][]byte),
			firstSeen: now,
		}
		r.entries[chunk.MessageID] = entry
	} else if entry.total != chunk.TotalChunks {
		return nil, false, ErrReassemblyMismatch
	}

	if chunk.ChunkIndex >= uint16(chunk.TotalChunks) {
		return nil, false, ErrReassemblyMismatch
	}

	if _, exists := entry.parts[chunk.ChunkIndex]; !exists {
		entry.parts[chunk.ChunkIndex] = chunk.Payload
	}

	if !entry.complete() {
		return nil, false, nil
	}

	delete(r.entries, chunk.MessageID)
	return entry.assemble(), true, nil
}

// GC removes reassembly entries whose first chunk arrived more than the
// configured expiry before now, returning the number of entries
// dropped. Called periodically by the owning node.
func (r *Reassembler) GC(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, entry := range r.entries {
		if now.Sub(entry.firstSeen) > r.expiry {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Pending reports the number of messages currently mid-reassembly, for
// diagnostics and tests.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

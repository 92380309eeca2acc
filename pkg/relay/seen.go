package relay

import (
	"sync"
	"time"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// DefaultSeenExpiry is the window (spec §3, §4.5) after which a
// suppressed duplicate is forgotten and would be accepted again.
const DefaultSeenExpiry = 300 * time.Second

type seenKey struct {
	messageID identity.NodeID
	originID  identity.NodeID
}

// SeenMessageCache suppresses duplicate delivery of the same
// (MessageID, OriginID) pair seen during flooding (spec §4.5
// "Duplicate suppression"). The Router owns a single instance and
// checks RREQs, ANNOUNCEs and data envelopes against it; Relay does
// not use it.
type SeenMessageCache struct {
	expiry time.Duration

	mu      sync.Mutex
	entries map[seenKey]time.Time
}

// NewSeenMessageCache constructs a cache with the given expiry. A zero
// expiry falls back to DefaultSeenExpiry.
func NewSeenMessageCache(expiry time.Duration) *SeenMessageCache {
	if expiry <= 0 {
		expiry = DefaultSeenExpiry
	}
	return &SeenMessageCache{
		expiry:  expiry,
		entries: make(map[seenKey]time.Time),
	}
}

// CheckAndRecord reports whether (messageID, originID) was already seen
// within the expiry window. If not, it records the pair as seen now and
// returns false; later calls within the window return true without
// mutating state further.
func (c *SeenMessageCache) CheckAndRecord(messageID, originID identity.NodeID, now time.Time) bool {
	key := seenKey{messageID: messageID, originID: originID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seenAt, ok := c.entries[key]; ok && now.Sub(seenAt) < c.expiry {
		return true
	}
	c.entries[key] = now
	return false
}

// GC drops entries older than the expiry window.
func (c *SeenMessageCache) GC(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) >= c.expiry {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked entries, for diagnostics and tests.
func (c *SeenMessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

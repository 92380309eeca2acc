package reliability

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// RetransmitFunc re-emits a tracked envelope to the Router for another
// send attempt.
type RetransmitFunc func(messageID, destination identity.NodeID, envelopeBytes []byte) error

// Tracker implements the C6 Reliability component: a mutex-guarded
// table of TrackedMessage entries plus the two periodic sweeps spec
// §4.6 describes, grounded on the teacher's pkg/exchange/retransmit.go
// RetransmitTable (same map-under-mutex shape), but driven by periodic
// ticks rather than a per-entry time.AfterFunc, matching the spec's own
// "periodic tick" framing rather than the teacher's per-message timer.
type Tracker struct {
	params  Params
	backoff *BackoffCalculator
	retx    RetransmitFunc
	log     logging.LeveledLogger

	mu      sync.Mutex
	entries map[identity.NodeID]*TrackedMessage

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Tracker.
type Config struct {
	Params        Params
	Retransmit    RetransmitFunc
	Random        RandomSource
	LoggerFactory logging.LoggerFactory
}

// NewTracker constructs a Tracker. Retransmit is called on every retry
// to hand the envelope back to the Router; when it is nil, a retry only
// advances the entry's retry count.
func NewTracker(cfg Config) *Tracker {
	cfg.Params.applyDefaults()
	t := &Tracker{
		params:  cfg.Params,
		backoff: NewBackoffCalculator(cfg.Params.BaseRetryInterval, cfg.Params.MaxBackoffInterval, cfg.Random),
		retx:    cfg.Retransmit,
		entries: make(map[identity.NodeID]*TrackedMessage),
		stopCh:  make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		t.log = cfg.LoggerFactory.NewLogger("reliability")
	}
	return t
}

// Track records a new TrackedMessage with status Sent and LastAttempt
// set to now, counting the caller's own first transmission as the first
// attempt (meshnode calls Track just before handing the envelope to the
// Router).
func (t *Tracker) Track(messageID, destination identity.NodeID, envelopeBytes []byte, onResult ResultCallback) error {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[messageID]; exists {
		return ErrAlreadyTracked
	}
	t.entries[messageID] = &TrackedMessage{
		MessageID:     messageID,
		EnvelopeBytes: envelopeBytes,
		Destination:   destination,
		Status:        Sent,
		RetryCount:    0,
		CreatedAt:     now,
		LastAttempt:   now,
		callback:      onResult,
	}
	return nil
}

// OnAck marks messageID Delivered and invokes its callback exactly
// once. A second ACK for an already-Delivered message is a no-op
// (spec §8 ACK idempotence).
func (t *Tracker) OnAck(messageID identity.NodeID) error {
	now := time.Now()

	t.mu.Lock()
	entry, ok := t.entries[messageID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownMessage
	}
	if entry.Status == Delivered {
		t.mu.Unlock()
		return nil
	}
	entry.Status = Delivered
	entry.DeliveredAt = now
	cb := entry.callback
	t.mu.Unlock()

	if cb != nil {
		cb(messageID, Delivered, nil)
	}
	return nil
}

// Status returns the current status of a tracked message.
func (t *Tracker) Status(messageID identity.NodeID) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[messageID]
	if !ok {
		return 0, false
	}
	return entry.Status, true
}

// Start launches the retry and expiry sweep goroutines.
func (t *Tracker) Start() {
	t.wg.Add(2)
	go t.retryLoop()
	go t.expiryLoop()
}

// Stop halts the sweep goroutines.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) retryLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.params.RetryTick)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.retryTick(now)
		}
	}
}

func (t *Tracker) expiryLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.params.ExpiryTick)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.expiryTick(now)
		}
	}
}

// retryTick implements spec §4.6's periodic 1s sweep: due Sent entries
// either get another attempt or are marked Failed at max_retries.
func (t *Tracker) retryTick(now time.Time) {
	type due struct {
		id   identity.NodeID
		dest identity.NodeID
		env  []byte
	}
	var toRetry []due
	var toFail []*TrackedMessage

	t.mu.Lock()
	for _, entry := range t.entries {
		if entry.Status != Sent {
			continue
		}
		interval := t.backoff.Calculate(entry.RetryCount)
		if now.Sub(entry.LastAttempt) < interval {
			continue
		}
		if entry.RetryCount < t.params.MaxRetries {
			entry.RetryCount++
			entry.LastAttempt = now
			toRetry = append(toRetry, due{id: entry.MessageID, dest: entry.Destination, env: entry.EnvelopeBytes})
		} else {
			entry.Status = Failed
			toFail = append(toFail, entry)
		}
	}
	t.mu.Unlock()

	for _, d := range toRetry {
		if t.retx != nil {
			if err := t.retx(d.id, d.dest, d.env); err != nil && t.log != nil {
				t.log.Warnf("reliability: retransmit failed for %s: %v", d.id, err)
			}
		}
	}
	for _, entry := range toFail {
		if entry.callback != nil {
			entry.callback(entry.MessageID, Failed, ErrDeliveryTimeout)
		}
	}
}

// expiryTick implements spec §4.6's 30s sweep: aged Pending/Sent
// entries become Expired; aged Delivered/Failed entries are purged.
func (t *Tracker) expiryTick(now time.Time) {
	var toExpire []*TrackedMessage

	t.mu.Lock()
	for id, entry := range t.entries {
		age := now.Sub(entry.CreatedAt)
		if age <= t.params.MessageExpiry {
			continue
		}
		switch entry.Status {
		case Pending, Sent:
			entry.Status = Expired
			toExpire = append(toExpire, entry)
			delete(t.entries, id)
		case Delivered, Failed:
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, entry := range toExpire {
		if entry.callback != nil {
			entry.callback(entry.MessageID, Expired, ErrDeliveryTimeout)
		}
	}
}

// Count returns the number of tracked entries, for diagnostics and tests.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

package reliability

import (
	"time"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// Status is a TrackedMessage's delivery status (spec §3).
type Status int

const (
	// Pending is the initial status before the first send attempt.
	Pending Status = iota
	// Sent means at least one attempt has gone out, awaiting ACK.
	Sent
	// Delivered is terminal: an ACK was received.
	Delivered
	// Failed is terminal: retries were exhausted without an ACK.
	Failed
	// Expired means a Pending/Sent entry aged out past MessageExpiry.
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// ResultCallback is invoked once when a TrackedMessage reaches a
// terminal status (Delivered, Failed, or Expired).
type ResultCallback func(messageID identity.NodeID, status Status, err error)

// TrackedMessage is the C6 bookkeeping record for one outbound envelope
// requiring acknowledgement (spec §3). EnvelopeBytes holds the fully
// serialised, chunked-ready envelope for retransmission, mirroring the
// teacher's RetransmitEntry.Message field.
type TrackedMessage struct {
	MessageID     identity.NodeID
	EnvelopeBytes []byte
	Destination   identity.NodeID

	Status     Status
	RetryCount int

	CreatedAt   time.Time
	LastAttempt time.Time
	DeliveredAt time.Time

	callback ResultCallback
}

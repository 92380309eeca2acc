package reliability

import "errors"

// Package-level sentinel errors for the C6 Reliability component.
var (
	// ErrUnknownMessage is returned by OnAck for a MessageID with no
	// TrackedMessage entry.
	ErrUnknownMessage = errors.New("reliability: unknown message id")

	// ErrAlreadyTracked is returned by Track called twice for the same
	// MessageID.
	ErrAlreadyTracked = errors.New("reliability: message already tracked")

	// ErrDeliveryTimeout is passed to a result callback when retries are
	// exhausted without an ACK (spec §7).
	ErrDeliveryTimeout = errors.New("reliability: delivery timeout, retries exhausted")
)

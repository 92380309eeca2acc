package router

import "errors"

// Package-level sentinel errors for the C5 Router component.
var (
	// ErrNoRoute is returned by SendEnvelope when a destination is
	// unreachable after the route-discovery timeout, and by SendAck when
	// no route is cached. Forwarding relay traffic with no cached next
	// hop drops the envelope (logged) without returning this error.
	ErrNoRoute = errors.New("router: no route to destination")

	// ErrTTLExpired means an envelope or RREQ arrived with no hops left
	// and is dropped rather than forwarded.
	ErrTTLExpired = errors.New("router: ttl expired")

	// ErrLoopDetected means the local NodeID already appears in the
	// traversed hop path; the message is dropped regardless of the
	// SeenMessageCache outcome (spec §8 "Loop freedom").
	ErrLoopDetected = errors.New("router: loop detected in hop path")

	// ErrMalformedControl mirrors relay.ErrMalformedEnvelope for the
	// control-message codec.
	ErrMalformedControl = errors.New("router: malformed control message")
)

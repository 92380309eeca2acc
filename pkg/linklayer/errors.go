package linklayer

import "errors"

// Package-level sentinel errors for the C3 LinkLayer component.
var (
	// ErrRadioUnavailable is returned when no radio backend is attached
	// or the backend has been closed.
	ErrRadioUnavailable = errors.New("linklayer: radio unavailable")

	// ErrPeerNotConnected is returned by Send targeting a peer that is
	// not in the connected index, and by Connect when the connection
	// attempt times out.
	ErrPeerNotConnected = errors.New("linklayer: peer not connected")

	// ErrNotFullyConnected is returned when a peer has a bound byte pipe
	// but has not yet exchanged both public keys with C2.
	ErrNotFullyConnected = errors.New("linklayer: peer not fully connected")

	// ErrUnknownPeer is returned when an operation references a peer not
	// present in either the discovered or connected index.
	ErrUnknownPeer = errors.New("linklayer: unknown peer")

	// ErrAlreadyStarted is returned by Start called on a running link layer.
	ErrAlreadyStarted = errors.New("linklayer: already started")

	// ErrClosed is returned by operations on a stopped link layer.
	ErrClosed = errors.New("linklayer: closed")
)

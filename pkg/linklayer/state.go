package linklayer

// ConnectionState is the lifecycle state of a Peer (spec §4.3).
type ConnectionState int

const (
	// Discovered is a peer seen during scanning but not yet connected.
	Discovered ConnectionState = iota
	// Connecting is an outbound connection attempt in progress.
	Connecting
	// Connected is a peer with a bound byte pipe. The state is entered as
	// soon as the pipe binds and does not wait for the key exchange;
	// whether both public keys have been handed to C2 is reported
	// separately by Peer.FullyConnected, and sends to the peer are
	// rejected until it is.
	Connected
	// Disconnected is a peer whose byte pipe was lost after having been
	// Connected; eligible for scheduled reconnection.
	Disconnected
	// Failed is a peer whose connection attempt timed out or whose
	// reconnect attempts were exhausted.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role describes which side initiated the byte-pipe connection, which
// determines the send direction per spec §4.3's byte I/O contract.
type Role int

const (
	// RoleUnknown is the zero value, before a role is established.
	RoleUnknown Role = iota
	// RoleOutbound means the local node discovered and connected to the
	// peer (write-to-server direction).
	RoleOutbound
	// RoleInbound means the peer subscribed to or wrote to the local
	// node's endpoint (notify-on-our-endpoint direction).
	RoleInbound
)

package crypto

import (
	"bytes"

	"github.com/driftmesh/meshcore/pkg/identity"
)

var (
	sessionInfoLowToHigh = []byte("mesh session v1 low->high")
	sessionInfoHighToLow = []byte("mesh session v1 high->low")
)

// CryptoSession holds per-peer keying material: the peer's long-term
// public keys plus the symmetric keys derived from the X25519 agreement,
// one per direction so that two nodes sharing a session never encrypt
// with the same key in the same direction.
type CryptoSession struct {
	PeerAgreementPublic []byte
	PeerSigningPublic   []byte

	sendKey []byte
	recvKey []byte
}

// deriveDirectionalKeys splits one shared secret into two 32-byte keys,
// keyed off the lexicographic order of the two NodeIDs involved so both
// ends agree, independent of who dialed whom. This mirrors the teacher's
// CASE handshake deriving separate S2K/S3K keys for each direction.
func deriveDirectionalKeys(sharedSecret []byte, localID, peerID identity.NodeID) (sendKey, recvKey []byte, err error) {
	localIsLow := bytes.Compare(localID[:], peerID[:]) < 0

	var lowID, highID identity.NodeID
	if localIsLow {
		lowID, highID = localID, peerID
	} else {
		lowID, highID = peerID, localID
	}
	salt := append(append([]byte{}, lowID[:]...), highID[:]...)

	lowToHigh, err := HKDFSHA256(sharedSecret, salt, sessionInfoLowToHigh, 32)
	if err != nil {
		return nil, nil, err
	}
	highToLow, err := HKDFSHA256(sharedSecret, salt, sessionInfoHighToLow, 32)
	if err != nil {
		return nil, nil, err
	}

	if localIsLow {
		return lowToHigh, highToLow, nil
	}
	return highToLow, lowToHigh, nil
}

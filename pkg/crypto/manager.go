package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// Manager implements the C2 Crypto component: per-peer session
// derivation, direct and group AEAD, and group key generation. It is
// constructed once per node and threaded as an explicit dependency into
// the Router and Relay layers (spec §9 "Global singletons" note).
type Manager struct {
	id *identity.Identity

	mu       sync.Mutex
	sessions map[identity.NodeID]*CryptoSession
}

// NewManager constructs a Crypto manager bound to a node's long-term
// identity.
func NewManager(id *identity.Identity) *Manager {
	return &Manager{
		id:       id,
		sessions: make(map[identity.NodeID]*CryptoSession),
	}
}

// StorePeerAgreementKey validates and records a peer's X25519 agreement
// public key, deriving the directional session keys immediately. This
// is the trigger spec §4.2 describes: storing the agreement key performs
// session derivation as a side effect.
func (m *Manager) StorePeerAgreementKey(peer identity.NodeID, agreementPublic []byte) error {
	if _, err := ecdh.X25519().NewPublicKey(agreementPublic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	sharedSecret, err := m.id.Agree(agreementPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sendKey, recvKey, err := deriveDirectionalKeys(sharedSecret, m.id.NodeID(), peer)
	if err != nil {
		return fmt.Errorf("crypto: derive session keys: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[peer]
	if session == nil {
		session = &CryptoSession{}
		m.sessions[peer] = session
	}
	session.PeerAgreementPublic = append([]byte(nil), agreementPublic...)
	session.sendKey = sendKey
	session.recvKey = recvKey
	return nil
}

// StorePeerSigningKey validates and records a peer's Ed25519 signing
// public key, used to verify signed control traffic (RREQ/ANNOUNCE).
func (m *Manager) StorePeerSigningKey(peer identity.NodeID, signingPublic []byte) error {
	if len(signingPublic) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: wrong signing key length", ErrInvalidKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[peer]
	if session == nil {
		session = &CryptoSession{}
		m.sessions[peer] = session
	}
	session.PeerSigningPublic = append([]byte(nil), signingPublic...)
	return nil
}

// PeerSigningKey returns the stored signing public key for peer, if any.
func (m *Manager) PeerSigningKey(peer identity.NodeID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[peer]
	if session == nil || session.PeerSigningPublic == nil {
		return nil, false
	}
	return append([]byte(nil), session.PeerSigningPublic...), true
}

// HasSession reports whether a direct session has been derived for peer.
func (m *Manager) HasSession(peer identity.NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[peer]
	return session != nil && session.sendKey != nil
}

// EncryptFor encrypts plaintext for delivery to peer using the derived
// per-peer session key. Returns ErrNoSession if no agreement key has
// been stored for peer yet.
func (m *Manager) EncryptFor(peer identity.NodeID, plaintext []byte) (*Sealed, error) {
	m.mu.Lock()
	session := m.sessions[peer]
	m.mu.Unlock()
	if session == nil || session.sendKey == nil {
		return nil, ErrNoSession
	}
	// AAD is the sender's own NodeID, not the recipient's: the peer on
	// the receiving end calls DecryptFrom keyed by the sender's ID, so
	// that is the value both sides can reconstruct identically.
	localID := m.id.NodeID()
	return seal(session.sendKey, plaintext, localID[:])
}

// DecryptFrom decrypts a Sealed payload received from peer. Returns
// ErrNoSession if no session exists, ErrAuthFailed if the tag does not
// verify.
func (m *Manager) DecryptFrom(peer identity.NodeID, sealed *Sealed) ([]byte, error) {
	m.mu.Lock()
	session := m.sessions[peer]
	m.mu.Unlock()
	if session == nil || session.recvKey == nil {
		return nil, ErrNoSession
	}
	return open(session.recvKey, sealed, peer[:])
}

// GenerateGroupKey creates a new random group key for a conversation the
// local node creates.
func (m *Manager) GenerateGroupKey() (*GroupKey, error) {
	return GenerateGroupKey()
}

// EncryptWithGroup encrypts plaintext using a shared group key, for
// fan-out delivery to every group member.
func (m *Manager) EncryptWithGroup(group *GroupKey, plaintext []byte) (*Sealed, error) {
	if group == nil || len(group.Key) != GroupKeySize {
		return nil, fmt.Errorf("%w: missing group key", ErrInvalidKey)
	}
	return seal(group.Key, plaintext, group.ID[:])
}

// DecryptWithGroup decrypts a Sealed payload using a shared group key. A
// node without the group key cannot call this meaningfully; it will
// simply never have been handed the key by GKD.
func (m *Manager) DecryptWithGroup(group *GroupKey, sealed *Sealed) ([]byte, error) {
	if group == nil || len(group.Key) != GroupKeySize {
		return nil, fmt.Errorf("%w: missing group key", ErrInvalidKey)
	}
	return open(group.Key, sealed, group.ID[:])
}

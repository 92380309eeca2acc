// Package identity owns a mesh node's stable NodeID and long-term key
// material: an X25519 agreement key used to derive per-peer session keys
// and an Ed25519 signing key used to authenticate control traffic.
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is a 128-bit identifier, stable for the lifetime of the
// installation. It is generated once and persisted externally by the
// caller (Store); this package never rewrites an existing NodeID.
type NodeID [16]byte

// String renders the NodeID as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// NewNodeID generates a fresh random NodeID.
func NewNodeID() NodeID {
	var id NodeID
	copy(id[:], uuid.New()[:])
	return id
}

// ParseNodeID parses the lowercase hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("identity: parse node id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("identity: parse node id: wrong length %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// KeyMaterial is the externally-persisted long-term key material for a
// node. Store is the external key-store collaborator named in spec §6;
// this package never writes key material to disk itself.
type KeyMaterial struct {
	NodeID            NodeID
	AgreementPrivate  []byte // 32-byte X25519 scalar
	SigningPrivate    ed25519.PrivateKey
}

// Store is the external collaborator responsible for persisting and
// loading a node's KeyMaterial across restarts. Implementations live
// outside this package (spec §1 names key-store persistence as an
// external collaborator).
type Store interface {
	Load() (*KeyMaterial, error)
	Save(*KeyMaterial) error
}

// ErrNoKeyMaterial is returned by a Store when no key material has been
// persisted yet; callers should generate and Save fresh material.
var ErrNoKeyMaterial = fmt.Errorf("identity: no key material in store")

// Identity is a node's stable identity: its NodeID plus the derived
// key pairs used for agreement and signing.
type Identity struct {
	nodeID         NodeID
	agreementKey   *ecdh.PrivateKey
	signingPrivate ed25519.PrivateKey
	signingPublic  ed25519.PublicKey
}

// Generate creates a fresh Identity with random keys and a random NodeID.
// Callers are responsible for persisting the result via a Store.
func Generate() (*Identity, error) {
	agreementKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate agreement key: %w", err)
	}
	signingPublic, signingPrivate, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	return &Identity{
		nodeID:         NewNodeID(),
		agreementKey:   agreementKey,
		signingPrivate: signingPrivate,
		signingPublic:  signingPublic,
	}, nil
}

// FromKeyMaterial reconstructs an Identity from previously-persisted
// key material (loaded from a Store).
func FromKeyMaterial(km *KeyMaterial) (*Identity, error) {
	agreementKey, err := ecdh.X25519().NewPrivateKey(km.AgreementPrivate)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid agreement private key: %w", err)
	}
	if len(km.SigningPrivate) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid signing private key size")
	}
	signingPrivate := ed25519.PrivateKey(append([]byte(nil), km.SigningPrivate...))
	return &Identity{
		nodeID:         km.NodeID,
		agreementKey:   agreementKey,
		signingPrivate: signingPrivate,
		signingPublic:  signingPrivate.Public().(ed25519.PublicKey),
	}, nil
}

// LoadOrGenerate loads key material from store, generating and saving
// fresh material if none exists yet.
func LoadOrGenerate(store Store) (*Identity, error) {
	km, err := store.Load()
	if err == nil {
		return FromKeyMaterial(km)
	}
	if !errors.Is(err, ErrNoKeyMaterial) {
		return nil, fmt.Errorf("identity: loading key material: %w", err)
	}
	id, genErr := Generate()
	if genErr != nil {
		return nil, genErr
	}
	if saveErr := store.Save(id.KeyMaterial()); saveErr != nil {
		return nil, fmt.Errorf("identity: persisting generated key material: %w", saveErr)
	}
	return id, nil
}

// KeyMaterial exports the identity's key material for persistence.
func (i *Identity) KeyMaterial() *KeyMaterial {
	return &KeyMaterial{
		NodeID:           i.nodeID,
		AgreementPrivate: append([]byte(nil), i.agreementKey.Bytes()...),
		SigningPrivate:   append(ed25519.PrivateKey(nil), i.signingPrivate...),
	}
}

// NodeID returns the node's stable 128-bit identifier.
func (i *Identity) NodeID() NodeID {
	return i.nodeID
}

// AgreementPublicKey returns the raw X25519 public key bytes.
func (i *Identity) AgreementPublicKey() []byte {
	return i.agreementKey.PublicKey().Bytes()
}

// SigningPublicKey returns the raw Ed25519 public key bytes.
func (i *Identity) SigningPublicKey() []byte {
	return append([]byte(nil), i.signingPublic...)
}

// Sign signs message with the node's long-term Ed25519 signing key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.signingPrivate, message)
}

// Verify checks a signature against a peer's Ed25519 public key.
func Verify(peerSigningPublic, message, signature []byte) bool {
	if len(peerSigningPublic) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(peerSigningPublic), message, signature)
}

// Agree computes the X25519 shared secret with a peer's agreement public
// key. The result is raw Diffie-Hellman output, not yet a symmetric key;
// callers (pkg/crypto) must run it through a KDF before use.
func (i *Identity) Agree(peerAgreementPublic []byte) ([]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerAgreementPublic)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid peer agreement key: %w", err)
	}
	secret, err := i.agreementKey.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("identity: ECDH failed: %w", err)
	}
	return secret, nil
}

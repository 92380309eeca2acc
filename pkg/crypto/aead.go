package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed is the on-wire shape of an AEAD-encrypted payload: ciphertext,
// nonce, and authentication tag kept as separate fields, matching the
// {ciphertext, nonce, tag, ...} record spec §6 describes for an
// encrypted Envelope payload.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

func seal(key, plaintext, aad []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: construct aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	combined := aead.Seal(nil, nonce, plaintext, aad)
	tagStart := len(combined) - aead.Overhead()
	return &Sealed{
		Ciphertext: combined[:tagStart],
		Nonce:      nonce,
		Tag:        combined[tagStart:],
	}, nil
}

func open(key []byte, sealed *Sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: construct aead: %w", err)
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", ErrDecryptionFailed)
	}
	combined := append(append([]byte{}, sealed.Ciphertext...), sealed.Tag...)
	plaintext, err := aead.Open(nil, sealed.Nonce, combined, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

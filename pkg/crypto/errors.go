package crypto

import "errors"

// Error kinds surfaced by the crypto layer (spec §7).
var (
	// ErrNoSession is returned by EncryptFor/DecryptFrom when no session
	// key has been derived yet for the given peer.
	ErrNoSession = errors.New("crypto: no session for peer")

	// ErrInvalidKey is returned when a peer's public key fails point
	// validation.
	ErrInvalidKey = errors.New("crypto: invalid key encoding")

	// ErrAuthFailed is returned when AEAD tag verification fails.
	ErrAuthFailed = errors.New("crypto: authentication failed")

	// ErrEncryptionFailed wraps unexpected encryption failures.
	ErrEncryptionFailed = errors.New("crypto: encryption failed")

	// ErrDecryptionFailed wraps unexpected decryption failures.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

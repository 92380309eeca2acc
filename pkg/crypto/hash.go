package crypto

import "crypto/sha256"

// SHA256Sum computes the SHA-256 digest of data.
func SHA256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

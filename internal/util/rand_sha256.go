package util

import (
	"crypto/rand"
	"encoding/hex"
)

// sha256ByteLength sets the byte length of a SHA-256 digest (32).
const sha256ByteLength = 32

// GenerateRandomSHA256 generates a random 64-character hex string shaped
// like a SHA-256 digest.
//
// Returns:
//   - string: Random digest without prefix.
func GenerateRandomSHA256() string {
	raw := make([]byte, sha256ByteLength)
	_, _ = rand.Read(raw)

	return hex.EncodeToString(raw)
}

// GenerateRandomPrefixedSHA256 generates a random digest string in the
// algorithm-prefixed form used by registries.
//
// Returns:
//   - string: Random digest with "sha256:" prefix.
func GenerateRandomPrefixedSHA256() string {
	return "sha256:" + GenerateRandomSHA256()
}

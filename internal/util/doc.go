// Package util provides small helpers for imagemeta's tests and tooling:
// random name and SHA-256 digest generation.
//
// Key components:
//   - RandName: Generates random 32-character repository names.
//   - GenerateRandomSHA256: Creates random 64-character SHA-256 hashes.
//
// Usage example:
//
//	name := util.RandName()
//	hash := util.GenerateRandomPrefixedSHA256()
//
// The package uses crypto/rand for secure random generation.
package util

// Package types defines core structs and constants shared across imagemeta.
// It provides registry credential and token-response structures along with the
// HTTP header names consumed from registry responses.
//
// Key components:
//   - RegistryCredentials: Struct for registry basic authentication.
//   - TokenResponse: Struct for bearer-token endpoint responses.
//   - ContentDigestHeader and friends: Registry response header names.
//
// Usage example:
//
//	creds := types.RegistryCredentials{Username: "user", Password: "secret"}
//	digest := resp.Header.Get(types.ContentDigestHeader)
//
// The package deliberately carries no behavior so that leaf packages can share
// it without cross-dependencies.
package types

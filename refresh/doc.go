// Package refresh manages the lifecycle of refresh records: creation at
// login, exact-match lookup, rotation and revocation.
//
// # Architecture boundaries
//
// The package composes a store.Backend, a token signer, a device.Binder and a
// revocation.Registry. It does not lock. Callers hold the rotation lock for
// the user while calling Create or Rotate.
//
// # What this package must NOT do
//
//   - Read cookies or sessions.
//   - Decide whether a request is authenticated.
//   - Import the root goSession package.
package refresh

// Package flows contains pure-function orchestrators for the Engine's
// credential operations.
//
// Each flow function (RunRotation, RunLogin, RunLogout) accepts a typed
// dependency struct and returns a result carrying a failure kind instead of
// mapping errors itself. The root package maps kinds to its public sentinels.
//
// # Architecture boundaries
//
// Flows coordinate the refresh store, revocation registry, device binder and
// token signer. They do NOT own any of these resources and never take the
// rotation lock themselves; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Touch cookies or sessions.
package flows

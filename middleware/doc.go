// Package middleware adapts the session engine to net/http.
//
// # Channels
//
//   - [CookieCodec] issues HMAC-signed cookies and exposes them per request
//     as a [Jar], the cookie channel the engine reads and writes.
//   - [SessionStore] keeps the server-side session in Redis, keyed by a
//     signed session id cookie, and exposes it as a [Session].
//
// # Guards
//
//   - [Guard] runs Engine.Authenticate on every request, persists whatever
//     the engine rotated or cleared, and attaches the AuthContext.
//   - [RequireRole] rejects authenticated requests whose user lacks a role.
//
// Handlers that log a user in or out use [Transport.Begin] to obtain the
// same request view and commit it afterwards.
//
// # What this package must NOT do
//
//   - Parse or sign access and refresh tokens (the engine does).
//   - Decide whether a session is valid beyond mapping engine errors to
//     HTTP status codes.
package middleware

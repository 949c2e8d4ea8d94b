// Package goSession runs the lifecycle of browser sessions built from a
// short-lived signed access token and a rotating refresh token bound to a
// device.
//
// Every request is classified by [Engine.Authenticate] into one of four
// states: Anonymous, AccessValid, RefreshRotationNeeded or Rejected. An
// expired access token triggers a refresh rotation that is exclusive per
// (user, device); concurrent requests carrying the same credentials share
// one result, and a just-rotated token stays usable once within the grace
// window. Security-sensitive rejections revoke the record the request
// resolves to and clear its credentials.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config]
// and value types such as [AuthContext] and [ActiveUnit]. Flow orchestration
// and audit dispatch live under internal/. Token signing lives in jwt,
// device binding in device, persistence in store and its postgres backend,
// the revocation registry in revocation and rotation exclusivity in lock.
//
// # Transport
//
// The engine reads and writes credentials through two channels, a signed
// [CookieJar] and a server-side [SessionBag]. Package middleware provides
// HTTP implementations of both backed by Redis.
//
// # Performance contract
//
// Authenticate on a valid access token performs no store round-trip. A
// rotation costs one lock acquisition and one atomic backend operation.
package goSession

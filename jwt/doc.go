// Package jwt holds the signing key pair and issues and verifies the two token
// kinds used by the session engine: short-lived access tokens bound to a token
// id, and long-lived refresh tokens backed by the refresh store.
package jwt

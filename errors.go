package goSession

import "errors"

// Error taxonomy of the lifecycle engine. Authenticate wraps the internal
// cause with one of these; transports should pass errors through PublicError
// before showing them to a client.
var (
	// ErrNotAuthenticated means the request carried no credentials at all.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidToken means a token failed verification or names no known record.
	ErrInvalidToken = errors.New("invalid token")
	// ErrDeviceMismatch means the presented device id does not match the record binding.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrRevoked means the token was revoked and no grace applies.
	ErrRevoked = errors.New("token revoked")
	// ErrSessionIntegrityViolation means cookie and session values diverged.
	ErrSessionIntegrityViolation = errors.New("session integrity violation")
	// ErrUnauthorized means the session is valid but lacks a required role or attribute.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInternalFailure means a dependency failed; the caller is not at fault.
	ErrInternalFailure = errors.New("internal failure")

	// ErrForcedLogout is the public form of every security-sensitive rejection.
	ErrForcedLogout = errors.New("session ended, please sign in again")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrUserNotFound       = errors.New("user not found")

	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")

	ErrInvalidConfig       = errors.New("invalid config")
	ErrBuilderUsed         = errors.New("builder already used")
	ErrMissingBackend      = errors.New("redis client or store backend required")
	ErrMissingUserProvider = errors.New("user provider required")
)

// IsForcedLogout reports whether err requires the client to drop its
// credentials and sign in again.
func IsForcedLogout(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrSessionIntegrityViolation) ||
		errors.Is(err, ErrForcedLogout)
}

// PublicError maps an engine error to the value safe to expose to a client.
// The four security-sensitive kinds collapse to ErrForcedLogout so a client
// cannot tell which check failed.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsForcedLogout(err):
		return ErrForcedLogout
	case errors.Is(err, ErrNotAuthenticated):
		return ErrNotAuthenticated
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountInactive):
		return ErrInvalidCredentials
	default:
		return ErrInternalFailure
	}
}

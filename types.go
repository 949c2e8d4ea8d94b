package goSession

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/store"
)

// User is the account view the engine needs for password login and guards.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	Active        bool
}

// UserProvider loads accounts. Both lookups return ErrUserNotFound for an
// unknown user; other errors are treated as internal failures.
//
//	Docs: docs/engine.md
type UserProvider interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
}

// PasswordHasher hashes and verifies passwords. password.Argon2 satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// CookieOptions are the attributes of one credential cookie.
type CookieOptions struct {
	MaxAge   time.Duration
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	Path     string
	Domain   string
}

// CookieJar is the signed-cookie channel of one request. Get must return only
// values whose signature verified, and must observe SetSigned and Clear
// calls made earlier in the same request.
type CookieJar interface {
	Get(name string) (string, bool)
	SetSigned(name, value string, opts CookieOptions)
	Clear(name string)
}

// SessionBag is the server-side session channel of one request.
type SessionBag interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// Request is the transport view Authenticate and Logout work on.
type Request struct {
	Cookies CookieJar
	Session SessionBag
	// Local is a context already established for this request, if any. Its
	// values take precedence over the session and the cookies.
	Local     *AuthContext
	IP        string
	UserAgent string
}

// State is a position of the authentication state machine.
type State uint8

const (
	StateAnonymous State = iota
	StateAccessValid
	StateRefreshRotationNeeded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAccessValid:
		return "access_valid"
	case StateRefreshRotationNeeded:
		return "refresh_rotation_needed"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// AuthContext is the authenticated identity of one request. It is immutable:
// a rotation produces a new AuthContext rather than updating the old one.
type AuthContext struct {
	userID          string
	deviceID        string
	refreshTokenID  string
	accessToken     string
	refreshToken    string
	accessExpiresAt time.Time
	state           State
	rotated         bool
}

func (a *AuthContext) UserID() string         { return a.userID }
func (a *AuthContext) DeviceID() string       { return a.deviceID }
func (a *AuthContext) RefreshTokenID() string { return a.refreshTokenID }
func (a *AuthContext) State() State           { return a.state }

// AccessExpiresAt is zero when the context was built from an access token
// whose expiry was not re-read.
func (a *AuthContext) AccessExpiresAt() time.Time { return a.accessExpiresAt }

// Rotated reports whether the credentials were rotated while authenticating
// this request.
func (a *AuthContext) Rotated() bool { return a.rotated }

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	State   State
	Context *AuthContext
	// Reason is the internal rejection detail. It is meant for logs and must
	// not be shown to clients.
	Reason string
	// Shared is true when this request received the result of a rotation
	// started by a concurrent request with the same credentials.
	Shared bool
}

// LoginResult carries the credentials issued by Login.
type LoginResult struct {
	UserID          string
	DeviceID        string
	RecordID        string
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	RefreshExpires  time.Time
}

// ActiveUnit is one active refresh record as shown to its owner. It never
// carries token material or the binding salt.
type ActiveUnit struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	RotatedAt time.Time `json:"rotated_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Reason records why credentials were revoked.
type Reason = store.Reason

const (
	ReasonLogout       = store.ReasonLogout
	ReasonForcedLogout = store.ReasonForcedLogout
	ReasonRevoked      = store.ReasonRevoked
	ReasonRevokeAll    = store.ReasonRevokeAll
)

// Requirements are the attribute checks Authorize applies to an
// authenticated user.
type Requirements struct {
	// Roles passes when the user holds any one of them. Empty skips the check.
	Roles         []string
	EmailVerified bool
	Active        bool
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/MrEthical07/goSession/device"
	"github.com/oklog/ulid/v2"
)

// Reason records why a refresh record left the active set.
type Reason string

const (
	ReasonRotation            Reason = "rotation"
	ReasonLogout              Reason = "logout"
	ReasonForcedLogout        Reason = "forced_logout"
	ReasonRevoked             Reason = "revoked"
	ReasonRevokeAll           Reason = "revoke_all"
	ReasonSingleSessionPolicy Reason = "single_session_policy"
)

// RefreshRecord is one active refresh token bound to one device binding.
type RefreshRecord struct {
	ID        string
	UserID    string
	DeviceID  string
	Salt      string
	Token     string
	IPAddress string
	UserAgent string
	IssuedAt  time.Time
	RotatedAt time.Time
	ExpiresAt time.Time
}

// Binding returns the device binding input of the record.
func (r *RefreshRecord) Binding() device.Binding {
	return device.Binding{UserID: r.UserID, Salt: r.Salt}
}

// TokenHash returns the lookup key of the record's token.
func (r *RefreshRecord) TokenHash() string {
	return TokenHash(r.Token)
}

// RevokedRecord is an entry of the revocation registry. It lives until the
// original token would have expired.
type RevokedRecord struct {
	UserID     string
	DeviceID   string
	Salt       string
	Token      string
	IPAddress  string
	Reason     Reason
	RevokedAt  time.Time
	GraceUntil time.Time
	ExpiresAt  time.Time
	// ReplacedBy is the id of the record created in the same operation, if any.
	ReplacedBy    string
	GraceConsumed bool
}

// Binding returns the device binding input of the revoked record.
func (r *RevokedRecord) Binding() device.Binding {
	return device.Binding{UserID: r.UserID, Salt: r.Salt}
}

// RevokeMeta describes how matched records enter the registry.
type RevokeMeta struct {
	Reason     Reason
	RevokedAt  time.Time
	GraceUntil time.Time
	ReplacedBy string
	// RequireMatch makes the operation fail with ErrRecordNotFound, without
	// inserting the successor, when no live record is in scope.
	RequireMatch bool
}

// Revoked converts an active record into its registry entry.
func (r *RefreshRecord) Revoked(meta RevokeMeta) RevokedRecord {
	return RevokedRecord{
		UserID:     r.UserID,
		DeviceID:   r.DeviceID,
		Salt:       r.Salt,
		Token:      r.Token,
		IPAddress:  r.IPAddress,
		Reason:     meta.Reason,
		RevokedAt:  meta.RevokedAt,
		GraceUntil: meta.GraceUntil,
		ExpiresAt:  r.ExpiresAt,
		ReplacedBy: meta.ReplacedBy,
	}
}

// TokenHash is the hex SHA-256 of a token. Backends index tokens by it.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewRecordID returns a new sortable record id.
func NewRecordID() string {
	return ulid.Make().String()
}

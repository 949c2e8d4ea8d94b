// Package store persists active refresh records and the revocation registry.
//
// Two collections exist: active refresh records and revoked tokens. Both expire
// at the natural expiry of the token they hold. Moving records from the active
// set to the revoked set is a single atomic unit in every backend, so a token is
// never active and revoked at the same time.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBackendUnavailable wraps transport or driver failures.
	ErrBackendUnavailable = errors.New("store backend unavailable")
	// ErrRecordNotFound is returned when an id does not name an active record.
	ErrRecordNotFound = errors.New("refresh record not found")
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("invalid refresh record")
)

// Backend is the persistence contract shared by the Redis and Postgres stores.
type Backend interface {
	// Insert persists a new active record.
	Insert(ctx context.Context, rec *RefreshRecord) error
	// FindActive returns the unexpired record matching all three values, or nil.
	FindActive(ctx context.Context, userID, deviceID, token string) (*RefreshRecord, error)
	// FindByToken returns the unexpired record holding token, or nil.
	FindByToken(ctx context.Context, token string) (*RefreshRecord, error)
	// Get returns the active record with the given id or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*RefreshRecord, error)
	// ListActive returns the unexpired records of userID ordered by issue time.
	ListActive(ctx context.Context, userID string) ([]RefreshRecord, error)
	// Revoke atomically moves every record in scope to the revoked set and,
	// when next is non-nil, inserts next in the same unit. With
	// meta.RequireMatch an empty scope yields ErrRecordNotFound and no insert.
	Revoke(ctx context.Context, scope Scope, meta RevokeMeta, next *RefreshRecord) ([]RevokedRecord, error)
	// LookupRevoked returns the unexpired revoked entry for token, or nil.
	LookupRevoked(ctx context.Context, token string) (*RevokedRecord, error)
	// InsertRevoked adds entries to the revoked set in one operation.
	InsertRevoked(ctx context.Context, recs []RevokedRecord) error
	// ConsumeGrace marks the grace window of token as used. It reports true for
	// exactly one caller while now <= GraceUntil.
	ConsumeGrace(ctx context.Context, token string, now time.Time) (bool, error)
}

// ValidateRecord reports ErrInvalidRecord when rec lacks a required field.
func ValidateRecord(rec *RefreshRecord) error {
	if rec == nil || rec.ID == "" || rec.UserID == "" || rec.DeviceID == "" ||
		rec.Salt == "" || rec.Token == "" || rec.ExpiresAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

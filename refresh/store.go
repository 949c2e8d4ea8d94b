package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/device"
	"github.com/MrEthical07/goSession/revocation"
	"github.com/MrEthical07/goSession/store"
)

// ErrNothingToRotate is returned by Rotate when the scope holds no live record,
// usually because a concurrent rotation already replaced it.
var ErrNothingToRotate = errors.New("refresh: no active record in scope")

// TokenSigner issues signed refresh tokens.
type TokenSigner interface {
	SignRefresh(userID string) (string, time.Time, error)
}

// Issue carries the request attributes stamped on a new record.
type Issue struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// Store is the Refresh Token Store.
type Store struct {
	backend  store.Backend
	signer   TokenSigner
	binder   *device.Binder
	registry *revocation.Registry
	now      func() time.Time
}

// NewStore wires the collaborators of a Store. now may be nil.
func NewStore(backend store.Backend, signer TokenSigner, binder *device.Binder, registry *revocation.Registry, now func() time.Time) (*Store, error) {
	if backend == nil || signer == nil || binder == nil || registry == nil {
		return nil, errors.New("refresh: backend, signer, binder and registry are required")
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend:  backend,
		signer:   signer,
		binder:   binder,
		registry: registry,
		now:      now,
	}, nil
}

// Prepare builds an unsaved record with a fresh salt, device id and token.
func (s *Store) Prepare(issue Issue) (*store.RefreshRecord, error) {
	if issue.UserID == "" {
		return nil, errors.New("refresh: user id required")
	}
	salt, err := s.binder.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("refresh: salt: %w", err)
	}
	token, expiresAt, err := s.signer.SignRefresh(issue.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: sign: %w", err)
	}
	return &store.RefreshRecord{
		ID:        store.NewRecordID(),
		UserID:    issue.UserID,
		DeviceID:  s.binder.Derive(issue.UserID, salt),
		Salt:      salt,
		Token:     token,
		IPAddress: issue.IPAddress,
		UserAgent: issue.UserAgent,
		IssuedAt:  s.now(),
		ExpiresAt: expiresAt,
	}, nil
}

// Create issues and persists a new record for issue.UserID.
func (s *Store) Create(ctx context.Context, issue Issue) (*store.RefreshRecord, error) {
	rec, err := s.Prepare(issue)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateReplacing persists a new record and, in the same backend operation,
// moves every record in scope to the registry with reason. Unlike Rotate an
// empty scope is not an error.
func (s *Store) CreateReplacing(ctx context.Context, scope store.Scope, reason store.Reason, issue Issue) (*store.RefreshRecord, []store.RevokedRecord, error) {
	return s.replace(ctx, scope, reason, issue, false)
}

// FindActive returns the live record matching all three values, or nil.
func (s *Store) FindActive(ctx context.Context, userID, deviceID, token string) (*store.RefreshRecord, error) {
	return s.backend.FindActive(ctx, userID, deviceID, token)
}

// FindByToken returns the live record holding token regardless of user and
// device, or nil. It never authorizes a rotation; FindActive does.
func (s *Store) FindByToken(ctx context.Context, token string) (*store.RefreshRecord, error) {
	return s.backend.FindByToken(ctx, token)
}

// Get returns the live record with id.
func (s *Store) Get(ctx context.Context, id string) (*store.RefreshRecord, error) {
	return s.backend.Get(ctx, id)
}

// Rotate moves the records in scope to the registry and creates their
// successor in one atomic backend operation. The revoked entries carry the
// successor id and, for rotation reasons, a grace window. If the scope holds
// no live record nothing is written and ErrNothingToRotate is returned.
func (s *Store) Rotate(ctx context.Context, scope store.Scope, reason store.Reason, issue Issue) (*store.RefreshRecord, []store.RevokedRecord, error) {
	next, moved, err := s.replace(ctx, scope, reason, issue, true)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, nil, ErrNothingToRotate
	}
	return next, moved, err
}

func (s *Store) replace(ctx context.Context, scope store.Scope, reason store.Reason, issue Issue, requireMatch bool) (*store.RefreshRecord, []store.RevokedRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, nil, err
	}
	next, err := s.Prepare(issue)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	next.RotatedAt = now
	meta := store.RevokeMeta{
		Reason:       reason,
		RevokedAt:    now,
		GraceUntil:   s.registry.GraceUntil(reason, now),
		ReplacedBy:   next.ID,
		RequireMatch: requireMatch,
	}
	moved, err := s.backend.Revoke(ctx, scope, meta, next)
	if err != nil {
		return nil, nil, err
	}
	return next, moved, nil
}

// Revoke moves the records in scope to the registry without a successor.
func (s *Store) Revoke(ctx context.Context, scope store.Scope, reason store.Reason) ([]store.RevokedRecord, error) {
	now := s.now()
	return s.backend.Revoke(ctx, scope, store.RevokeMeta{
		Reason:     reason,
		RevokedAt:  now,
		GraceUntil: s.registry.GraceUntil(reason, now),
	}, nil)
}

// RevokeAllForUser revokes every live record of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, reason store.Reason) ([]store.RevokedRecord, error) {
	return s.Revoke(ctx, store.ByUser(userID), reason)
}

// ListActive returns the live records of userID ordered by issue time.
func (s *Store) ListActive(ctx context.Context, userID string) ([]store.RefreshRecord, error) {
	if userID == "" {
		return nil, nil
	}
	return s.backend.ListActive(ctx, userID)
}

// Package revocation answers whether a refresh token has been revoked and
// whether its one-time grace window is still open.
//
// A token that was rotated out stays usable exactly once for a short grace
// period, so concurrent requests racing a rotation on another instance do not
// log the user out. Explicit revocations (logout, revoke, policy) get no grace.
package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/store"
)

// DefaultGracePeriod is used when a Registry is built with a zero period.
const DefaultGracePeriod = 60 * time.Second

// Status is the answer of [Registry.IsRevoked].
type Status struct {
	Revoked     bool
	WithinGrace bool
	// Record is the registry entry when Revoked is true.
	Record *store.RevokedRecord
}

// Registry wraps the revoked set of a store.Backend.
type Registry struct {
	backend store.Backend
	grace   time.Duration
	now     func() time.Time
}

// NewRegistry returns a Registry over backend. now may be nil.
func NewRegistry(backend store.Backend, grace time.Duration, now func() time.Time) (*Registry, error) {
	if backend == nil {
		return nil, errors.New("revocation: backend required")
	}
	if grace < 0 {
		return nil, errors.New("revocation: negative grace period")
	}
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{backend: backend, grace: grace, now: now}, nil
}

// GracePeriod reports the configured window.
func (r *Registry) GracePeriod() time.Duration { return r.grace }

// GraceUntil returns the end of the grace window for a record revoked at
// revokedAt for reason. Only rotations are granted a window; every other
// reason yields the zero time.
func (r *Registry) GraceUntil(reason store.Reason, revokedAt time.Time) time.Time {
	if reason != store.ReasonRotation {
		return time.Time{}
	}
	return revokedAt.Add(r.grace)
}

// IsRevoked looks token up in the registry.
func (r *Registry) IsRevoked(ctx context.Context, token string) (Status, error) {
	rec, err := r.backend.LookupRevoked(ctx, token)
	if err != nil {
		return Status{}, err
	}
	if rec == nil {
		return Status{}, nil
	}
	st := Status{Revoked: true, Record: rec}
	if !rec.GraceConsumed && !rec.GraceUntil.IsZero() && !r.now().After(rec.GraceUntil) {
		st.WithinGrace = true
	}
	return st, nil
}

// Insert adds recs to the registry in one backend operation. It seeds the
// registry from an external revocation list; rotation and revocation write
// revoked entries through the refresh store's atomic move instead.
func (r *Registry) Insert(ctx context.Context, recs []store.RevokedRecord) error {
	return r.backend.InsertRevoked(ctx, recs)
}

// Consume spends the grace window of token. It reports true for exactly one
// caller, and only while the window is open.
func (r *Registry) Consume(ctx context.Context, token string) (bool, error) {
	return r.backend.ConsumeGrace(ctx, token, r.now())
}

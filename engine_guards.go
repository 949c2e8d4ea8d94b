package goSession

import (
	"context"
	"errors"
	"fmt"
)

// Authorize loads the user behind ac and applies req. A failed check returns
// ErrUnauthorized; it never forces a logout because the session itself is
// sound.
func (e *Engine) Authorize(ctx context.Context, ac *AuthContext, req Requirements) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if ac == nil || ac.state != StateAccessValid || ac.userID == "" {
		return ErrNotAuthenticated
	}
	if len(req.Roles) == 0 && !req.EmailVerified && !req.Active {
		return nil
	}
	if e.userProvider == nil {
		return fmt.Errorf("%w: %v", ErrInternalFailure, ErrMissingUserProvider)
	}

	u, err := e.userProvider.FindByID(ctx, ac.userID)
	if errors.Is(err, ErrUserNotFound) {
		return e.deny(ctx, ac, "user_not_found")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalFailure, err)
	}

	if len(req.Roles) > 0 && !hasAnyRole(u.Role, req.Roles) {
		return e.deny(ctx, ac, "role")
	}
	if req.EmailVerified && !u.EmailVerified {
		return e.deny(ctx, ac, "email_unverified")
	}
	if req.Active && !u.Active {
		return e.deny(ctx, ac, "inactive")
	}
	return nil
}

// RequireRole passes when the user holds any of roles.
func (e *Engine) RequireRole(ctx context.Context, ac *AuthContext, roles ...string) error {
	return e.Authorize(ctx, ac, Requirements{Roles: roles})
}

func (e *Engine) RequireEmailVerified(ctx context.Context, ac *AuthContext) error {
	return e.Authorize(ctx, ac, Requirements{EmailVerified: true})
}

func (e *Engine) RequireActive(ctx context.Context, ac *AuthContext) error {
	return e.Authorize(ctx, ac, Requirements{Active: true})
}

func (e *Engine) deny(ctx context.Context, ac *AuthContext, check string) error {
	e.metricInc(MetricUnauthorized)
	e.emitAudit(ctx, auditEventAccessDenied, false, auditSubject{userID: ac.userID, deviceID: ac.deviceID, recordID: ac.refreshTokenID}, ErrUnauthorized, func() map[string]string {
		return map[string]string{"check": check}
	})
	return fmt.Errorf("%w: %s", ErrUnauthorized, check)
}

func hasAnyRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

package goSession

import (
	"context"
	"errors"
	"testing"
)

func authenticatedAs(t *testing.T, env *testEnv, email string) *AuthContext {
	t.Helper()
	ac, err := env.engine.LoginWithPassword(context.Background(), newRequest(), email, "correct horse battery")
	if err != nil {
		t.Fatalf("LoginWithPassword(%s): %v", email, err)
	}
	return ac
}

func TestRequireRole(t *testing.T) {
	env, _ := newPasswordEnv(t)
	ctx := context.Background()
	admin := authenticatedAs(t, env, "ada@example.com")
	member := authenticatedAs(t, env, "bob@example.com")

	if err := env.engine.RequireRole(ctx, admin, "admin"); err != nil {
		t.Fatalf("admin denied: %v", err)
	}
	if err := env.engine.RequireRole(ctx, member, "owner", "member"); err != nil {
		t.Fatalf("member must pass any-of check: %v", err)
	}
	err := env.engine.RequireRole(ctx, member, "admin")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if IsForcedLogout(err) || !errors.Is(PublicError(err), ErrUnauthorized) {
		t.Fatalf("a denied guard must not force a logout: %v", PublicError(err))
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricUnauthorized]; got != 1 {
		t.Fatalf("unauthorized counter = %d", got)
	}
}

func TestRequireEmailVerifiedAndActive(t *testing.T) {
	env, users := newPasswordEnv(t)
	ctx := context.Background()
	admin := authenticatedAs(t, env, "ada@example.com")
	member := authenticatedAs(t, env, "bob@example.com")

	if err := env.engine.RequireEmailVerified(ctx, admin); err != nil {
		t.Fatalf("verified user denied: %v", err)
	}
	if err := env.engine.RequireEmailVerified(ctx, member); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unverified user: %v", err)
	}

	if err := env.engine.RequireActive(ctx, member); err != nil {
		t.Fatalf("active user denied: %v", err)
	}
	bob := users.byEmail["bob@example.com"]
	bob.Active = false
	users.byEmail["bob@example.com"] = bob
	if err := env.engine.RequireActive(ctx, member); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deactivated user: %v", err)
	}

	delete(users.byEmail, "ada@example.com")
	if err := env.engine.Authorize(ctx, admin, Requirements{Roles: []string{"admin"}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deleted user: %v", err)
	}
}

func TestAuthorizeRequiresAuthenticatedContext(t *testing.T) {
	env, _ := newPasswordEnv(t)
	ctx := context.Background()

	if err := env.engine.Authorize(ctx, nil, Requirements{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("nil context: %v", err)
	}
	if err := env.engine.RequireRole(ctx, &AuthContext{userID: "u1", state: StateRejected}, "admin"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("rejected context: %v", err)
	}
	ac := authenticatedAs(t, env, "ada@example.com")
	if err := env.engine.Authorize(ctx, ac, Requirements{}); err != nil {
		t.Fatalf("empty requirements must pass: %v", err)
	}
}

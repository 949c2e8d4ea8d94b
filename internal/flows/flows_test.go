package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/device"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/revocation"
	"github.com/MrEthical07/goSession/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *fakeClock
	tokens   *jwt.Manager
	binder   *device.Binder
	registry *revocation.Registry
	records  *refresh.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Now()}
	keys, err := jwt.GenerateKeyStore(jwt.MethodEd25519, "k1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	tokens, err := jwt.NewManager(jwt.Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour, Now: clock.Now}, keys)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	binder, err := device.NewBinder([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("binder: %v", err)
	}
	backend := store.NewRedisBackend(client, "flows-test", clock.Now)
	registry, err := revocation.NewRegistry(backend, time.Minute, clock.Now)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	records, err := refresh.NewStore(backend, tokens, binder, registry, clock.Now)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	return &fixture{clock: clock, tokens: tokens, binder: binder, registry: registry, records: records}
}

func (f *fixture) rotationDeps() RotationDeps {
	return RotationDeps{
		VerifyRefresh: func(token string) (string, bool) {
			claims := f.tokens.VerifyRefresh(token)
			if claims == nil {
				return "", false
			}
			return claims.UserID, true
		},
		SignAccess: f.tokens.SignAccess,
		Records:    f.records,
		Registry:   f.registry,
		Devices:    f.binder,
	}
}

func (f *fixture) login(t *testing.T, userID string) *store.RefreshRecord {
	t.Helper()
	res := RunLogin(context.Background(), LoginInput{UserID: userID}, LoginDeps{Records: f.records, SignAccess: f.tokens.SignAccess})
	if res.Failure != LoginFailureNone {
		t.Fatalf("login failed: %v %v", res.Failure, res.Err)
	}
	return res.Record
}

func inputFor(rec *store.RefreshRecord) RotationInput {
	return RotationInput{UserID: rec.UserID, DeviceID: rec.DeviceID, RefreshToken: rec.Token}
}

func TestRunRotationHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	res := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if res.Failure != RotationFailureNone {
		t.Fatalf("rotation failed: %v %s %v", res.Failure, res.Detail, res.Err)
	}
	if res.Grace || res.Previous != r0.ID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.tokens.VerifyAccess(res.AccessToken, res.Record.ID) == nil {
		t.Fatal("new access token must carry the new record id")
	}

	st, err := f.registry.IsRevoked(ctx, r0.Token)
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !st.Revoked || !st.WithinGrace || st.Record.Reason != store.ReasonRotation {
		t.Fatalf("R0 must be revoked with grace, got %+v", st)
	}
	if found, _ := f.records.FindActive(ctx, "u1", r0.DeviceID, r0.Token); found != nil {
		t.Fatal("R0 must not be active")
	}
}

func TestRunRotationDeviceMismatchDoesNotRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")
	other := f.login(t, "u1")

	in := inputFor(r0)
	in.DeviceID = other.DeviceID
	res := RunRotation(ctx, in, f.rotationDeps())
	if res.Failure == RotationFailureNone {
		t.Fatal("expected failure")
	}
	if res.Failure != RotationFailureDeviceMismatch || res.Detail != "device_id_mismatch" {
		t.Fatalf("expected device mismatch, got %v (%s)", res.Failure, res.Detail)
	}
	if found, _ := f.records.FindActive(ctx, "u1", r0.DeviceID, r0.Token); found == nil {
		t.Fatal("R0 must remain active")
	}
	if st, _ := f.registry.IsRevoked(ctx, r0.Token); st.Revoked {
		t.Fatal("R0 must not be revoked")
	}
}

func TestRunRotationGraceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	first := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if first.Failure != RotationFailureNone {
		t.Fatalf("first rotation: %v", first.Failure)
	}

	f.clock.Advance(10 * time.Second)
	second := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if second.Failure != RotationFailureNone || !second.Grace {
		t.Fatalf("grace must succeed once: %+v", second)
	}
	if second.Record.ID != first.Record.ID || second.Record.Token != first.Record.Token {
		t.Fatalf("grace must hand out the existing successor %s, got %s", first.Record.ID, second.Record.ID)
	}
	if f.tokens.VerifyAccess(second.AccessToken, first.Record.ID) == nil {
		t.Fatal("grace access token must carry the successor id")
	}

	third := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if third.Failure != RotationFailureRevoked || third.Detail != "grace_already_used" {
		t.Fatalf("second grace use must fail with revoked, got %v (%s)", third.Failure, third.Detail)
	}

	active, err := f.records.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.Record.ID {
		t.Fatalf("expected a single active record %s, got %+v", first.Record.ID, active)
	}
}

func TestRunRotationGraceAfterLineageMoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	first := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if first.Failure != RotationFailureNone {
		t.Fatalf("first rotation: %v", first.Failure)
	}
	if res := RunRotation(ctx, inputFor(first.Record), f.rotationDeps()); res.Failure != RotationFailureNone {
		t.Fatalf("second rotation: %v", res.Failure)
	}

	res := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if res.Failure != RotationFailureRevoked || res.Detail != "lineage_ended" {
		t.Fatalf("expected lineage_ended, got %v (%s)", res.Failure, res.Detail)
	}
}

func TestRunRotationGraceSignFailureKeepsSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	first := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if first.Failure != RotationFailureNone {
		t.Fatalf("first rotation: %v", first.Failure)
	}
	deps := f.rotationDeps()
	deps.SignAccess = func(string, string) (string, time.Time, error) {
		return "", time.Time{}, errors.New("signer down")
	}
	if res := RunRotation(ctx, inputFor(r0), deps); res.Failure != RotationFailureInternal {
		t.Fatalf("expected internal failure, got %v", res.Failure)
	}
	if found, _ := f.records.FindActive(ctx, "u1", first.Record.DeviceID, first.Record.Token); found == nil {
		t.Fatal("the successor must stay active")
	}
}

func TestRunRotationAfterGraceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	if res := RunRotation(ctx, inputFor(r0), f.rotationDeps()); res.Failure != RotationFailureNone {
		t.Fatalf("rotation: %v", res.Failure)
	}
	f.clock.Advance(2 * time.Minute)
	res := RunRotation(ctx, inputFor(r0), f.rotationDeps())
	if res.Failure != RotationFailureRevoked || res.Detail != "revoked_outside_grace" {
		t.Fatalf("expected revoked outside grace, got %v (%s)", res.Failure, res.Detail)
	}
}

func TestRunRotationGraceChecksBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")
	other := f.login(t, "u1")

	if res := RunRotation(ctx, inputFor(r0), f.rotationDeps()); res.Failure != RotationFailureNone {
		t.Fatalf("rotation: %v", res.Failure)
	}
	in := inputFor(r0)
	in.DeviceID = other.DeviceID
	res := RunRotation(ctx, in, f.rotationDeps())
	if res.Failure != RotationFailureDeviceMismatch {
		t.Fatalf("expected device mismatch, got %v", res.Failure)
	}
	// The failed attempt must not spend the window.
	if res := RunRotation(ctx, inputFor(r0), f.rotationDeps()); res.Failure != RotationFailureNone {
		t.Fatalf("grace must still be available: %v %s", res.Failure, res.Detail)
	}
}

func TestRunRotationRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	cases := map[string]RotationInput{
		"missing":       {UserID: "u1", DeviceID: r0.DeviceID},
		"garbage":       {UserID: "u1", DeviceID: r0.DeviceID, RefreshToken: "not-a-jwt"},
		"user mismatch": {UserID: "u2", DeviceID: r0.DeviceID, RefreshToken: r0.Token},
	}
	for name, in := range cases {
		if res := RunRotation(ctx, in, f.rotationDeps()); res.Failure != RotationFailureInvalidToken {
			t.Fatalf("%s: expected invalid token, got %v", name, res.Failure)
		}
	}

	// A valid signature for a token the store never saw.
	unknown, _, err := f.tokens.SignRefresh("u1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res := RunRotation(ctx, RotationInput{UserID: "u1", DeviceID: r0.DeviceID, RefreshToken: unknown}, f.rotationDeps())
	if res.Failure != RotationFailureInvalidToken {
		t.Fatalf("unknown token: expected invalid token, got %v", res.Failure)
	}
}

func TestRunRotationExplicitRevocationHasNoGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	res := RunLogout(ctx, LogoutInput{UserID: "u1", DeviceID: r0.DeviceID, RefreshToken: r0.Token}, store.ReasonLogout, LogoutDeps{Records: f.records})
	if res.Err != nil || res.RecordID != r0.ID || len(res.Revoked) != 1 {
		t.Fatalf("logout: %+v", res)
	}
	if rot := RunRotation(ctx, inputFor(r0), f.rotationDeps()); rot.Failure != RotationFailureRevoked {
		t.Fatalf("logged out token must be revoked, got %v", rot.Failure)
	}
}

func TestRunRotationSignFailureRevokesSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	deps := f.rotationDeps()
	deps.SignAccess = func(string, string) (string, time.Time, error) {
		return "", time.Time{}, errors.New("signer down")
	}
	res := RunRotation(ctx, inputFor(r0), deps)
	if res.Failure != RotationFailureInternal {
		t.Fatalf("expected internal failure, got %v", res.Failure)
	}
	if active, _ := f.records.ListActive(ctx, "u1"); len(active) != 0 {
		t.Fatalf("expected no orphaned successor, got %d", len(active))
	}
}

// revokeFails makes every revocation fail while the rest of the store works.
type revokeFails struct {
	RecordStore
}

func (revokeFails) Revoke(context.Context, store.Scope, store.Reason) ([]store.RevokedRecord, error) {
	return nil, store.ErrBackendUnavailable
}

func TestRunRotationReportsFailedCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	signErr := errors.New("signer down")
	deps := f.rotationDeps()
	deps.Records = revokeFails{f.records}
	deps.SignAccess = func(string, string) (string, time.Time, error) {
		return "", time.Time{}, signErr
	}
	res := RunRotation(ctx, inputFor(r0), deps)
	if res.Failure != RotationFailureInternal {
		t.Fatalf("expected internal failure, got %v", res.Failure)
	}
	if !errors.Is(res.Err, signErr) || !errors.Is(res.Err, store.ErrBackendUnavailable) {
		t.Fatalf("error must carry both the sign and the cleanup failure, got %v", res.Err)
	}
}

func TestRunLoginReportsFailedCleanup(t *testing.T) {
	f := newFixture(t)
	signErr := errors.New("signer down")
	res := RunLogin(context.Background(), LoginInput{UserID: "u1"}, LoginDeps{
		Records: revokeFails{f.records},
		SignAccess: func(string, string) (string, time.Time, error) {
			return "", time.Time{}, signErr
		},
	})
	if res.Failure != LoginFailureInternal {
		t.Fatalf("expected internal failure, got %v", res.Failure)
	}
	if !errors.Is(res.Err, signErr) || !errors.Is(res.Err, store.ErrBackendUnavailable) {
		t.Fatalf("error must carry both the sign and the cleanup failure, got %v", res.Err)
	}
}

func TestRunLoginSingleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deps := LoginDeps{Records: f.records, SignAccess: f.tokens.SignAccess, SingleSession: true}

	first := RunLogin(ctx, LoginInput{UserID: "u1"}, deps)
	if first.Failure != LoginFailureNone {
		t.Fatalf("first login: %v", first.Err)
	}
	second := RunLogin(ctx, LoginInput{UserID: "u1"}, deps)
	if second.Failure != LoginFailureNone {
		t.Fatalf("second login: %v", second.Err)
	}
	if len(second.Replaced) != 1 || second.Replaced[0].Reason != store.ReasonSingleSessionPolicy {
		t.Fatalf("expected first record replaced, got %+v", second.Replaced)
	}
	active, _ := f.records.ListActive(ctx, "u1")
	if len(active) != 1 || active[0].ID != second.Record.ID {
		t.Fatalf("expected only the second record active, got %+v", active)
	}

	if res := RunLogin(ctx, LoginInput{UserID: " "}, deps); res.Failure != LoginFailureInvalidInput {
		t.Fatalf("expected invalid input, got %v", res.Failure)
	}
}

func TestRunPasswordCheck(t *testing.T) {
	users := map[string]LoginUserRecord{
		"a@example.com": {UserID: "u1", PasswordHash: "hash:pw", Active: true},
		"b@example.com": {UserID: "u2", PasswordHash: "hash:pw", Active: false},
	}
	var dummyChecks int
	deps := PasswordLoginDeps{
		FindByEmail: func(_ context.Context, email string) (LoginUserRecord, bool, error) {
			if email == "err@example.com" {
				return LoginUserRecord{}, false, errors.New("db down")
			}
			u, ok := users[email]
			return u, ok, nil
		},
		VerifyPassword: func(hash, plaintext string) (bool, error) {
			if hash == "dummy" {
				dummyChecks++
			}
			return hash == "hash:"+plaintext, nil
		},
		DummyHash: "dummy",
	}
	ctx := context.Background()

	if res := RunPasswordCheck(ctx, "a@example.com", "pw", deps); res.Failure != LoginFailureNone || res.UserID != "u1" {
		t.Fatalf("expected success, got %+v", res)
	}
	if res := RunPasswordCheck(ctx, "a@example.com", "nope", deps); res.Failure != LoginFailureInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", res.Failure)
	}
	if res := RunPasswordCheck(ctx, "b@example.com", "pw", deps); res.Failure != LoginFailureInactive {
		t.Fatalf("expected inactive, got %v", res.Failure)
	}
	if res := RunPasswordCheck(ctx, "c@example.com", "pw", deps); res.Failure != LoginFailureInvalidCredentials || dummyChecks != 1 {
		t.Fatalf("expected invalid credentials with dummy check, got %v (%d)", res.Failure, dummyChecks)
	}
	if res := RunPasswordCheck(ctx, "err@example.com", "pw", deps); res.Failure != LoginFailureInternal {
		t.Fatalf("expected internal failure, got %v", res.Failure)
	}
	if res := RunPasswordCheck(ctx, "", "pw", deps); res.Failure != LoginFailureInvalidCredentials {
		t.Fatalf("expected invalid credentials for empty email, got %v", res.Failure)
	}
}

func TestRunLogoutIgnoresUnresolvableCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r0 := f.login(t, "u1")

	res := RunLogout(ctx, LogoutInput{UserID: "u1", DeviceID: "someone-else", RefreshToken: r0.Token}, store.ReasonForcedLogout, LogoutDeps{Records: f.records})
	if res.Err != nil || res.RecordID != "" {
		t.Fatalf("expected nothing revoked, got %+v", res)
	}
	if found, _ := f.records.FindActive(ctx, "u1", r0.DeviceID, r0.Token); found == nil {
		t.Fatal("R0 must remain active")
	}
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("an-http-cookie-secret-of-32-bytes!!")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type users map[string]goSession.User

func (u users) FindByEmail(_ context.Context, email string) (goSession.User, error) {
	for _, user := range u {
		if user.Email == email {
			return user, nil
		}
	}
	return goSession.User{}, goSession.ErrUserNotFound
}

func (u users) FindByID(_ context.Context, id string) (goSession.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return goSession.User{}, goSession.ErrUserNotFound
}

type fixture struct {
	engine    *goSession.Engine
	transport *Transport
	codec     *CookieCodec
	clock     *clock
	redis     *miniredis.Miniredis
	cfg       goSession.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := goSession.DefaultConfig()
	cfg.Device.Secret = []byte("0123456789abcdef0123456789abcdef")
	clk := &clock{now: time.Now()}

	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithClock(clk.Now).
		WithUserProvider(users{
			"u-admin":  {ID: "u-admin", Role: "admin", Active: true},
			"u-member": {ID: "u-member", Role: "member", Active: true},
		}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	codec, err := NewCookieCodec(testSecret)
	require.NoError(t, err)
	return &fixture{
		engine: engine,
		transport: &Transport{
			Cookies:  codec,
			Sessions: NewSessionStore(client, SessionOptions{TTL: cfg.JWT.RefreshTTL}),
		},
		codec: codec,
		clock: clk,
		redis: mr,
		cfg:   cfg,
	}
}

// loginHandler issues a session for the user named in the query string.
func (f *fixture) loginHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, err := f.transport.Begin(w, r)
		require.NoError(t, err)
		res, err := f.engine.Login(r.Context(), r.URL.Query().Get("user"), x.Request.IP, x.Request.UserAgent)
		require.NoError(t, err)
		x.Session.Renew()
		_, err = f.engine.WriteCredentials(x.Request, res)
		require.NoError(t, err)
		require.NoError(t, x.Commit(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

type whoami struct {
	UserID  string `json:"user_id"`
	Rotated bool   `json:"rotated"`
}

func whoamiHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := goSession.AuthContextFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_ = json.NewEncoder(w).Encode(whoami{UserID: ac.UserID(), Rotated: ac.Rotated()})
	})
}

// browser keeps cookies between requests the way a user agent would.
type browser struct {
	cookies map[string]string
}

func newBrowser() *browser { return &browser{cookies: map[string]string{}} }

func (b *browser) do(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "198.51.100.9:52311"
	req.Header.Set("User-Agent", "browser-test")
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return rec
}

func httpSessionKeys(mr *miniredis.Miniredis) []string {
	var out []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "gs:http:") {
			out = append(out, k)
		}
	}
	return out
}

func TestNewCookieCodecRejectsShortSecret(t *testing.T) {
	_, err := NewCookieCodec([]byte("short"))
	require.ErrorIs(t, err, ErrWeakCookieSecret)
}

func TestCookieCodecSignatures(t *testing.T) {
	codec, err := NewCookieCodec(testSecret)
	require.NoError(t, err)
	other, err := NewCookieCodec([]byte("another-http-cookie-secret-32-bytes"))
	require.NoError(t, err)

	raw := codec.Encode("userId", "u1")
	got, ok := codec.Decode("userId", raw)
	require.True(t, ok)
	assert.Equal(t, "u1", got)

	_, ok = codec.Decode("deviceId", raw)
	assert.False(t, ok, "signature must be bound to the cookie name")
	_, ok = other.Decode("userId", raw)
	assert.False(t, ok, "other secret must not verify")

	payload, sig, _ := strings.Cut(raw, ".")
	forged := codec.Encode("userId", "u2")
	forgedPayload, _, _ := strings.Cut(forged, ".")
	_, ok = codec.Decode("userId", forgedPayload+"."+sig)
	assert.False(t, ok, "payload swap must not verify")
	_, ok = codec.Decode("userId", payload)
	assert.False(t, ok, "unsigned value must not verify")
}

func TestJarObservesWritesInSameRequest(t *testing.T) {
	codec, err := NewCookieCodec(testSecret)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "old", Value: codec.Encode("old", "v0")})
	rec := httptest.NewRecorder()
	jar := codec.Jar(rec, req)

	v, ok := jar.Get("old")
	require.True(t, ok)
	assert.Equal(t, "v0", v)

	jar.SetSigned("fresh", "v1", goSession.CookieOptions{
		MaxAge:   90 * time.Second,
		HTTPOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/app",
	})
	v, ok = jar.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	jar.Clear("old")
	_, ok = jar.Get("old")
	assert.False(t, ok)
	jar.Clear("never-set")

	byName := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		byName[c.Name] = c
	}
	require.Len(t, byName, 2)
	fresh := byName["fresh"]
	assert.Equal(t, 90, fresh.MaxAge)
	assert.True(t, fresh.HttpOnly)
	assert.True(t, fresh.Secure)
	assert.Equal(t, http.SameSiteStrictMode, fresh.SameSite)
	assert.Equal(t, "/app", fresh.Path)
	assert.Less(t, byName["old"].MaxAge, 0)
}

func TestSessionStoreLifecycle(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	ctx := context.Background()

	write := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, err := f.transport.Begin(w, r)
		require.NoError(t, err)
		x.Session.Set("k", r.URL.Query().Get("v"))
		require.NoError(t, x.Commit(ctx))
	})
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, err := f.transport.Begin(w, r)
		require.NoError(t, err)
		v, _ := x.Session.Get("k")
		_, _ = w.Write([]byte(v))
	})
	drop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x, err := f.transport.Begin(w, r)
		require.NoError(t, err)
		x.Session.Delete("k")
		require.NoError(t, x.Commit(ctx))
	})

	b.do(write, "/?v=one")
	require.Contains(t, b.cookies, "sid")
	keys := httpSessionKeys(f.redis)
	require.Len(t, keys, 1)
	assert.Equal(t, f.cfg.JWT.RefreshTTL, f.redis.TTL(keys[0]))

	assert.Equal(t, "one", b.do(read, "/").Body.String())
	b.do(write, "/?v=two")
	assert.Equal(t, "two", b.do(read, "/").Body.String())
	assert.Len(t, httpSessionKeys(f.redis), 1, "updates keep the session id")

	b.do(drop, "/")
	assert.Empty(t, httpSessionKeys(f.redis))
	assert.NotContains(t, b.cookies, "sid")
}

func TestSessionRenewReplacesID(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	b.do(f.loginHandler(t), "/login?user=u-member")
	first := b.cookies["sid"]
	require.NotEmpty(t, first)

	b.do(f.loginHandler(t), "/login?user=u-member")
	assert.NotEqual(t, first, b.cookies["sid"])
	assert.Len(t, httpSessionKeys(f.redis), 1, "old session entry must be removed")
}

func TestForgedSessionCookieStartsEmptySession(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	b.do(f.loginHandler(t), "/login?user=u-member")
	b.cookies["sid"] = "not-a-signed-value"

	rec := b.do(Guard(f.engine, f.transport)(whoamiHandler()), "/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuardAuthenticatesAndRotates(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	protected := Guard(f.engine, f.transport)(whoamiHandler())

	b.do(f.loginHandler(t), "/login?user=u-member")
	for _, name := range f.cfg.Credentials.Names() {
		require.Contains(t, b.cookies, name)
	}
	refreshBefore := b.cookies[f.cfg.Credentials.RefreshTokenKey]

	rec := b.do(protected, "/me")
	require.Equal(t, http.StatusOK, rec.Code)
	var got whoami
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, whoami{UserID: "u-member"}, got)

	f.clock.Advance(f.cfg.JWT.AccessTTL + time.Second)
	rec = b.do(protected, "/me")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, whoami{UserID: "u-member", Rotated: true}, got)
	assert.NotEqual(t, refreshBefore, b.cookies[f.cfg.Credentials.RefreshTokenKey])

	rec = b.do(protected, "/me")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.False(t, got.Rotated, "rotated credentials must be persisted in both channels")

	units, err := f.engine.ListActiveUnits(context.Background(), "u-member")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "198.51.100.9", units[0].IPAddress)
	assert.Equal(t, "browser-test", units[0].UserAgent)
}

func TestGuardRejectsTamperedCookie(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	protected := Guard(f.engine, f.transport)(whoamiHandler())
	b.do(f.loginHandler(t), "/login?user=u-member")

	userKey := f.cfg.Credentials.UserIDKey
	b.cookies[userKey] = f.codec.Encode(userKey, "u-admin")

	rec := b.do(protected, "/me")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, goSession.ErrForcedLogout.Error(), body["error"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	assert.Empty(t, b.cookies, "every credential cookie and the session cookie must be cleared")
	assert.Empty(t, httpSessionKeys(f.redis))
}

func TestGuardWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	rec := newBrowser().do(Guard(f.engine, f.transport)(whoamiHandler()), "/me")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), goSession.ErrNotAuthenticated.Error())
}

func TestGuardSessionBackendFailure(t *testing.T) {
	f := newFixture(t)
	b := newBrowser()
	b.do(f.loginHandler(t), "/login?user=u-member")

	f.redis.SetError("READONLY unavailable")
	rec := b.do(Guard(f.engine, f.transport)(whoamiHandler()), "/me")
	f.redis.SetError("")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "READONLY")
}

func TestRequireRole(t *testing.T) {
	f := newFixture(t)
	h := Guard(f.engine, f.transport)(RequireRole(f.engine, "admin")(whoamiHandler()))

	admin := newBrowser()
	admin.do(f.loginHandler(t), "/login?user=u-admin")
	assert.Equal(t, http.StatusOK, admin.do(h, "/admin").Code)

	member := newBrowser()
	member.do(f.loginHandler(t), "/login?user=u-member")
	rec := member.do(h, "/admin")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEmpty(t, member.cookies, "a failed role check must not end the session")

	bare := RequireRole(f.engine, "admin")(whoamiHandler())
	assert.Equal(t, http.StatusUnauthorized, newBrowser().do(bare, "/admin").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{goSession.ErrNotAuthenticated, http.StatusUnauthorized},
		{goSession.ErrRevoked, http.StatusUnauthorized},
		{goSession.ErrSessionIntegrityViolation, http.StatusUnauthorized},
		{goSession.ErrInvalidCredentials, http.StatusUnauthorized},
		{goSession.ErrUnauthorized, http.StatusForbidden},
		{goSession.ErrInternalFailure, http.StatusInternalServerError},
		{goSession.ErrEngineNotReady, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFor(tc.err), "%v", tc.err)
	}
}

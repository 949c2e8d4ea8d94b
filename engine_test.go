package goSession

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memJar stands in for a signed-cookie jar whose signatures always verify.
type memJar struct {
	mu      sync.Mutex
	values  map[string]string
	options map[string]CookieOptions
}

func newMemJar() *memJar {
	return &memJar{values: map[string]string{}, options: map[string]CookieOptions{}}
}

func (j *memJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.values[name]
	return v, ok
}

func (j *memJar) SetSigned(name, value string, opts CookieOptions) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[name] = value
	j.options[name] = opts
}

func (j *memJar) Clear(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.values, name)
	delete(j.options, name)
}

func (j *memJar) set(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[name] = value
}

func (j *memJar) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.values)
}

type memSession struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSession() *memSession {
	return &memSession{values: map[string]string{}}
}

func (s *memSession) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *memSession) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *memSession) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *memSession) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func newRequest() Request {
	return Request{Cookies: newMemJar(), Session: newMemSession(), IP: "203.0.113.7", UserAgent: "test-agent"}
}

// replay returns a new request carrying a copy of req's cookies and session,
// as if the same client sent them again on another connection.
func replay(req Request) Request {
	jar := req.Cookies.(*memJar)
	sess := req.Session.(*memSession)
	out := newRequest()
	jar.mu.Lock()
	maps.Copy(out.Cookies.(*memJar).values, jar.values)
	jar.mu.Unlock()
	sess.mu.Lock()
	maps.Copy(out.Session.(*memSession).values, sess.values)
	sess.mu.Unlock()
	return out
}

func jarOf(req Request) *memJar         { return req.Cookies.(*memJar) }
func sessionOf(req Request) *memSession { return req.Session.(*memSession) }

type testEnv struct {
	engine *Engine
	clock  *testClock
	redis  *miniredis.Miniredis
	audit  *ChannelSink
}

type envOption func(*Config, *Builder)

func withConfig(fn func(*Config)) envOption {
	return func(cfg *Config, _ *Builder) { fn(cfg) }
}

func withUsers(users *memUsers) envOption {
	return func(_ *Config, b *Builder) { b.WithUserProvider(users) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Now()}
	sink := NewChannelSink(256)
	hasher, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("argon2: %v", err)
	}

	cfg := validTestConfig()
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256

	b := New().WithRedis(client).WithClock(clock.Now).WithAuditSink(sink).WithPasswordHasher(hasher)
	for _, opt := range opts {
		opt(&cfg, b)
	}
	e, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(e.Close)
	return &testEnv{engine: e, clock: clock, redis: mr, audit: sink}
}

// login issues a session for userID and returns a request carrying it.
func (env *testEnv) login(t *testing.T, userID string) (Request, *LoginResult) {
	t.Helper()
	res, err := env.engine.Login(context.Background(), userID, "203.0.113.7", "test-agent")
	if err != nil {
		t.Fatalf("Login(%s): %v", userID, err)
	}
	req := newRequest()
	if _, err := env.engine.WriteCredentials(req, res); err != nil {
		t.Fatalf("WriteCredentials: %v", err)
	}
	return req, res
}

func (env *testEnv) expireAccess() {
	env.clock.Advance(env.engine.config.JWT.AccessTTL + time.Second)
}

func (env *testEnv) activeIDs(t *testing.T, userID string) []string {
	t.Helper()
	units, err := env.engine.ListActiveUnits(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListActiveUnits: %v", err)
	}
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	return ids
}

func credentialNames(e *Engine) []string {
	return e.config.Credentials.Names()
}

type memUsers struct {
	byEmail map[string]User
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func TestBuildRequiresBackend(t *testing.T) {
	if _, err := New().WithConfig(validTestConfig()).Build(); !errors.Is(err, ErrMissingBackend) {
		t.Fatalf("expected ErrMissingBackend, got %v", err)
	}
}

func TestBuildRejectsClusterClientForRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cluster := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	defer cluster.Close()

	_, err := New().WithConfig(validTestConfig()).WithRedis(cluster).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for cluster client, got %v", err)
	}

	node := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer node.Close()
	e, err := New().
		WithConfig(validTestConfig()).
		WithRedis(cluster).
		WithBackend(store.NewRedisBackend(node, "gs", nil)).
		Build()
	if err != nil {
		t.Fatalf("cluster client with explicit backend: %v", err)
	}
	e.Close()
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := New().WithConfig(validTestConfig()).WithRedis(client)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := validTestConfig()
	cfg.Device.Secret = []byte("short")
	_, err := New().WithConfig(cfg).WithRedis(client).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Authenticate(context.Background(), newRequest()); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := e.RevokeOne(context.Background(), "x"); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

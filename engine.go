package goSession

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/device"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/lock"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/revocation"
	"github.com/MrEthical07/goSession/store"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs the session lifecycle: login, per-request authentication with
// refresh rotation, logout and revocation.
//
// Engine is safe for concurrent use. Build one with [New].
//
//	Docs: docs/engine.md
type Engine struct {
	config Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	keys     *jwt.KeyStore
	tokens   *jwt.Manager
	binder   *device.Binder
	backend  store.Backend
	registry *revocation.Registry
	records  *refresh.Store
	locker   lock.Locker
	flowDeps flows.Deps

	userProvider UserProvider
	hasher       PasswordHasher
	// dummyHash is verified against for unknown emails so both paths cost
	// one hash evaluation.
	dummyHash string

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes pending audit events. The backend and Redis client are owned
// by the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed returns the number of audit events whose sink panicked.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot returns a copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// PublicKeyPEM exports the token verification key so other services can
// verify access tokens.
func (e *Engine) PublicKeyPEM() ([]byte, error) {
	if e == nil || e.keys == nil {
		return nil, ErrEngineNotReady
	}
	return e.keys.PublicKeyPEM()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil && e.records != nil && e.tokens != nil
}

func (e *Engine) cookieOptions(maxAge time.Duration) CookieOptions {
	return CookieOptions{
		MaxAge:   maxAge,
		HTTPOnly: true,
		Secure:   e.config.Cookie.Secure,
		SameSite: e.config.Cookie.SameSite,
		Path:     e.config.Cookie.Path,
		Domain:   e.config.Cookie.Domain,
	}
}

func requestMeta(ctx context.Context, req Request) (ip, userAgent string) {
	ip, userAgent = req.IP, req.UserAgent
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	return ip, userAgent
}

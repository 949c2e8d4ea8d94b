package goSession

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/device"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/lock"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/revocation"
	"github.com/MrEthical07/goSession/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/MrEthical07/goSession"

// Builder assembles an [Engine]. A Builder can build exactly one Engine.
//
//	Docs: docs/engine.md
type Builder struct {
	config  Config
	redis   redis.UniversalClient
	backend store.Backend
	keys    *jwt.KeyStore

	userProvider UserProvider
	hasher       PasswordHasher
	auditSink    AuditSink
	locker       lock.Locker

	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used for the refresh store backend and, when
// Lock.Distributed is set, for the rotation lock lease.
//
// The Redis refresh store runs multi-key scripts and needs a single primary:
// pass a *redis.Client from NewClient or NewFailoverClient. A cluster client is
// accepted only together with WithBackend, where it serves the lock alone.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend sets the refresh store backend explicitly, e.g. the Postgres
// backend. It takes precedence over the Redis backend.
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithKeyStore sets the signing keys directly instead of reading them from
// Config.JWT.
func (b *Builder) WithKeyStore(keys *jwt.KeyStore) *Builder {
	b.keys = keys
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithPasswordHasher overrides the Argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLocker overrides the rotation lock built from Config.Lock.
func (b *Builder) WithLocker(l lock.Locker) *Builder {
	b.locker = l
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock replaces time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, wires every component and returns a
// ready Engine. It fails when the configuration is invalid, when no backend
// is available or when key material cannot be loaded.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if b.redis == nil && b.backend == nil {
		return nil, ErrMissingBackend
	}
	if cfg.Lock.Distributed && b.locker == nil && b.redis == nil {
		return nil, fmt.Errorf("%w: distributed lock requires redis client", ErrInvalidConfig)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	// -------- TOKENS --------
	keys, err := b.keyStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		Now:        now,
	}, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	binder, err := device.NewBinder(cfg.Device.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- STORE --------
	backend := b.backend
	if backend == nil {
		node, ok := b.redis.(*redis.Client)
		if !ok {
			return nil, fmt.Errorf("%w: redis refresh store needs a single-primary *redis.Client, got %T; use WithBackend for clustered deployments", ErrInvalidConfig, b.redis)
		}
		backend = store.NewRedisBackend(node, cfg.Store.RedisPrefix, now)
	}
	registry, err := revocation.NewRegistry(backend, cfg.Revocation.GracePeriod, now)
	if err != nil {
		return nil, err
	}
	records, err := refresh.NewStore(backend, tokens, binder, registry, now)
	if err != nil {
		return nil, err
	}

	// -------- LOCK --------
	locker := b.locker
	if locker == nil {
		lockCfg := lock.Config{
			OperationTimeout: cfg.Lock.OperationTimeout,
			LeaseTTL:         cfg.Lock.LeaseTTL,
			RetryInterval:    cfg.Lock.RetryInterval,
			AcquireTimeout:   cfg.Lock.AcquireTimeout,
		}
		if cfg.Lock.Distributed {
			locker, err = lock.NewRedis(b.redis, cfg.Lock.Prefix, lockCfg)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		} else {
			locker = lock.NewLocal(lockCfg)
		}
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		hasher = ph
	}
	var dummyHash string
	if b.userProvider != nil {
		dummyHash, err = hasher.Hash(store.NewRecordID() + store.NewRecordID())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		tracer:       tp.Tracer(tracerName),
		now:          now,
		keys:         keys,
		tokens:       tokens,
		binder:       binder,
		backend:      backend,
		registry:     registry,
		records:      records,
		locker:       locker,
		userProvider: b.userProvider,
		hasher:       hasher,
		dummyHash:    dummyHash,
		metrics:      NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}
	engine.flowDeps = engine.buildFlowDeps()

	b.built = true

	logger.Info("session engine ready",
		slog.String("signing_method", string(keys.Method())),
		slog.String("backend", backendName(backend)),
		slog.String("policy", cfg.Policy.ActiveTokens.String()),
		slog.Bool("distributed_lock", cfg.Lock.Distributed),
		slog.Duration("grace_period", registry.GracePeriod()),
	)

	return engine, nil
}

func (b *Builder) keyStore(cfg Config, logger *slog.Logger) (*jwt.KeyStore, error) {
	if b.keys != nil {
		if !b.keys.CanSign() {
			return nil, fmt.Errorf("%w: key store cannot sign", ErrInvalidConfig)
		}
		return b.keys, nil
	}

	method := jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod))
	if len(cfg.JWT.PrivateKey) == 0 {
		logger.Warn("no signing key configured, generating an ephemeral key pair",
			slog.String("signing_method", string(method)))
		keys, err := jwt.GenerateKeyStore(method, cfg.JWT.KeyID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return keys, nil
	}

	keys, err := jwt.NewKeyStore(method, cfg.JWT.PrivateKey, cfg.JWT.PublicKey, cfg.JWT.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return keys, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		Rotation: flows.RotationDeps{
			VerifyRefresh: func(token string) (string, bool) {
				claims := e.tokens.VerifyRefresh(token)
				if claims == nil {
					return "", false
				}
				return claims.UserID, true
			},
			SignAccess: e.tokens.SignAccess,
			Records:    e.records,
			Registry:   e.registry,
			Devices:    e.binder,
		},
		Login: flows.LoginDeps{
			Records:       e.records,
			SignAccess:    e.tokens.SignAccess,
			SingleSession: e.config.Policy.ActiveTokens == PerUser,
		},
		Logout: flows.LogoutDeps{
			Records: e.records,
		},
	}
}

func backendName(b store.Backend) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	if _, ok := b.(*store.RedisBackend); ok {
		return "redis"
	}
	return "custom"
}

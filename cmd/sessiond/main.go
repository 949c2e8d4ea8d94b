// Command sessiond serves the session engine over HTTP with signed cookies
// and a Redis-backed server-side session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/envconfig"
	"github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	cron "github.com/robfig/cron/v3"
)

func main() {
	envFile := flag.String("env", "", "path to an env file (default .env)")
	hashPassword := flag.String("hash-password", "", "print an Argon2id hash for a USERS_FILE entry and exit")
	flag.Parse()

	if *hashPassword != "" {
		pc := goSession.DefaultConfig().Password
		h, err := password.NewArgon2(password.Config{
			Memory:      pc.Memory,
			Time:        pc.Time,
			Parallelism: pc.Parallelism,
			SaltLength:  pc.SaltLength,
			KeyLength:   pc.KeyLength,
		})
		if err == nil {
			var hash string
			if hash, err = h.Hash(*hashPassword); err == nil {
				fmt.Println(hash)
				return
			}
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := envconfig.Load(envFile)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	builder := goSession.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithLogger(logger).
		WithAuditSink(goSession.NewSlogSink(logger.With(slog.String("component", "audit"))))

	if cfg.UsersFile != "" {
		users, err := loadUsers(cfg.UsersFile)
		if err != nil {
			return err
		}
		builder.WithUserProvider(users)
	}

	if cfg.StoreBackend == "postgres" {
		pool, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		backend := postgres.New(pool, nil)
		builder.WithBackend(backend)

		sweeper, err := scheduleSweep(cfg.SweepSchedule, backend, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() { <-sweeper.Stop().Done() }()

		redisPing := ping
		ping = func(ctx context.Context) error {
			if err := redisPing(ctx); err != nil {
				return err
			}
			return pool.Ping(ctx)
		}
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	codec, err := middleware.NewCookieCodec([]byte(cfg.CookieSecret))
	if err != nil {
		return err
	}
	codec.Path = engineCfg.Cookie.Path
	codec.Domain = engineCfg.Cookie.Domain
	transport := &middleware.Transport{
		Cookies: codec,
		Sessions: middleware.NewSessionStore(client, middleware.SessionOptions{
			TTL: engineCfg.JWT.RefreshTTL,
			Cookie: goSession.CookieOptions{
				HTTPOnly: true,
				Secure:   engineCfg.Cookie.Secure,
				SameSite: engineCfg.Cookie.SameSite,
				Path:     engineCfg.Cookie.Path,
				Domain:   engineCfg.Cookie.Domain,
			},
		}),
		Logger: logger,
	}

	srv := &server{engine: engine, transport: transport, ping: ping, logger: logger}
	if cfg.MetricsEnabled {
		srv.metrics = prometheus.Handler(prometheus.NewCollector(engine))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sessiond listening", slog.String("addr", cfg.HTTPAddr), slog.String("backend", cfg.StoreBackend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if err := postgres.Migrate(databaseURL); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// scheduleSweep deletes expired refresh records and revocation entries on
// schedule. Redis expires its keys natively and needs no sweeper.
func scheduleSweep(schedule string, backend *postgres.Backend, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		res, err := backend.Sweep(ctx)
		if err != nil {
			logger.Error("sweep failed", slog.Any("error", err))
			return
		}
		logger.Info("sweep finished",
			slog.Int64("records", res.Records),
			slog.Int64("revoked", res.Revoked),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	return c, nil
}

// Package envconfig loads binary configuration from the environment and an
// optional .env file using Viper.
package envconfig

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/spf13/viper"
)

// Config is the flat environment view of a sessiond deployment.
type Config struct {
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// StoreBackend is "redis" or "postgres". Postgres needs DATABASE_URL.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	// SweepSchedule is a cron expression for deleting expired Postgres rows.
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`

	DeviceSecret string `mapstructure:"DEVICE_SECRET"`
	CookieSecret string `mapstructure:"COOKIE_SECRET"`

	JWTSigningMethod  string        `mapstructure:"JWT_SIGNING_METHOD"`
	JWTPrivateKeyFile string        `mapstructure:"JWT_PRIVATE_KEY_FILE"`
	JWTPublicKeyFile  string        `mapstructure:"JWT_PUBLIC_KEY_FILE"`
	JWTKeyID          string        `mapstructure:"JWT_KEY_ID"`
	JWTIssuer         string        `mapstructure:"JWT_ISSUER"`
	JWTAudience       string        `mapstructure:"JWT_AUDIENCE"`
	AccessTTL         time.Duration `mapstructure:"ACCESS_TTL"`
	RefreshTTL        time.Duration `mapstructure:"REFRESH_TTL"`
	GracePeriod       time.Duration `mapstructure:"GRACE_PERIOD"`

	ActiveTokenPolicy string `mapstructure:"ACTIVE_TOKEN_POLICY"`
	DistributedLock   bool   `mapstructure:"DISTRIBUTED_LOCK"`

	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`
	CookieSameSite string `mapstructure:"COOKIE_SAMESITE"`
	CookieDomain   string `mapstructure:"COOKIE_DOMAIN"`

	// UsersFile is a JSON array of accounts for password login. Empty
	// disables POST /v1/login.
	UsersFile string `mapstructure:"USERS_FILE"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
}

// Load reads envFile when it exists, then the environment, which wins.
// An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing file is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STORE_BACKEND", "redis")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SWEEP_SCHEDULE", "@every 10m")
	v.SetDefault("DEVICE_SECRET", "")
	v.SetDefault("COOKIE_SECRET", "")
	v.SetDefault("JWT_SIGNING_METHOD", "ed25519")
	v.SetDefault("JWT_PRIVATE_KEY_FILE", "")
	v.SetDefault("JWT_PUBLIC_KEY_FILE", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ISSUER", "gosession")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "720h")
	v.SetDefault("GRACE_PERIOD", "60s")
	v.SetDefault("ACTIVE_TOKEN_POLICY", "per_device")
	v.SetDefault("DISTRIBUTED_LOCK", false)
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAMESITE", "lax")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("USERS_FILE", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("AUDIT_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.DeviceSecret) < 32 {
		return errors.New("config: DEVICE_SECRET must be at least 32 bytes")
	}
	if len(c.CookieSecret) < 32 {
		return errors.New("config: COOKIE_SECRET must be at least 32 bytes")
	}
	switch c.StoreBackend {
	case "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: STORE_BACKEND must be redis or postgres, got %q", c.StoreBackend)
	}
	if (c.JWTPrivateKeyFile == "") != (c.JWTPublicKeyFile == "") {
		return errors.New("config: JWT_PRIVATE_KEY_FILE and JWT_PUBLIC_KEY_FILE must be set together")
	}
	if _, err := goSession.ParseActiveTokenPolicy(c.ActiveTokenPolicy); err != nil {
		return fmt.Errorf("config: ACTIVE_TOKEN_POLICY: %w", err)
	}
	if _, ok := parseSameSite(c.CookieSameSite); !ok {
		return fmt.Errorf("config: COOKIE_SAMESITE must be lax, strict or none, got %q", c.CookieSameSite)
	}
	return nil
}

// EngineConfig maps the environment onto the engine configuration. Key
// files are read here; the result is validated by Builder.Build.
func (c *Config) EngineConfig() (goSession.Config, error) {
	cfg := goSession.DefaultConfig()
	cfg.JWT.SigningMethod = c.JWTSigningMethod
	cfg.JWT.KeyID = c.JWTKeyID
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.RefreshTTL = c.RefreshTTL
	if c.JWTPrivateKeyFile != "" {
		priv, err := os.ReadFile(c.JWTPrivateKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("config: read private key: %w", err)
		}
		pub, err := os.ReadFile(c.JWTPublicKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("config: read public key: %w", err)
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	}

	cfg.Device.Secret = []byte(c.DeviceSecret)
	cfg.Revocation.GracePeriod = c.GracePeriod
	cfg.Lock.Distributed = c.DistributedLock

	policy, err := goSession.ParseActiveTokenPolicy(c.ActiveTokenPolicy)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Policy.ActiveTokens = policy

	sameSite, _ := parseSameSite(c.CookieSameSite)
	cfg.Cookie.Secure = c.CookieSecure
	cfg.Cookie.SameSite = sameSite
	cfg.Cookie.Domain = c.CookieDomain

	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Audit.Enabled = c.AuditEnabled
	return cfg, nil
}

// Logger builds a slog.Logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteDefaultMode, false
}

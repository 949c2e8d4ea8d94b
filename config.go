package goSession

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config defines a public type used by goSession APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT         JWTConfig
	Device      DeviceConfig
	Revocation  RevocationConfig
	Store       StoreConfig
	Lock        LockConfig
	Credentials CredentialsConfig
	Cookie      CookieConfig
	Policy      PolicyConfig
	Password    PasswordConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by goSession APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "rs256", "es256"
	// PrivateKey and PublicKey accept raw Ed25519 bytes or PEM. When both are
	// empty Build generates an ephemeral key pair.
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

/*
====================================
DEVICE CONFIG
====================================
*/

// DeviceConfig holds the device binding secret. The secret must be at least
// 32 bytes and must be shared by every instance serving the same users.
type DeviceConfig struct {
	Secret []byte
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig defines a public type used by goSession APIs.
//
// RevocationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RevocationConfig struct {
	// GracePeriod is how long a rotated-out refresh token may still be
	// presented once. Explicit revocations never get a grace period.
	GracePeriod time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

type StoreConfig struct {
	RedisPrefix string
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig defines a public type used by goSession APIs.
//
// LockConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockConfig struct {
	// Distributed adds a Redis lease on top of the in-process lock so that
	// instances sharing a Redis serialize rotations of the same user.
	Distributed      bool
	Prefix           string
	LeaseTTL         time.Duration
	RetryInterval    time.Duration
	AcquireTimeout   time.Duration
	OperationTimeout time.Duration
}

/*
====================================
CREDENTIALS AND COOKIES
====================================
*/

// CredentialsConfig names the five credential fields. The same names are used
// as cookie names and as session keys.
type CredentialsConfig struct {
	UserIDKey         string
	DeviceIDKey       string
	AccessTokenKey    string
	RefreshTokenKey   string
	RefreshTokenIDKey string
}

// Names returns the five field names in a fixed order.
func (c CredentialsConfig) Names() []string {
	return []string{c.UserIDKey, c.DeviceIDKey, c.AccessTokenKey, c.RefreshTokenKey, c.RefreshTokenIDKey}
}

// CookieConfig defines a public type used by goSession APIs.
//
// CookieConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Path     string
	Domain   string
}

/*
====================================
POLICY CONFIG
====================================
*/

// ActiveTokenPolicy decides how many refresh records a user may hold.
type ActiveTokenPolicy uint8

const (
	// PerDevice allows one active record per device binding. Each login
	// creates a new binding.
	PerDevice ActiveTokenPolicy = iota
	// PerUser allows a single active record per user. A login revokes every
	// other record of the user in the same atomic operation.
	PerUser
)

func (p ActiveTokenPolicy) String() string {
	switch p {
	case PerDevice:
		return "per_device"
	case PerUser:
		return "per_user"
	}
	return "unknown"
}

// ParseActiveTokenPolicy maps "per_device" and "per_user" to a policy.
func ParseActiveTokenPolicy(s string) (ActiveTokenPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_device", "device":
		return PerDevice, nil
	case "per_user", "user":
		return PerUser, nil
	}
	return PerDevice, errors.New("unknown active token policy: " + s)
}

type PolicyConfig struct {
	ActiveTokens ActiveTokenPolicy
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by goSession APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
AUDIT AND METRICS
====================================
*/

// AuditConfig defines a public type used by goSession APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by goSession APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration Build starts from. Device.Secret
// is empty and must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "gosession",
		},
		Revocation: RevocationConfig{
			GracePeriod: 60 * time.Second,
		},
		Store: StoreConfig{
			RedisPrefix: "gs",
		},
		Lock: LockConfig{
			Distributed:      false,
			Prefix:           "gs:lock",
			LeaseTTL:         10 * time.Second,
			RetryInterval:    25 * time.Millisecond,
			AcquireTimeout:   3 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Credentials: CredentialsConfig{
			UserIDKey:         "userId",
			DeviceIDKey:       "deviceId",
			AccessTokenKey:    "accessToken",
			RefreshTokenKey:   "refreshToken",
			RefreshTokenIDKey: "refreshTokenId",
		},
		Cookie: CookieConfig{
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
			Path:     "/",
		},
		Policy: PolicyConfig{
			ActiveTokens: PerDevice,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Device.Secret = cloneBytes(cfg.Device.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first violated constraint. It does not mutate c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519", "rs256", "es256":
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PublicKey) > 0 && len(c.JWT.PrivateKey) == 0 {
		// Verify-only engines cannot issue credentials.
		return errors.New("JWT PrivateKey required when PublicKey is set")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Device
	if len(c.Device.Secret) < 32 {
		return errors.New("Device Secret must be at least 32 bytes")
	}

	// Revocation
	if c.Revocation.GracePeriod < 0 {
		return errors.New("Revocation GracePeriod must be >= 0")
	}
	if c.Revocation.GracePeriod >= c.JWT.RefreshTTL {
		return errors.New("Revocation GracePeriod must be shorter than RefreshTTL")
	}

	// Store
	if strings.TrimSpace(c.Store.RedisPrefix) == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}

	// Lock
	if c.Lock.OperationTimeout <= 0 {
		return errors.New("Lock OperationTimeout must be > 0")
	}
	if c.Lock.Distributed {
		if c.Lock.LeaseTTL <= c.Lock.OperationTimeout {
			return errors.New("Lock LeaseTTL must exceed OperationTimeout")
		}
		if c.Lock.RetryInterval <= 0 {
			return errors.New("Lock RetryInterval must be > 0")
		}
		if c.Lock.AcquireTimeout <= 0 || c.Lock.AcquireTimeout > c.Lock.OperationTimeout {
			return errors.New("Lock AcquireTimeout must be in (0, OperationTimeout]")
		}
	}

	// Credentials
	seen := make(map[string]struct{}, 5)
	for _, name := range c.Credentials.Names() {
		if strings.TrimSpace(name) == "" {
			return errors.New("Credentials field names must not be empty")
		}
		if _, dup := seen[name]; dup {
			return errors.New("Credentials field names must be distinct")
		}
		seen[name] = struct{}{}
	}

	// Cookie
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}

	// Policy
	if c.Policy.ActiveTokens != PerDevice && c.Policy.ActiveTokens != PerUser {
		return errors.New("Policy ActiveTokens is invalid")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

package goSession

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

// LintWarning is one finding of Config.Lint.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return errors.New("config lint: " + strings.Join(parts, "; "))
}

// Lint reports settings that are valid but weaken the session posture.
// It never fails; use Validate for hard errors.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "JWT leeway above 30s extends expired access tokens")
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens are not checked against the store; a long TTL delays revocation")
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintInfo, "refresh tokens outlive 30 days")
	}
	if len(c.JWT.PrivateKey) == 0 {
		add("ephemeral_keys", LintWarn, "no signing key configured; tokens do not survive a restart")
	}
	if c.JWT.KeyID == "" {
		add("key_id_missing", LintInfo, "tokens carry no kid header; key rotation needs one")
	}
	if c.Revocation.GracePeriod > 2*time.Minute {
		add("grace_long", LintWarn, "a rotated-out refresh token stays usable for more than 2m")
	}
	if !c.Cookie.Secure {
		add("cookie_insecure", LintHigh, "credential cookies are sent over plain HTTP")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode {
		add("samesite_none", LintWarn, "credential cookies are sent on cross-site requests")
	}
	if !c.Lock.Distributed {
		add("lock_not_distributed", LintInfo, "rotation lock is process-local; concurrent rotations across instances rely on the store alone")
	}
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2 memory below 64 MB")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "forced logouts and revocations are not audited")
	}

	return ws
}

// HighSecurityConfig returns a preset with short token lifetimes, a short
// grace window, strict cookies, a distributed lock and audit enabled.
// Device.Secret and the signing keys must still be set.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.JWT.Leeway = 0
	cfg.Revocation.GracePeriod = 30 * time.Second
	cfg.Cookie.Secure = true
	cfg.Cookie.SameSite = http.SameSiteStrictMode
	cfg.Lock.Distributed = true
	cfg.Policy.ActiveTokens = PerDevice
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

package goSession

import (
	"net/http"
	"testing"
	"time"
)

func TestLint_DefaultConfigHasNoHighFindings(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("default config should not fail AsError(LintHigh): %v", err)
	}
}

func TestLint_HighSecurityConfigMinimalWarnings(t *testing.T) {
	cfg := HighSecurityConfig()
	codes := cfg.Lint().Codes()

	unwanted := []string{
		"leeway_large",
		"access_ttl_long",
		"refresh_ttl_long",
		"grace_long",
		"cookie_insecure",
		"samesite_none",
		"lock_not_distributed",
		"argon2_memory_low",
		"audit_disabled",
	}
	for _, code := range unwanted {
		if containsCode(codes, code) {
			t.Errorf("HighSecurityConfig should not produce warning %q", code)
		}
	}
}

func TestLint_Findings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"large leeway", func(c *Config) { c.JWT.Leeway = 90 * time.Second }, "leeway_large"},
		{"long access ttl", func(c *Config) { c.JWT.AccessTTL = time.Hour }, "access_ttl_long"},
		{"long refresh ttl", func(c *Config) { c.JWT.RefreshTTL = 90 * 24 * time.Hour }, "refresh_ttl_long"},
		{"long grace", func(c *Config) { c.Revocation.GracePeriod = 5 * time.Minute }, "grace_long"},
		{"insecure cookie", func(c *Config) { c.Cookie.Secure = false }, "cookie_insecure"},
		{"samesite none", func(c *Config) { c.Cookie.SameSite = http.SameSiteNoneMode }, "samesite_none"},
		{"local lock", func(c *Config) { c.Lock.Distributed = false }, "lock_not_distributed"},
		{"ephemeral keys", func(c *Config) { c.JWT.PrivateKey = nil }, "ephemeral_keys"},
		{"low argon2 memory", func(c *Config) { c.Password.Memory = 16 * 1024 }, "argon2_memory_low"},
		{"audit off", func(c *Config) { c.Audit.Enabled = false }, "audit_disabled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if !containsCode(cfg.Lint().Codes(), tc.code) {
				t.Fatalf("expected %s warning", tc.code)
			}
		})
	}
}

func TestLint_NoWarningForGoodArgon2(t *testing.T) {
	cfg := defaultConfig()
	cfg.Password.Memory = 64 * 1024
	if containsCode(cfg.Lint().Codes(), "argon2_memory_low") {
		t.Error("should not warn when memory == 64 MB")
	}
}

func TestLint_SeverityAndAsError(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cookie.Secure = false
	ws := cfg.Lint()

	found := false
	for _, w := range ws {
		if w.Code == "cookie_insecure" {
			found = true
			if w.Severity != LintHigh {
				t.Errorf("cookie_insecure should be HIGH, got %s", w.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected cookie_insecure")
	}
	if err := ws.AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail for insecure cookies")
	}
	for _, w := range ws.BySeverity(LintWarn) {
		if w.Severity < LintWarn {
			t.Errorf("BySeverity(LintWarn) returned %s", w.Severity)
		}
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

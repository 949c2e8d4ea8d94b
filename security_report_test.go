package goSession

import (
	"slices"
	"testing"
	"time"
)

func TestSecurityReportDefaults(t *testing.T) {
	env := newTestEnv(t)
	r := env.engine.SecurityReport()

	if r.SigningAlgorithm != "ed25519" || !r.EphemeralKeys {
		t.Fatalf("unexpected key report: %+v", r)
	}
	if r.AccessTTL != 15*time.Minute || r.GracePeriod != 60*time.Second || r.RevocationLatency != r.AccessTTL {
		t.Fatalf("unexpected lifetimes: %+v", r)
	}
	if r.ActiveTokenPolicy != "per_device" || r.SingleSession {
		t.Fatalf("unexpected policy: %+v", r)
	}
	if !r.SecureCookies || r.SameSite != "lax" || r.DistributedLock {
		t.Fatalf("unexpected transport settings: %+v", r)
	}
	if len(r.HighFindings) != 0 {
		t.Fatalf("defaults must not carry high findings: %v", r.HighFindings)
	}
}

func TestSecurityReportFlagsInsecureCookies(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) {
		c.Cookie.Secure = false
		c.Policy.ActiveTokens = PerUser
	}))
	r := env.engine.SecurityReport()
	if r.SecureCookies || !slices.Contains(r.HighFindings, "cookie_insecure") {
		t.Fatalf("insecure cookies not reported: %+v", r)
	}
	if !r.SingleSession {
		t.Fatal("per_user policy must report single session")
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if r := e.SecurityReport(); r.SigningAlgorithm != "" {
		t.Fatalf("nil engine report: %+v", r)
	}
}

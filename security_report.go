package goSession

import (
	"net/http"

	"github.com/MrEthical07/goSession/internal/security"
)

// SecurityReport is a point-in-time summary of the engine's session posture.
type SecurityReport = security.Report

// PasswordConfigReport carries the Argon2id parameters in a SecurityReport.
type PasswordConfigReport = security.PasswordReport

// SecurityReport summarizes the active configuration: signing algorithm,
// token lifetimes, grace window, active-token policy, cookie attributes and
// every High lint finding.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	var high []string
	for _, w := range cfg.Lint().BySeverity(LintHigh) {
		high = append(high, w.Code)
	}

	alg := cfg.JWT.SigningMethod
	if e.keys != nil {
		alg = string(e.keys.Method())
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:  alg,
		KeyID:             cfg.JWT.KeyID,
		PrivateKeySet:     len(cfg.JWT.PrivateKey) > 0,
		AccessTTL:         cfg.JWT.AccessTTL,
		RefreshTTL:        cfg.JWT.RefreshTTL,
		GracePeriod:       cfg.Revocation.GracePeriod,
		ActiveTokenPolicy: cfg.Policy.ActiveTokens.String(),
		DistributedLock:   cfg.Lock.Distributed,
		SecureCookies:     cfg.Cookie.Secure,
		SameSite:          sameSiteName(cfg.Cookie.SameSite),
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		AuditEnabled:   cfg.Audit.Enabled,
		MetricsEnabled: cfg.Metrics.Enabled,
		HighFindings:   high,
	})
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	case http.SameSiteLaxMode, http.SameSiteDefaultMode:
		return "lax"
	default:
		return "unknown"
	}
}

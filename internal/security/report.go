package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarizes the session posture of a running engine.
type Report struct {
	SigningAlgorithm  string
	KeyID             string
	EphemeralKeys     bool
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	GracePeriod       time.Duration
	ActiveTokenPolicy string
	SingleSession     bool
	DistributedLock   bool
	SecureCookies     bool
	SameSite          string
	Argon2            PasswordReport
	AuditEnabled      bool
	MetricsEnabled    bool
	HighFindings      []string
	RevocationLatency time.Duration
}

type ReportInput struct {
	SigningAlgorithm  string
	KeyID             string
	PrivateKeySet     bool
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	GracePeriod       time.Duration
	ActiveTokenPolicy string
	DistributedLock   bool
	SecureCookies     bool
	SameSite          string
	Password          PasswordReport
	AuditEnabled      bool
	MetricsEnabled    bool
	HighFindings      []string
}

// BuildReport derives the report from configuration values.
func BuildReport(input ReportInput) Report {
	findings := append([]string(nil), input.HighFindings...)

	return Report{
		SigningAlgorithm:  input.SigningAlgorithm,
		KeyID:             input.KeyID,
		EphemeralKeys:     !input.PrivateKeySet,
		AccessTTL:         input.AccessTTL,
		RefreshTTL:        input.RefreshTTL,
		GracePeriod:       input.GracePeriod,
		ActiveTokenPolicy: input.ActiveTokenPolicy,
		SingleSession:     input.ActiveTokenPolicy == "per_user",
		DistributedLock:   input.DistributedLock,
		SecureCookies:     input.SecureCookies,
		SameSite:          input.SameSite,
		Argon2:            input.Password,
		AuditEnabled:      input.AuditEnabled,
		MetricsEnabled:    input.MetricsEnabled,
		HighFindings:      findings,
		// Access tokens are not checked against the store, so a revocation
		// reaches a client holding a fresh access token only after AccessTTL.
		RevocationLatency: input.AccessTTL,
	}
}

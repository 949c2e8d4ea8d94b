package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricAuthenticateAnonymous, Name: "gosession_authenticate_anonymous_total", Help: "Requests without credentials."},
	{ID: goSession.MetricAuthenticateAccessValid, Name: "gosession_authenticate_access_valid_total", Help: "Requests accepted on their access token."},
	{ID: goSession.MetricAuthenticateRejected, Name: "gosession_authenticate_rejected_total", Help: "Requests rejected by the state machine."},
	{ID: goSession.MetricRotationSuccess, Name: "gosession_rotation_success_total", Help: "Successful refresh rotations."},
	{ID: goSession.MetricRotationFailure, Name: "gosession_rotation_failure_total", Help: "Failed refresh rotations."},
	{ID: goSession.MetricRotationShared, Name: "gosession_rotation_shared_total", Help: "Requests served by a concurrent rotation of the same credentials."},
	{ID: goSession.MetricGraceAccepted, Name: "gosession_grace_accepted_total", Help: "Rotated-out tokens accepted within the grace window."},
	{ID: goSession.MetricGraceRejected, Name: "gosession_grace_rejected_total", Help: "Rotated-out tokens presented after their grace was used or expired."},
	{ID: goSession.MetricDeviceMismatch, Name: "gosession_device_mismatch_total", Help: "Rejections caused by device binding mismatch."},
	{ID: goSession.MetricIntegrityViolation, Name: "gosession_integrity_violation_total", Help: "Cookie and session divergence detections."},
	{ID: goSession.MetricInvalidToken, Name: "gosession_invalid_token_total", Help: "Rejections caused by unverifiable or unknown tokens."},
	{ID: goSession.MetricRevokedPresented, Name: "gosession_revoked_presented_total", Help: "Rejections of revoked tokens."},
	{ID: goSession.MetricForcedLogout, Name: "gosession_forced_logout_total", Help: "Forced logouts."},
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Issued sessions."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed login attempts."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Explicit logouts."},
	{ID: goSession.MetricRevokeOne, Name: "gosession_revoke_one_total", Help: "Single-record revocations."},
	{ID: goSession.MetricRevokeAll, Name: "gosession_revoke_all_total", Help: "User-wide revocations."},
	{ID: goSession.MetricUnauthorized, Name: "gosession_unauthorized_total", Help: "Authorization guard denials."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricAuthenticateLatency, Name: "gosession_authenticate_latency_seconds", Help: "Authenticate latency."},
	{ID: goSession.MetricRotationLatency, Name: "gosession_rotation_latency_seconds", Help: "Refresh rotation latency, lock wait included."},
}

const (
	AuditDroppedName = "gosession_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
	AuditFailedName  = "gosession_audit_failed_total"
	AuditFailedHelp  = "Audit events lost because the sink panicked."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, +Inf included, for exporters that
// need one instrument per bucket.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets and ignoring extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// element is the total sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}

package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
//
// MetricID values are stable within a release and are used as keys by the
// exporters under metrics/export.
type MetricID uint16

const (
	// MetricAuthenticateAnonymous counts requests carrying no credentials.
	MetricAuthenticateAnonymous MetricID = iota
	// MetricAuthenticateAccessValid counts requests accepted on their access token.
	MetricAuthenticateAccessValid
	// MetricAuthenticateRejected counts requests that ended in Rejected.
	MetricAuthenticateRejected
	// MetricRotationSuccess counts successful refresh rotations.
	MetricRotationSuccess
	// MetricRotationFailure counts refresh rotations that failed for any reason.
	MetricRotationFailure
	// MetricRotationShared counts callers that received the result of a rotation
	// already in flight for the same credentials.
	MetricRotationShared
	// MetricGraceAccepted counts rotations accepted through the grace window.
	MetricGraceAccepted
	// MetricGraceRejected counts rotated-out tokens presented after their grace was used or expired.
	MetricGraceRejected
	// MetricDeviceMismatch counts rejections caused by a device binding mismatch.
	MetricDeviceMismatch
	// MetricIntegrityViolation counts cookie/session divergence detections.
	MetricIntegrityViolation
	// MetricInvalidToken counts rejections caused by unverifiable or unknown tokens.
	MetricInvalidToken
	// MetricRevokedPresented counts rejections of explicitly revoked tokens.
	MetricRevokedPresented
	// MetricForcedLogout counts forced logout side effects.
	MetricForcedLogout
	// MetricLoginSuccess counts issued sessions.
	MetricLoginSuccess
	// MetricLoginFailure counts failed login attempts.
	MetricLoginFailure
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricRevokeOne counts single-record revocations.
	MetricRevokeOne
	// MetricRevokeAll counts user-wide revocations.
	MetricRevokeAll
	// MetricUnauthorized counts guard denials.
	MetricUnauthorized
	// MetricAuthenticateLatency is the Authenticate latency histogram.
	MetricAuthenticateLatency
	// MetricRotationLatency is the rotation latency histogram, lock wait included.
	MetricRotationLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters and fixed-bucket latency histograms.
//
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of engine metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into histogram id. Non-histogram ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricAuthenticateLatency, MetricRotationLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricAuthenticateLatency || id == MetricRotationLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

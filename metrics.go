package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one coordinator counter or histogram.
type MetricID uint16

const (
	// MetricGateAllowed counts gate evaluations that returned allow.
	MetricGateAllowed MetricID = iota
	// MetricGateBlocked counts evaluations vetoed by an account lock or address block.
	MetricGateBlocked
	// MetricGateRateLimited counts evaluations denied by the rate limiter.
	MetricGateRateLimited
	// MetricGateRequiresVerification counts critical-risk evaluations.
	MetricGateRequiresVerification
	// MetricRateLimitDegraded counts rate-limit checks that failed open.
	MetricRateLimitDegraded
	// MetricLockoutDegraded counts lock checks that failed open.
	MetricLockoutDegraded
	// MetricBlocklistDegraded counts block checks that failed open.
	MetricBlocklistDegraded
	// MetricCredentialsIssued counts issued credential pairs.
	MetricCredentialsIssued
	// MetricCredentialsRotated counts successful rotations.
	MetricCredentialsRotated
	// MetricCredentialsRevoked counts revoke and revoke-all calls that changed state.
	MetricCredentialsRevoked
	// MetricTokenReplay counts presentations of an already rotated or revoked refresh token.
	MetricTokenReplay
	// MetricAccountLocked counts locks applied by violations or auto-lockout.
	MetricAccountLocked
	// MetricAddressBlocked counts address blocks applied by violations.
	MetricAddressBlocked
	// MetricViolation counts RespondToViolation calls.
	MetricViolation
	// MetricLoginFailure counts failed login results.
	MetricLoginFailure
	// MetricSweepRun counts sweep passes.
	MetricSweepRun
	// MetricSweepFailure counts sweep passes where at least one sweep failed.
	MetricSweepFailure
	// MetricAuditDropped counts audit events discarded by a full buffer.
	MetricAuditDropped
	// MetricGateLatency is the Evaluate latency histogram.
	MetricGateLatency
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

// Metrics is a fixed set of lock-free counters plus the gate latency
// histogram. A nil *Metrics discards everything.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metric values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a metrics set from cfg.
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

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to a counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram for id. Only MetricGateLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricGateLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricGateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricGateLatency].buckets[i])
		}
		s.Histograms[MetricGateLatency] = buckets
	}

	return s
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

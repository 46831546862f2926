package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef binds a coordinator counter to its exported name.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef binds a coordinator histogram to its exported name.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricGateAllowed, Name: "goguard_gate_allowed_total", Help: "Gate evaluations that allowed the attempt."},
	{ID: goGuard.MetricGateBlocked, Name: "goguard_gate_blocked_total", Help: "Gate evaluations vetoed by an account lock or address block."},
	{ID: goGuard.MetricGateRateLimited, Name: "goguard_gate_rate_limited_total", Help: "Gate evaluations denied by the rate limiter."},
	{ID: goGuard.MetricGateRequiresVerification, Name: "goguard_gate_requires_verification_total", Help: "Gate evaluations scored as critical risk."},
	{ID: goGuard.MetricRateLimitDegraded, Name: "goguard_rate_limit_degraded_total", Help: "Rate-limit checks that failed open on backend errors."},
	{ID: goGuard.MetricLockoutDegraded, Name: "goguard_lockout_degraded_total", Help: "Account lock checks that failed open on store errors."},
	{ID: goGuard.MetricBlocklistDegraded, Name: "goguard_blocklist_degraded_total", Help: "Address block checks that failed open on store errors."},
	{ID: goGuard.MetricCredentialsIssued, Name: "goguard_credentials_issued_total", Help: "Issued credential pairs."},
	{ID: goGuard.MetricCredentialsRotated, Name: "goguard_credentials_rotated_total", Help: "Successful refresh rotations."},
	{ID: goGuard.MetricCredentialsRevoked, Name: "goguard_credentials_revoked_total", Help: "Refresh credentials revoked."},
	{ID: goGuard.MetricTokenReplay, Name: "goguard_token_replay_total", Help: "Presentations of rotated or revoked refresh tokens."},
	{ID: goGuard.MetricAccountLocked, Name: "goguard_account_locked_total", Help: "Account locks applied."},
	{ID: goGuard.MetricAddressBlocked, Name: "goguard_address_blocked_total", Help: "Address blocks applied."},
	{ID: goGuard.MetricViolation, Name: "goguard_violation_total", Help: "Violation responses executed."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Failed login results reported."},
	{ID: goGuard.MetricSweepRun, Name: "goguard_sweep_run_total", Help: "Sweep passes."},
	{ID: goGuard.MetricSweepFailure, Name: "goguard_sweep_failure_total", Help: "Sweep passes with at least one failed sweep."},
	{ID: goGuard.MetricAuditDropped, Name: "goguard_audit_dropped_total", Help: "Audit events dropped by a full buffer."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricGateLatency, Name: "goguard_gate_latency_seconds", Help: "Gate evaluation latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside
// instrument names.
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

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

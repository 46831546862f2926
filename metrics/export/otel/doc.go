// Package otel reports goGuard counters through OpenTelemetry observable
// instruments.
//
// Related counters share one instrument and differ by a single attribute:
// goguard.gate.decisions{outcome}, goguard.gate.degraded{check},
// goguard.credentials{op}, goguard.enforcement{action} and
// goguard.sweeps{result}. The gate latency histogram is reported as a
// cumulative gauge goguard.gate.latency.buckets{le} plus
// goguard.gate.latency.count. One callback reads
// [goGuard.Guard.MetricsSnapshot] per collection.
//
// The caller owns the MeterProvider.
package otel

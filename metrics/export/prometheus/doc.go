// Package prometheus exposes goGuard metrics to Prometheus.
//
// [NewCollector] adapts a [goGuard.Guard] to a prometheus.Collector that
// reads [goGuard.Guard.MetricsSnapshot] on every scrape. Counter names are
// prefixed goguard_*_total; the single histogram is
// goguard_gate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register
//     the Collector or mount [Collector.Handler], which uses a private registry.
//   - Mutate guard state.
package prometheus

// Package goGuard is an authentication and account-security core: access and
// refresh credential issuance with spend-once rotation, multi-window rate
// limiting, account lockout, IP blocklisting and risk scoring of login
// attempts.
//
// Guard methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Guard], [Builder], [Config] and
// value types (Verdict, CredentialPair, MetricsSnapshot). Token signing lives
// in jwt, refresh records in credential, hashing in password, and storage in
// store. The rate limiter, lockout, blocklist, risk engine and audit
// dispatcher live under internal/.
//
// # Gate order
//
// [Guard.Evaluate] consults, in order and stopping at the first denial: the
// account lock, the address block, the rate limiter (identifier key, then
// address key) and finally the risk engine. A critical risk score yields
// requires_verification instead of a denial. Lock, block and rate checks
// fail open on backend errors; credential issuance fails closed.
//
// # What this package must NOT do
//
//   - Expose Redis clients or store key layouts in its public API.
//   - Perform I/O outside of Guard methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports goGuard.
package goGuard

// Package internal groups the building blocks behind goGuard.Guard.
//
//   - audit: buffered event dispatch and sinks
//   - blocklist: address blocks and CIDR range blocks
//   - keylock: striped per-key mutexes for the in-memory backends
//   - lockout: account locks and the failed-login counter
//   - rate: multi-window sliding-log rate limiting (memory and Redis)
//   - risk: attempt history and risk scoring
//
// None of these types appear in the public API; the root package re-exports
// the few value types callers need.
package internal

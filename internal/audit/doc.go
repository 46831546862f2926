// Package audit relays security events to a sink without blocking callers.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zerolog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: one security decision or state change.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import goGuard or any sibling internal package.
package audit

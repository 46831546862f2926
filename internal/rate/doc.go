// Package rate implements multi-window sliding-log rate limiting.
//
// # Window semantics
//
// Every (identifier, action) pair owns one timestamp log evaluated against
// each configured window. A check counts the log inside every window, then
// records the current attempt even when it is denied so that probing the
// limit still costs budget. Exceeding any window sets a temporary block
// sized by the violation ratio of the most-violated window; while the block
// is active checks are denied without touching the log.
//
// Keys:
//   - rl:{<b64(identifier)>}:<action>  - attempt log
//   - rlb:{<b64(identifier)>}:<action> - violation block
//
// The braces are a Redis Cluster hash tag: every key of one identifier maps
// to the same slot.
//
// # What this package must NOT do
//
//   - Decide what happens to callers that are denied.
//   - Be imported outside the goGuard module.
package rate

// Package credential issues, verifies, rotates and revokes access/refresh
// credential pairs.
//
// Access tokens are stateless. Only refresh records are persisted, as JSON
// in a [store.Store] under "rt:<base64url(subject)>:<jti>". Rotation is a
// critical section per jti inside the process, and a store compare-and-swap
// of the revoked flag across processes, so a refresh token can be spent at
// most once.
//
// State machine per refresh record:
//
//	issued -> rotated (revoked, ReplacedBy set)
//	issued -> revoked
//	issued -> expired
//
// All three targets are terminal.
package credential

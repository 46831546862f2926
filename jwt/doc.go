// Package jwt signs and parses the access and refresh tokens issued by
// goGuard.
//
// Both kinds carry {sub, iat, exp, typ, jti} plus optional caller claims
// under "ext". The parser pins the signing algorithm, checks typ against the
// expected kind and evaluates time claims against an injected clock.
package jwt

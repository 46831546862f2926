package goGuard

import (
	"errors"

	"github.com/MrEthical07/goGuard/password"
)

func passwordErr(err error) error {
	switch {
	case errors.Is(err, password.ErrWeakSecret):
		return invalid("password", "shorter than 8 bytes")
	case errors.Is(err, password.ErrSecretTooLong):
		return invalid("password", "too long")
	case errors.Is(err, password.ErrMalformedDigest):
		return invalid("digest", "malformed")
	}
	return err
}

// HashPassword returns an Argon2id PHC digest of secret.
func (g *Guard) HashPassword(secret string) (string, error) {
	d, err := g.hasher.Hash(secret)
	return d, passwordErr(err)
}

// VerifyPassword checks secret against digest. A mismatch returns
// ErrInvalidCredentials.
func (g *Guard) VerifyPassword(secret, digest string) error {
	ok, err := g.hasher.Verify(secret, digest)
	if err != nil {
		return passwordErr(err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// PasswordNeedsRehash reports whether digest uses weaker parameters than
// the current configuration.
func (g *Guard) PasswordNeedsRehash(digest string) (bool, error) {
	ok, err := g.hasher.NeedsUpgrade(digest)
	return ok, passwordErr(err)
}

package goGuard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/credential"
	"github.com/MrEthical07/goGuard/store"
)

var (
	// ErrValidation is returned for malformed input. ValidationError unwraps to it.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned by admin lookups for missing records.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned when a secret does not match its digest.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is returned for malformed, foreign or unknown tokens.
	ErrTokenInvalid = credential.ErrInvalidToken
	// ErrTokenRevoked is returned when a refresh token was already spent or revoked.
	ErrTokenRevoked = credential.ErrTokenRevoked
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = credential.ErrTokenExpired
	// ErrRateLimited is the sentinel behind RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked is the sentinel behind AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrAddressBlocked is the sentinel behind AddressBlockedError.
	ErrAddressBlocked = errors.New("address blocked")
	// ErrStoreUnavailable is returned when the credential store cannot be reached.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrGuardClosed is returned by operations on a closed Guard.
	ErrGuardClosed = errors.New("guard closed")
	// ErrInvalidConfig is returned by Config.Validate and Build.
	ErrInvalidConfig = errors.New("invalid config")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitedError carries the retry hint of a rate-limit denial.
type RateLimitedError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %s)", ErrRateLimited, e.Reason, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// AccountLockedError describes an active lock. A zero Until means indefinite.
type AccountLockedError struct {
	Subject string
	Until   time.Time
	Reason  string
}

func (e *AccountLockedError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("%s: %s", ErrAccountLocked, e.Reason)
	}
	return fmt.Sprintf("%s until %s: %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339), e.Reason)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// AddressBlockedError describes an active address block.
type AddressBlockedError struct {
	Address string
	Until   time.Time
	Reason  string
}

func (e *AddressBlockedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrAddressBlocked, e.Address, e.Reason)
}

func (e *AddressBlockedError) Unwrap() error { return ErrAddressBlocked }

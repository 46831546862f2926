// Package store defines the Credential Store boundary used by goGuard.
//
// The core only needs keyed get/put/delete, prefix scans and a
// compare-and-swap for refresh-token rotation. Two backends ship with the
// module: [Memory] for single-process deployments and tests, and [Redis] for
// state shared between instances.
//
// # What this package must NOT do
//
//   - Interpret values. Callers own their encoding.
//   - Import goGuard or any component package.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps every backend failure, including timeouts.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Entry is one key returned by ScanPrefix. A zero ExpiresAt means the key
// does not expire.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Store is the keyed storage contract. A ttl <= 0 stores without expiry.
//
// Implementations must be safe for concurrent use and must report backend
// failures wrapped with [ErrUnavailable] rather than panicking.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)

	// CompareAndSwap replaces the value of an existing key only when its
	// current value equals old. A ttl <= 0 keeps the remaining expiry.
	// Missing keys report false without error.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)
}

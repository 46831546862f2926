// Package lockout keeps account lock records and failed-attempt counters in
// the credential store.
//
// Locks expire lazily: IsLocked and Active delete a record whose LockedUntil
// has passed, so callers never see a stale lock even if no sweep has run.
package lockout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/internal/keylock"
	"github.com/MrEthical07/goGuard/store"
	"github.com/rs/zerolog"
)

const (
	lockPrefix    = "lock:"
	failurePrefix = "lockfail:"
	// retention past LockedUntil before the store drops a record on its own.
	storeGrace = time.Hour
)

// ErrInvalidSubject is returned for an empty subject.
var ErrInvalidSubject = errors.New("lockout: subject is required")

// Config holds lock durations and the failure threshold.
type Config struct {
	DefaultDuration  time.Duration
	MaxDuration      time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
}

// DefaultConfig returns 30m default, 24h cap, 5 failures in 15m.
func DefaultConfig() Config {
	return Config{
		DefaultDuration:  30 * time.Minute,
		MaxDuration:      24 * time.Hour,
		FailureThreshold: 5,
		FailureWindow:    15 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch {
	case c.DefaultDuration <= 0 || c.MaxDuration <= 0:
		return errors.New("lockout: durations must be > 0")
	case c.DefaultDuration > c.MaxDuration:
		return errors.New("lockout: default duration exceeds max duration")
	case c.FailureThreshold <= 0 || c.FailureWindow <= 0:
		return errors.New("lockout: failure threshold and window must be > 0")
	}
	return nil
}

// Record is one account lock. A nil LockedUntil means indefinite.
type Record struct {
	Subject     string     `json:"subject"`
	LockedAt    time.Time  `json:"locked_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Reason      string     `json:"reason"`
}

// Expired reports whether the lock no longer applies at now.
func (r *Record) Expired(now time.Time) bool {
	return r.LockedUntil != nil && !now.Before(*r.LockedUntil)
}

// Message renders the lock for end users.
func (r *Record) Message() string {
	if r.LockedUntil == nil {
		return "account locked: " + r.Reason
	}
	return fmt.Sprintf("account locked until %s: %s", r.LockedUntil.UTC().Format(time.RFC3339), r.Reason)
}

type failures struct {
	Attempts []time.Time `json:"attempts"`
}

// Manager is safe for concurrent use. Mutations of one subject are
// serialized in-process.
type Manager struct {
	cfg    Config
	store  store.Store
	clock  clock.Clock
	locks  *keylock.Map
	logger zerolog.Logger
}

func New(cfg Config, st store.Store, c clock.Clock, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    cfg,
		store:  st,
		clock:  clock.OrSystem(c),
		locks:  keylock.New(),
		logger: logger.With().Str("component", "lockout").Logger(),
	}, nil
}

func encodeSubject(subject string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(subject))
}

func lockKey(subject string) string    { return lockPrefix + encodeSubject(subject) }
func failureKey(subject string) string { return failurePrefix + encodeSubject(subject) }

func checkSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrInvalidSubject
	}
	return nil
}

// Clamp maps 0 to the default duration and caps at MaxDuration.
func (m *Manager) Clamp(d time.Duration) time.Duration {
	if d <= 0 {
		return m.cfg.DefaultDuration
	}
	if d > m.cfg.MaxDuration {
		return m.cfg.MaxDuration
	}
	return d
}

// Lock locks subject for d (0 means the default duration). An existing lock
// that ends later, or an indefinite one, is kept and only its reason updated.
func (m *Manager) Lock(ctx context.Context, subject, reason string, d time.Duration) (Record, error) {
	until := m.clock.Now().Add(m.Clamp(d))
	return m.lock(ctx, subject, reason, &until)
}

// LockIndefinitely is the administrative lock. It lasts until Unlock.
func (m *Manager) LockIndefinitely(ctx context.Context, subject, reason string) (Record, error) {
	return m.lock(ctx, subject, reason, nil)
}

func (m *Manager) lock(ctx context.Context, subject, reason string, until *time.Time) (Record, error) {
	if err := checkSubject(subject); err != nil {
		return Record{}, err
	}
	unlock := m.locks.Lock(lockKey(subject))
	defer unlock()

	now := m.clock.Now()
	rec := Record{Subject: subject, LockedAt: now, LockedUntil: until, Reason: reason}

	prev, err := m.read(ctx, subject)
	if err != nil {
		return Record{}, err
	}
	if prev != nil && !prev.Expired(now) {
		rec.LockedAt = prev.LockedAt
		switch {
		case prev.LockedUntil == nil:
			rec.LockedUntil = nil
		case until != nil && prev.LockedUntil.After(*until):
			rec.LockedUntil = prev.LockedUntil
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("lockout: encode record: %w", err)
	}
	var ttl time.Duration
	if rec.LockedUntil != nil {
		ttl = rec.LockedUntil.Sub(now) + storeGrace
	}
	if err := m.store.Put(ctx, lockKey(subject), data, ttl); err != nil {
		return Record{}, err
	}
	m.logger.Info().Str("subject", subject).Str("reason", reason).Msg("account locked")
	return rec, nil
}

// Unlock removes the lock and the failure counter. It reports whether a live
// lock was removed.
func (m *Manager) Unlock(ctx context.Context, subject string) (bool, error) {
	if err := checkSubject(subject); err != nil {
		return false, err
	}
	unlock := m.locks.Lock(lockKey(subject))
	defer unlock()

	prev, err := m.read(ctx, subject)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Delete(ctx, lockKey(subject)); err != nil {
		return false, err
	}
	if _, err := m.store.Delete(ctx, failureKey(subject)); err != nil {
		return false, err
	}
	return prev != nil && !prev.Expired(m.clock.Now()), nil
}

// IsLocked reports whether subject is locked and, if so, a user-facing message.
func (m *Manager) IsLocked(ctx context.Context, subject string) (bool, string, error) {
	rec, err := m.Active(ctx, subject)
	if err != nil || rec == nil {
		return false, "", err
	}
	return true, rec.Message(), nil
}

// Active returns the live lock for subject, or nil. Expired records are
// removed on the way.
func (m *Manager) Active(ctx context.Context, subject string) (*Record, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	rec, err := m.read(ctx, subject)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(m.clock.Now()) {
		m.expire(ctx, subject)
		return nil, nil
	}
	return rec, nil
}

func (m *Manager) expire(ctx context.Context, subject string) {
	unlock := m.locks.Lock(lockKey(subject))
	defer unlock()

	rec, err := m.read(ctx, subject)
	if err != nil || rec == nil || !rec.Expired(m.clock.Now()) {
		return
	}
	if _, err := m.store.Delete(ctx, lockKey(subject)); err != nil {
		m.logger.Warn().Err(err).Str("subject", subject).Msg("lazy unlock failed")
	}
}

// ListLocked returns live locks ordered by LockedAt, at most limit (0 = all).
func (m *Manager) ListLocked(ctx context.Context, limit int) ([]Record, error) {
	entries, err := m.store.ScanPrefix(ctx, lockPrefix)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if json.Unmarshal(e.Value, &rec) != nil || rec.Expired(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockedAt.Before(out[j].LockedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SweepExpired deletes expired lock records and idle failure counters.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	entries, err := m.store.ScanPrefix(ctx, lockPrefix)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	removed := 0
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err == nil {
			if !rec.Expired(now) {
				continue
			}
			unlock := m.locks.Lock(lockKey(rec.Subject))
			cur, err := m.read(ctx, rec.Subject)
			if err == nil && cur != nil && cur.Expired(now) {
				var ok bool
				ok, err = m.store.Delete(ctx, e.Key)
				if ok {
					removed++
				}
			}
			unlock()
			if err != nil {
				return removed, err
			}
			continue
		}
		if ok, err := m.store.Delete(ctx, e.Key); err != nil {
			return removed, err
		} else if ok {
			removed++
		}
	}

	fails, err := m.store.ScanPrefix(ctx, failurePrefix)
	if err != nil {
		return removed, err
	}
	cutoff := now.Add(-m.cfg.FailureWindow)
	for _, e := range fails {
		var f failures
		if json.Unmarshal(e.Value, &f) == nil && len(f.Attempts) > 0 && f.Attempts[len(f.Attempts)-1].After(cutoff) {
			continue
		}
		if _, err := m.store.Delete(ctx, e.Key); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RecordFailure adds a failed attempt for subject and reports the count in
// the failure window and whether the threshold was reached. Only the newest
// 2*FailureThreshold attempts are kept, so the count saturates there.
func (m *Manager) RecordFailure(ctx context.Context, subject string) (int, bool, error) {
	if err := checkSubject(subject); err != nil {
		return 0, false, err
	}
	key := failureKey(subject)
	unlock := m.locks.Lock(key)
	defer unlock()

	now := m.clock.Now()
	f, err := m.readFailures(ctx, key, now)
	if err != nil {
		return 0, false, err
	}
	f.Attempts = append(f.Attempts, now)
	if keep := 2 * m.cfg.FailureThreshold; len(f.Attempts) > keep {
		f.Attempts = append(f.Attempts[:0], f.Attempts[len(f.Attempts)-keep:]...)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return 0, false, fmt.Errorf("lockout: encode failures: %w", err)
	}
	if err := m.store.Put(ctx, key, data, m.cfg.FailureWindow); err != nil {
		return 0, false, err
	}
	n := len(f.Attempts)
	return n, n >= m.cfg.FailureThreshold, nil
}

// Failures reports failed attempts inside the failure window.
func (m *Manager) Failures(ctx context.Context, subject string) (int, error) {
	if err := checkSubject(subject); err != nil {
		return 0, err
	}
	f, err := m.readFailures(ctx, failureKey(subject), m.clock.Now())
	if err != nil {
		return 0, err
	}
	return len(f.Attempts), nil
}

// ResetFailures clears the failure counter, e.g. after a successful login.
func (m *Manager) ResetFailures(ctx context.Context, subject string) error {
	if err := checkSubject(subject); err != nil {
		return err
	}
	_, err := m.store.Delete(ctx, failureKey(subject))
	return err
}

func (m *Manager) read(ctx context.Context, subject string) (*Record, error) {
	data, err := m.store.Get(ctx, lockKey(subject))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn().Err(err).Str("subject", subject).Msg("ignoring corrupt lock record")
		return nil, nil
	}
	return &rec, nil
}

func (m *Manager) readFailures(ctx context.Context, key string, now time.Time) (failures, error) {
	var f failures
	data, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	if json.Unmarshal(data, &f) != nil {
		return failures{}, nil
	}
	cutoff := now.Add(-m.cfg.FailureWindow)
	kept := f.Attempts[:0]
	for _, at := range f.Attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	f.Attempts = kept
	return f, nil
}

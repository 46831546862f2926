package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/internal/keylock"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/store"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	keyPrefix       = "rt:"
	maxSubjectBytes = 256
)

var (
	ErrInvalidSubject = errors.New("credential: invalid subject")
	ErrInvalidToken   = errors.New("credential: invalid token")
	ErrTokenRevoked   = errors.New("credential: token revoked")
	ErrTokenExpired   = errors.New("credential: token expired")
	// ErrStoreUnavailable is the store sentinel so callers can match either.
	ErrStoreUnavailable = store.ErrUnavailable
)

// RevokedError is returned by Rotate when a spent or revoked refresh token
// is presented again. It carries the subject for replay handling.
type RevokedError struct {
	Subject string
	ID      string
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("credential: token %s revoked", e.ID)
}

func (e *RevokedError) Unwrap() error { return ErrTokenRevoked }

// Config controls token lifetimes and sweep retention.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// ExpiryGrace keeps expired records around before SweepExpired drops them.
	ExpiryGrace time.Duration
	// RevokedRetention is how long revoked records stay for replay detection.
	RevokedRetention time.Duration
	// MaxIdle drops unrevoked records issued longer ago than this.
	MaxIdle time.Duration
}

// DefaultConfig returns 15m access, 7d refresh, 7d revoked retention and 30d max idle.
func DefaultConfig() Config {
	return Config{
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		ExpiryGrace:      time.Hour,
		RevokedRetention: 7 * 24 * time.Hour,
		MaxIdle:          30 * 24 * time.Hour,
	}
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch {
	case c.AccessTTL <= 0:
		return errors.New("credential: access TTL must be > 0")
	case c.RefreshTTL <= c.AccessTTL:
		return errors.New("credential: refresh TTL must exceed access TTL")
	case c.ExpiryGrace < 0 || c.RevokedRetention < 0 || c.MaxIdle < 0:
		return errors.New("credential: retention windows must be >= 0")
	}
	return nil
}

// Pair is the result of Issue and Rotate.
type Pair struct {
	Subject          string    `json:"subject"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	IssuedAt         time.Time `json:"issued_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Revoked          bool      `json:"revoked"`
}

// Record is the persisted state of one refresh token.
type Record struct {
	ID         string         `json:"id"`
	Subject    string         `json:"sub"`
	IssuedAt   time.Time      `json:"iat"`
	ExpiresAt  time.Time      `json:"exp"`
	Revoked    bool           `json:"revoked"`
	RevokedAt  *time.Time     `json:"revoked_at,omitempty"`
	ReplacedBy string         `json:"replaced_by,omitempty"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	codec  *jwt.Codec
	store  store.Store
	clock  clock.Clock
	locks  *keylock.Map
	logger zerolog.Logger
}

// NewManager validates cfg and wires the manager. A nil clock uses wall time.
func NewManager(cfg Config, codec *jwt.Codec, st store.Store, c clock.Clock, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil || st == nil {
		return nil, errors.New("credential: codec and store are required")
	}
	return &Manager{
		cfg:    cfg,
		codec:  codec,
		store:  st,
		clock:  clock.OrSystem(c),
		locks:  keylock.New(),
		logger: logger.With().Str("component", "credential").Logger(),
	}, nil
}

func subjectPrefix(subject string) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(subject)) + ":"
}

func recordKey(subject, id string) string {
	return subjectPrefix(subject) + id
}

func validSubject(subject string) error {
	if strings.TrimSpace(subject) == "" || len(subject) > maxSubjectBytes {
		return ErrInvalidSubject
	}
	return nil
}

// storeTTL is a backstop so abandoned records leave the store even if no
// sweep ever runs.
func (m *Manager) storeTTL() time.Duration {
	extra := m.cfg.RevokedRetention
	if m.cfg.ExpiryGrace > extra {
		extra = m.cfg.ExpiryGrace
	}
	return m.cfg.RefreshTTL + extra
}

// Issue creates a new pair for subject and persists the refresh record.
// Store failures fail closed with ErrStoreUnavailable.
func (m *Manager) Issue(ctx context.Context, subject string, claims map[string]any) (Pair, error) {
	if err := validSubject(subject); err != nil {
		return Pair{}, err
	}
	pair, _, err := m.issue(ctx, subject, claims)
	return pair, err
}

func (m *Manager) issue(ctx context.Context, subject string, claims map[string]any) (Pair, *Record, error) {
	now := m.clock.Now().Truncate(time.Second)
	accessExp := now.Add(m.cfg.AccessTTL)
	refreshExp := now.Add(m.cfg.RefreshTTL)

	access, err := m.codec.Sign(jwt.Claims{
		Kind:  jwt.KindAccess,
		Extra: claims,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return Pair{}, nil, err
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		Claims:    claims,
	}
	refresh, err := m.codec.Sign(jwt.Claims{
		Kind: jwt.KindRefresh,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			ID:        rec.ID,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return Pair{}, nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("credential: encode record: %w", err)
	}
	if err := m.store.Put(ctx, recordKey(subject, rec.ID), data, m.storeTTL()); err != nil {
		return Pair{}, nil, storeErr(err)
	}

	return Pair{
		Subject:          subject,
		AccessToken:      access,
		RefreshToken:     refresh,
		IssuedAt:         now,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, rec, nil
}

// VerifyAccess is stateless. Refresh tokens presented here are invalid.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	c, err := m.codec.Parse(token, jwt.KindAccess)
	if err != nil {
		return nil, tokenErr(err)
	}
	out := &Claims{Subject: c.Subject, ID: c.ID, Extra: c.Extra}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

// Rotate spends refresh and returns a new pair. A token can be spent once;
// every later presentation fails with a *RevokedError.
func (m *Manager) Rotate(ctx context.Context, refresh string) (Pair, error) {
	c, err := m.codec.Parse(refresh, jwt.KindRefresh)
	if err != nil {
		return Pair{}, tokenErr(err)
	}

	unlock := m.locks.Lock(c.ID)
	defer unlock()

	key := recordKey(c.Subject, c.ID)
	raw, rec, err := m.load(ctx, key)
	if err != nil {
		return Pair{}, err
	}
	if rec.Revoked {
		return Pair{}, &RevokedError{Subject: rec.Subject, ID: rec.ID}
	}
	now := m.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		return Pair{}, ErrTokenExpired
	}

	next, nextRec, err := m.issue(ctx, rec.Subject, rec.Claims)
	if err != nil {
		return Pair{}, err
	}

	spent := *rec
	spent.Revoked = true
	spent.RevokedAt = &now
	spent.ReplacedBy = nextRec.ID
	swapped, err := m.swap(ctx, key, raw, &spent)
	if err != nil || !swapped {
		if _, derr := m.store.Delete(ctx, recordKey(nextRec.Subject, nextRec.ID)); derr != nil {
			m.logger.Warn().Err(derr).Str("jti", nextRec.ID).Msg("orphaned successor after failed rotation")
		}
		if err != nil {
			return Pair{}, err
		}
		return Pair{}, &RevokedError{Subject: rec.Subject, ID: rec.ID}
	}
	return next, nil
}

// Revoke marks refresh revoked. Unknown, malformed, expired and
// already-revoked tokens all report success; only store failures return an
// error.
func (m *Manager) Revoke(ctx context.Context, refresh string) (bool, error) {
	c, err := m.codec.ParseIgnoringExpiry(refresh, jwt.KindRefresh)
	if err != nil {
		return true, nil
	}
	if _, err := m.revoke(ctx, recordKey(c.Subject, c.ID), c.ID); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAll revokes every live refresh record of subject and returns how
// many changed state.
func (m *Manager) RevokeAll(ctx context.Context, subject string) (int, error) {
	if err := validSubject(subject); err != nil {
		return 0, err
	}
	entries, err := m.store.ScanPrefix(ctx, subjectPrefix(subject))
	if err != nil {
		return 0, storeErr(err)
	}

	count := 0
	for _, e := range entries {
		id := strings.TrimPrefix(e.Key, subjectPrefix(subject))
		changed, err := m.revoke(ctx, e.Key, id)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (m *Manager) revoke(ctx context.Context, key, id string) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	raw, rec, err := m.load(ctx, key)
	if errors.Is(err, ErrInvalidToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Revoked {
		return false, nil
	}

	now := m.clock.Now()
	rec.Revoked = true
	rec.RevokedAt = &now
	return m.swap(ctx, key, raw, rec)
}

// SweepExpired deletes records past expiry plus grace, revoked records older
// than RevokedRetention, and live records issued more than MaxIdle ago.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	entries, err := m.store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return 0, storeErr(err)
	}

	now := m.clock.Now()
	removed := 0
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			m.logger.Warn().Err(err).Str("key", e.Key).Msg("dropping undecodable refresh record")
		} else if !m.sweepable(&rec, now) {
			continue
		}
		ok, err := m.store.Delete(ctx, e.Key)
		if err != nil {
			return removed, storeErr(err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) sweepable(rec *Record, now time.Time) bool {
	if !now.Before(rec.ExpiresAt.Add(m.cfg.ExpiryGrace)) {
		return true
	}
	if rec.Revoked {
		at := rec.IssuedAt
		if rec.RevokedAt != nil {
			at = *rec.RevokedAt
		}
		return now.Sub(at) >= m.cfg.RevokedRetention
	}
	return m.cfg.MaxIdle > 0 && now.Sub(rec.IssuedAt) >= m.cfg.MaxIdle
}

// Lookup returns the stored record for refresh, expired or not.
func (m *Manager) Lookup(ctx context.Context, refresh string) (*Record, error) {
	c, err := m.codec.ParseIgnoringExpiry(refresh, jwt.KindRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	_, rec, err := m.load(ctx, recordKey(c.Subject, c.ID))
	return rec, err
}

// ActiveCount reports unrevoked, unexpired refresh records for subject.
func (m *Manager) ActiveCount(ctx context.Context, subject string) (int, error) {
	if err := validSubject(subject); err != nil {
		return 0, err
	}
	entries, err := m.store.ScanPrefix(ctx, subjectPrefix(subject))
	if err != nil {
		return 0, storeErr(err)
	}
	now := m.clock.Now()
	active := 0
	for _, e := range entries {
		var rec Record
		if json.Unmarshal(e.Value, &rec) == nil && !rec.Revoked && now.Before(rec.ExpiresAt) {
			active++
		}
	}
	return active, nil
}

func (m *Manager) load(ctx context.Context, key string) ([]byte, *Record, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, storeErr(err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt record", ErrInvalidToken)
	}
	return raw, &rec, nil
}

func (m *Manager) swap(ctx context.Context, key string, old []byte, rec *Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("credential: encode record: %w", err)
	}
	ok, err := m.store.CompareAndSwap(ctx, key, old, data, 0)
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func tokenErr(err error) error {
	if errors.Is(err, jwt.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrInvalidToken
}

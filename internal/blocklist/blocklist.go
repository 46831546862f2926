// Package blocklist keeps temporary and permanent network address blocks in
// the credential store and expands CIDR ranges into per-host blocks.
package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/internal/keylock"
	"github.com/MrEthical07/goGuard/store"
	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "block:"
	storeGrace = time.Hour
)

// ErrInvalidAddress is returned for unparsable addresses and CIDRs.
var ErrInvalidAddress = errors.New("blocklist: invalid address")

// Kind distinguishes timed blocks from permanent ones.
type Kind string

const (
	Temporary Kind = "temporary"
	Permanent Kind = "permanent"
)

// Config holds block durations and the range expansion cap.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	RangeCap        int
}

// DefaultConfig returns 1h default, 24h cap and 1000 hosts per range.
func DefaultConfig() Config {
	return Config{
		DefaultDuration: time.Hour,
		MaxDuration:     24 * time.Hour,
		RangeCap:        1000,
	}
}

func (c Config) Validate() error {
	switch {
	case c.DefaultDuration <= 0 || c.MaxDuration <= 0:
		return errors.New("blocklist: durations must be > 0")
	case c.DefaultDuration > c.MaxDuration:
		return errors.New("blocklist: default duration exceeds max duration")
	case c.RangeCap <= 0:
		return errors.New("blocklist: range cap must be > 0")
	}
	return nil
}

// Record is one blocked address. UnblockAt is nil for permanent blocks.
type Record struct {
	Address   string     `json:"address"`
	Kind      Kind       `json:"kind"`
	BlockedAt time.Time  `json:"blocked_at"`
	UnblockAt *time.Time `json:"unblock_at,omitempty"`
	Reason    string     `json:"reason"`
}

func (r *Record) Expired(now time.Time) bool {
	return r.UnblockAt != nil && !now.Before(*r.UnblockAt)
}

func (r *Record) Message() string {
	if r.UnblockAt == nil {
		return "address blocked: " + r.Reason
	}
	return fmt.Sprintf("address blocked until %s: %s", r.UnblockAt.UTC().Format(time.RFC3339), r.Reason)
}

// RangeResult reports a BlockRange call. Remaining counts usable hosts that
// were not enumerated because of the cap, saturating at math.MaxUint64.
type RangeResult struct {
	Prefix    string
	Blocked   int
	Remaining uint64
	Errors    map[string]string
}

// Manager is safe for concurrent use.
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
		logger: logger.With().Str("component", "blocklist").Logger(),
	}, nil
}

// ParseAddress canonicalizes s: surrounding space and zones are dropped and
// IPv4-mapped IPv6 addresses become IPv4.
func ParseAddress(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr.WithZone("").Unmap(), nil
}

func key(addr netip.Addr) string {
	return keyPrefix + addr.String()
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

// Block blocks address for d (0 means the default). A later or permanent
// existing block is kept.
func (m *Manager) Block(ctx context.Context, address, reason string, d time.Duration) (Record, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return Record{}, err
	}
	until := m.clock.Now().Add(m.Clamp(d))
	return m.block(ctx, addr, reason, &until)
}

// BlockPermanent blocks address until Unblock.
func (m *Manager) BlockPermanent(ctx context.Context, address, reason string) (Record, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return Record{}, err
	}
	return m.block(ctx, addr, reason, nil)
}

func (m *Manager) block(ctx context.Context, addr netip.Addr, reason string, until *time.Time) (Record, error) {
	k := key(addr)
	unlock := m.locks.Lock(k)
	defer unlock()

	now := m.clock.Now()
	rec := Record{Address: addr.String(), Kind: Temporary, BlockedAt: now, UnblockAt: until, Reason: reason}
	prev, err := m.read(ctx, k)
	if err != nil {
		return Record{}, err
	}
	if prev != nil && !prev.Expired(now) {
		rec.BlockedAt = prev.BlockedAt
		switch {
		case prev.UnblockAt == nil:
			rec.UnblockAt = nil
		case until != nil && prev.UnblockAt.After(*until):
			rec.UnblockAt = prev.UnblockAt
		}
	}
	var ttl time.Duration
	if rec.UnblockAt == nil {
		rec.Kind = Permanent
	} else {
		ttl = rec.UnblockAt.Sub(now) + storeGrace
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("blocklist: encode record: %w", err)
	}
	if err := m.store.Put(ctx, k, data, ttl); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Unblock removes the block and reports whether a live one existed.
func (m *Manager) Unblock(ctx context.Context, address string) (bool, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return false, err
	}
	k := key(addr)
	unlock := m.locks.Lock(k)
	defer unlock()

	prev, err := m.read(ctx, k)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Delete(ctx, k); err != nil {
		return false, err
	}
	return prev != nil && !prev.Expired(m.clock.Now()), nil
}

// IsBlocked reports whether address is blocked and a user-facing message.
func (m *Manager) IsBlocked(ctx context.Context, address string) (bool, string, error) {
	rec, err := m.Active(ctx, address)
	if err != nil || rec == nil {
		return false, "", err
	}
	return true, rec.Message(), nil
}

// Active returns the live block for address, or nil, removing an expired
// record on the way.
func (m *Manager) Active(ctx context.Context, address string) (*Record, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	k := key(addr)
	rec, err := m.read(ctx, k)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Expired(m.clock.Now()) {
		return rec, nil
	}

	unlock := m.locks.Lock(k)
	defer unlock()
	if cur, err := m.read(ctx, k); err == nil && cur != nil && cur.Expired(m.clock.Now()) {
		if _, err := m.store.Delete(ctx, k); err != nil {
			m.logger.Warn().Err(err).Str("address", rec.Address).Msg("lazy unblock failed")
		}
	}
	return nil, nil
}

// ListBlocked returns live blocks ordered by BlockedAt, at most limit (0 = all).
func (m *Manager) ListBlocked(ctx context.Context, limit int) ([]Record, error) {
	entries, err := m.store.ScanPrefix(ctx, keyPrefix)
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
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockedAt.Before(out[j].BlockedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SweepExpired deletes expired and undecodable block records.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	entries, err := m.store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	removed := 0
	for _, e := range entries {
		var rec Record
		if json.Unmarshal(e.Value, &rec) == nil && !rec.Expired(now) {
			continue
		}
		unlock := m.locks.Lock(e.Key)
		cur, err := m.read(ctx, e.Key)
		if err == nil && (cur == nil || cur.Expired(now)) {
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
	}
	return removed, nil
}

// BlockRange blocks the usable hosts of cidr, at most RangeCap of them.
// IPv4 prefixes up to /30 skip the network and broadcast addresses, IPv6
// prefixes up to /126 skip the subnet-router anycast address, and /31, /32,
// /127 and /128 use every address. Per-host failures are collected in
// Errors and do not stop the walk.
func (m *Manager) BlockRange(ctx context.Context, cidr string, d time.Duration, reason string) (RangeResult, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return RangeResult{}, fmt.Errorf("%w: %q", ErrInvalidAddress, cidr)
	}
	prefix = prefix.Masked()
	first, usable := usableHosts(prefix)

	res := RangeResult{Prefix: prefix.String(), Errors: map[string]string{}}
	n := uint64(m.cfg.RangeCap)
	if usable < n {
		n = usable
	}
	until := m.clock.Now().Add(m.Clamp(d))
	addr := first
	for i := uint64(0); i < n; i++ {
		if _, err := m.block(ctx, addr.Unmap(), reason, &until); err != nil {
			res.Errors[addr.String()] = err.Error()
		} else {
			res.Blocked++
		}
		addr = addr.Next()
	}
	res.Remaining = usable - n
	if usable == math.MaxUint64 {
		res.Remaining = math.MaxUint64
	}
	m.logger.Info().
		Str("prefix", res.Prefix).
		Int("blocked", res.Blocked).
		Uint64("remaining", res.Remaining).
		Int("errors", len(res.Errors)).
		Msg("range blocked")
	return res, nil
}

// usableHosts returns the first usable address and the usable host count,
// saturating at math.MaxUint64.
func usableHosts(p netip.Prefix) (netip.Addr, uint64) {
	hostBits := p.Addr().BitLen() - p.Bits()
	first := p.Addr()

	var total uint64
	if hostBits >= 64 {
		total = math.MaxUint64
	} else {
		total = uint64(1) << uint(hostBits)
	}

	switch {
	case p.Addr().Is4() && hostBits >= 2:
		return first.Next(), total - 2
	case p.Addr().Is6() && hostBits >= 2:
		if total == math.MaxUint64 {
			return first.Next(), total
		}
		return first.Next(), total - 1
	}
	return first, total
}

func (m *Manager) read(ctx context.Context, k string) (*Record, error) {
	data, err := m.store.Get(ctx, k)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn().Err(err).Str("key", k).Msg("ignoring corrupt block record")
		return nil, nil
	}
	return &rec, nil
}

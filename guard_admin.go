package goGuard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/blocklist"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
)

// RangeResult reports a BlockRange call.
type RangeResult = blocklist.RangeResult

// RateUsage is the per-window state returned by RateLimitStatus.
type RateUsage = rate.Usage

// RateWindowUsage is one window inside RateUsage.
type RateWindowUsage = rate.WindowUsage

// adminErr maps component validation errors onto ErrValidation.
func adminErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lockout.ErrInvalidSubject):
		return invalid("identifier", "required")
	case errors.Is(err, blocklist.ErrInvalidAddress):
		return invalid("address", err.Error())
	case errors.Is(err, rate.ErrInvalidKey):
		return invalid("identifier", "required")
	}
	return err
}

/*
====================================
ACCOUNT LOCKS
====================================
*/

// LockAccount locks identifier for d (0 means the default duration,
// clamped to the maximum).
func (g *Guard) LockAccount(ctx context.Context, identifier, reason string, d time.Duration) (LockRecord, error) {
	rec, err := g.locks.Lock(ctx, strings.TrimSpace(identifier), reason, d)
	if err != nil {
		return LockRecord{}, adminErr(err)
	}
	g.metricInc(MetricAccountLocked)
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAccountLocked, Subject: rec.Subject, Success: true}, func() map[string]string {
		return map[string]string{"reason": reason, "source": "admin"}
	})
	return rec, nil
}

// LockAccountIndefinitely locks identifier until Unlock.
func (g *Guard) LockAccountIndefinitely(ctx context.Context, identifier, reason string) (LockRecord, error) {
	rec, err := g.locks.LockIndefinitely(ctx, strings.TrimSpace(identifier), reason)
	if err != nil {
		return LockRecord{}, adminErr(err)
	}
	g.metricInc(MetricAccountLocked)
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAccountLocked, Subject: rec.Subject, Success: true}, func() map[string]string {
		return map[string]string{"reason": reason, "source": "admin", "duration": "indefinite"}
	})
	return rec, nil
}

// Unlock removes the lock and failure counter of identifier. It reports
// whether a live lock was removed.
func (g *Guard) Unlock(ctx context.Context, identifier string) (bool, error) {
	identifier = strings.TrimSpace(identifier)
	ok, err := g.locks.Unlock(ctx, identifier)
	if err != nil {
		return false, adminErr(err)
	}
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAccountUnlocked, Subject: identifier, Success: ok}, nil)
	return ok, nil
}

// IsLocked reports whether identifier is locked, with a user-facing message.
func (g *Guard) IsLocked(ctx context.Context, identifier string) (bool, string, error) {
	locked, msg, err := g.locks.IsLocked(ctx, strings.TrimSpace(identifier))
	return locked, msg, adminErr(err)
}

// ListLocked returns live locks, oldest first, at most limit (0 means all).
func (g *Guard) ListLocked(ctx context.Context, limit int) ([]LockRecord, error) {
	return g.locks.ListLocked(ctx, limit)
}

/*
====================================
ADDRESS BLOCKS
====================================
*/

// BlockAddress blocks address for d (0 means the default duration,
// clamped to the maximum).
func (g *Guard) BlockAddress(ctx context.Context, address, reason string, d time.Duration) (BlockRecord, error) {
	rec, err := g.blocks.Block(ctx, address, reason, d)
	if err != nil {
		return BlockRecord{}, adminErr(err)
	}
	g.metricInc(MetricAddressBlocked)
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAddressBlocked, Address: rec.Address, Success: true}, func() map[string]string {
		return map[string]string{"reason": reason, "source": "admin"}
	})
	return rec, nil
}

// BlockAddressPermanently blocks address until Unblock.
func (g *Guard) BlockAddressPermanently(ctx context.Context, address, reason string) (BlockRecord, error) {
	rec, err := g.blocks.BlockPermanent(ctx, address, reason)
	if err != nil {
		return BlockRecord{}, adminErr(err)
	}
	g.metricInc(MetricAddressBlocked)
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAddressBlocked, Address: rec.Address, Success: true}, func() map[string]string {
		return map[string]string{"reason": reason, "source": "admin", "kind": string(rec.Kind)}
	})
	return rec, nil
}

// Unblock removes the block on address. It reports whether a live block
// was removed.
func (g *Guard) Unblock(ctx context.Context, address string) (bool, error) {
	ok, err := g.blocks.Unblock(ctx, address)
	if err != nil {
		return false, adminErr(err)
	}
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAddressUnblocked, Address: strings.TrimSpace(address), Success: ok}, nil)
	return ok, nil
}

// IsBlocked reports whether address is blocked, with a user-facing message.
func (g *Guard) IsBlocked(ctx context.Context, address string) (bool, string, error) {
	blocked, msg, err := g.blocks.IsBlocked(ctx, address)
	return blocked, msg, adminErr(err)
}

// ListBlocked returns live blocks, oldest first, at most limit (0 means all).
func (g *Guard) ListBlocked(ctx context.Context, limit int) ([]BlockRecord, error) {
	return g.blocks.ListBlocked(ctx, limit)
}

// BlockRange blocks the usable hosts of cidr, up to the configured cap.
func (g *Guard) BlockRange(ctx context.Context, cidr string, d time.Duration, reason string) (RangeResult, error) {
	res, err := g.blocks.BlockRange(ctx, cidr, d, reason)
	if err != nil {
		return res, adminErr(err)
	}
	if res.Blocked > 0 && g.metrics != nil {
		g.metrics.Add(MetricAddressBlocked, uint64(res.Blocked))
	}
	g.emitAudit(ctx, audit.Event{EventType: audit.EventAddressBlocked, Address: res.Prefix, Success: len(res.Errors) == 0}, func() map[string]string {
		return map[string]string{"reason": reason, "source": "range"}
	})
	return res, nil
}

/*
====================================
RATE LIMITS
====================================
*/

// RateLimitStatus reports usage of identifier for action without recording
// an attempt.
func (g *Guard) RateLimitStatus(ctx context.Context, identifier, action string) (RateUsage, error) {
	if action == "" {
		action = ActionLogin
	}
	u, err := g.limiter.Status(ctx, strings.TrimSpace(identifier), action)
	return u, adminErr(err)
}

// AddressRateLimitStatus reports the address-scoped usage for action.
func (g *Guard) AddressRateLimitStatus(ctx context.Context, address, action string) (RateUsage, error) {
	address, err := g.canonicalAddress(address)
	if err != nil {
		return RateUsage{}, err
	}
	if address == "" {
		return RateUsage{}, invalid("address", "required")
	}
	return g.RateLimitStatus(ctx, addressRateKey(address), action)
}

// ResetRateLimit clears the logs and blocks of identifier for action, or for
// every action when action is empty. It returns the number of cleared keys.
func (g *Guard) ResetRateLimit(ctx context.Context, identifier, action string) (int, error) {
	n, err := g.limiter.Reset(ctx, strings.TrimSpace(identifier), action)
	return n, adminErr(err)
}

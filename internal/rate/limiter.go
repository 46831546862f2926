package rate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/clock"
)

// ErrInvalidKey is returned for an empty identifier or action.
var ErrInvalidKey = errors.New("rate: identifier and action are required")

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
	// Remaining is the tightest remaining budget after this attempt.
	Remaining int
	// Window and Ratio describe the most-violated window on denial.
	Window time.Duration
	Ratio  float64
	// Blocked is set when the denial came from an active violation block.
	Blocked bool
}

// WindowUsage is the state of one window for Status.
type WindowUsage struct {
	Size      time.Duration
	Limit     int
	Used      int
	Remaining int
	// ResetAt is when the oldest attempt inside the window ages out.
	ResetAt time.Time
}

// Usage is the result of Status.
type Usage struct {
	Identifier   string
	Action       string
	Windows      []WindowUsage
	BlockedUntil time.Time
}

// Limiter applies Config over a Backend. It is safe for concurrent use.
type Limiter struct {
	cfg     Config
	backend Backend
	clock   clock.Clock
}

// New validates cfg. A nil backend uses Memory, a nil clock wall time.
func New(cfg Config, backend Backend, c clock.Clock) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = NewMemory()
	}
	return &Limiter{cfg: cfg.normalize(), backend: backend, clock: clock.OrSystem(c)}, nil
}

// identifierPrefix wraps the encoded identifier in a hash tag so every key
// of one identifier lands in the same cluster slot.
func identifierPrefix(identifier string) string {
	return "rl:{" + base64.RawURLEncoding.EncodeToString([]byte(identifier)) + "}:"
}

func logKey(identifier, action string) string {
	return identifierPrefix(identifier) + action
}

func (l *Limiter) windowsFor(action string) []Window {
	if ws, ok := l.cfg.Actions[action]; ok {
		return ws
	}
	return l.cfg.Default
}

// Windows returns the windows applied to action, smallest first.
func (l *Limiter) Windows(action string) []Window {
	return append([]Window(nil), l.windowsFor(action)...)
}

func (l *Limiter) horizon(ws []Window) time.Duration {
	return ws[len(ws)-1].Size
}

// Check evaluates and records one attempt. On backend failure the returned
// Decision is Allowed together with the error so callers can fail open.
func (l *Limiter) Check(ctx context.Context, identifier, action string) (Decision, error) {
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(action) == "" {
		return Decision{}, ErrInvalidKey
	}
	ws := l.windowsFor(action)
	sizes := make([]time.Duration, len(ws))
	for i, w := range ws {
		sizes[i] = w.Size
	}

	now := l.clock.Now()
	key := logKey(identifier, action)
	counts, blockedUntil, err := l.backend.Hit(ctx, key, now, sizes)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	if now.Before(blockedUntil) {
		return Decision{
			RetryAfter: blockedUntil.Sub(now),
			Reason:     "temporarily blocked after exceeding the " + action + " rate limit",
			Blocked:    true,
		}, nil
	}

	worst := -1
	var worstRatio float64
	remaining := -1
	for i, w := range ws {
		attempts := counts[i] + 1
		if left := w.Limit - attempts; remaining < 0 || left < remaining {
			remaining = left
		}
		if counts[i] < w.Limit {
			continue
		}
		ratio := float64(attempts) / float64(w.Limit)
		if ratio > worstRatio {
			worst, worstRatio = i, ratio
		}
	}
	if worst < 0 {
		return Decision{Allowed: true, Remaining: remaining}, nil
	}

	w := ws[worst]
	block := l.blockFor(worstRatio, w.Size)
	if err := l.backend.Block(ctx, key, now, now.Add(block)); err != nil {
		return Decision{}, err
	}
	return Decision{
		RetryAfter: block,
		Reason:     fmt.Sprintf("exceeded %d %s attempts per %s", w.Limit, action, w.Size),
		Window:     w.Size,
		Ratio:      worstRatio,
	}, nil
}

func (l *Limiter) blockFor(ratio float64, window time.Duration) time.Duration {
	block := l.cfg.Tiers[len(l.cfg.Tiers)-1].Block
	for _, t := range l.cfg.Tiers {
		if ratio >= t.MinRatio {
			block = t.Block
			break
		}
	}
	if l.cfg.CapToWindow && block > window {
		block = window
	}
	return block
}

// Status reports usage per window without recording an attempt.
func (l *Limiter) Status(ctx context.Context, identifier, action string) (Usage, error) {
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(action) == "" {
		return Usage{}, ErrInvalidKey
	}
	ws := l.windowsFor(action)
	now := l.clock.Now()

	hits, blockedUntil, err := l.backend.Peek(ctx, logKey(identifier, action), now, l.horizon(ws))
	if err != nil {
		return Usage{}, err
	}

	u := Usage{Identifier: identifier, Action: action, Windows: make([]WindowUsage, len(ws))}
	if now.Before(blockedUntil) {
		u.BlockedUntil = blockedUntil
	}
	for i, w := range ws {
		cutoff := now.Add(-w.Size)
		wu := WindowUsage{Size: w.Size, Limit: w.Limit}
		for _, h := range hits {
			if !h.After(cutoff) {
				continue
			}
			if wu.Used == 0 {
				wu.ResetAt = h.Add(w.Size)
			}
			wu.Used++
		}
		wu.Remaining = w.Limit - wu.Used
		if wu.Remaining < 0 {
			wu.Remaining = 0
		}
		u.Windows[i] = wu
	}
	return u, nil
}

// Reset clears the log and any block for (identifier, action). An empty
// action clears every action of identifier.
func (l *Limiter) Reset(ctx context.Context, identifier, action string) (int, error) {
	if strings.TrimSpace(identifier) == "" {
		return 0, ErrInvalidKey
	}
	if action == "" {
		return l.backend.Reset(ctx, identifierPrefix(identifier), true)
	}
	return l.backend.Reset(ctx, logKey(identifier, action), false)
}

// Sweep drops idle logs and expired blocks.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	horizon := l.horizon(l.cfg.Default)
	for _, ws := range l.cfg.Actions {
		if h := l.horizon(ws); h > horizon {
			horizon = h
		}
	}
	return l.backend.Sweep(ctx, l.clock.Now(), horizon)
}

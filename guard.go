package goGuard

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/credential"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/blocklist"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/risk"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Well-known actions with their own rate budgets.
const (
	ActionLogin = "login"
	ActionAPI   = "api"
)

// Outcome is the gate decision.
type Outcome string

const (
	OutcomeAllow                Outcome = "allow"
	OutcomeBlocked              Outcome = "blocked"
	OutcomeRateLimited          Outcome = "rate_limited"
	OutcomeRequiresVerification Outcome = "requires_verification"
)

// RiskAssessment is the scored result of the risk engine.
type RiskAssessment = risk.Assessment

// RiskIndicator is one finding inside a RiskAssessment.
type RiskIndicator = risk.Indicator

// RiskLevel buckets a risk score.
type RiskLevel = risk.Level

// Risk levels.
const (
	RiskLow      = risk.Low
	RiskMedium   = risk.Medium
	RiskHigh     = risk.High
	RiskCritical = risk.Critical
)

// Attempt describes one inbound authentication or API attempt.
type Attempt struct {
	Identifier string
	Address    string
	UserAgent  string
	// Action selects the rate budget. Empty means ActionLogin.
	Action string
	// Location is an optional coarse geo label used by the diversity check.
	Location string
}

// Verdict is the result of Evaluate.
type Verdict struct {
	Outcome    Outcome
	// Scope is "account" or "address" for denials.
	Scope      string
	Reason     string
	RetryAfter time.Duration
	// Until is when a lock or block ends. Zero for indefinite or not applicable.
	Until time.Time
	// Risk is set when scoring ran.
	Risk *RiskAssessment
	// Degraded names the gates that failed open on backend errors.
	Degraded []string
}

// Allowed reports whether the caller may proceed without extra checks.
func (v Verdict) Allowed() bool { return v.Outcome == OutcomeAllow }

// Err converts a denying verdict into the matching typed error. It returns
// nil for OutcomeAllow and OutcomeRequiresVerification.
func (v Verdict) Err(a Attempt) error {
	switch v.Outcome {
	case OutcomeBlocked:
		if v.Scope == scopeAddress {
			return &AddressBlockedError{Address: a.Address, Until: v.Until, Reason: v.Reason}
		}
		return &AccountLockedError{Subject: a.Identifier, Until: v.Until, Reason: v.Reason}
	case OutcomeRateLimited:
		return &RateLimitedError{RetryAfter: v.RetryAfter, Reason: v.Reason}
	}
	return nil
}

const (
	scopeAccount = "account"
	scopeAddress = "address"
)

// Guard is the security coordinator. It is safe for concurrent use.
type Guard struct {
	cfg     Config
	clock   clock.Clock
	logger  zerolog.Logger
	store   store.Store
	creds   *credential.Manager
	hasher  *password.Hasher
	limiter *rate.Limiter
	locks   *lockout.Manager
	blocks  *blocklist.Manager
	history *risk.History
	riskCfg risk.Config
	audit   *audit.Dispatcher
	metrics *Metrics

	sweeps      singleflight.Group
	sweeperMu   sync.Mutex
	sweeperStop chan struct{}
	sweeperDone chan struct{}
	closed      atomic.Bool
}

// Close stops the background sweeper and flushes the audit dispatcher.
func (g *Guard) Close() {
	if g == nil || !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.StopSweeper()
	g.audit.Close()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (g *Guard) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters.
func (g *Guard) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// Metrics exposes the live metric set for exporters.
func (g *Guard) Metrics() *Metrics {
	if g == nil {
		return nil
	}
	return g.metrics
}

// Config returns a copy of the active configuration.
func (g *Guard) Config() Config {
	return cloneConfig(g.cfg)
}

func (g *Guard) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func identifierHistoryKey(identifier string) string { return "id:" + identifier }
func addressHistoryKey(address string) string       { return "ip:" + address }
func addressRateKey(address string) string          { return "addr:" + address }

func (g *Guard) canonicalAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", nil
	}
	addr, err := blocklist.ParseAddress(address)
	if err != nil {
		return "", invalid("address", "not an IP address")
	}
	return addr.String(), nil
}

// AuthenticateGate evaluates a login-style attempt.
func (g *Guard) AuthenticateGate(ctx context.Context, identifier, address, userAgent, action string) (Verdict, error) {
	return g.Evaluate(ctx, Attempt{
		Identifier: identifier,
		Address:    address,
		UserAgent:  userAgent,
		Action:     action,
	})
}

// Evaluate runs the gates in order: account lock, address block, rate
// limit, risk scoring. The first denying gate ends evaluation. Backend
// failures in the lock, block and rate gates fail open and are listed in
// Verdict.Degraded. The returned error is non-nil only for invalid input.
func (g *Guard) Evaluate(ctx context.Context, a Attempt) (Verdict, error) {
	if g.closed.Load() {
		return Verdict{}, ErrGuardClosed
	}
	start := time.Now()
	defer func() {
		if g.metrics.LatencyEnabled() {
			g.metrics.Observe(MetricGateLatency, time.Since(start))
		}
	}()

	a.Identifier = strings.TrimSpace(a.Identifier)
	if a.Identifier == "" {
		return Verdict{}, invalid("identifier", "required")
	}
	if a.Action == "" {
		a.Action = ActionLogin
	}
	address, err := g.canonicalAddress(a.Address)
	if err != nil {
		return Verdict{}, err
	}
	a.Address = address

	v := g.evaluate(ctx, a)
	g.recordVerdict(ctx, a, v)
	return v, nil
}

func (g *Guard) evaluate(ctx context.Context, a Attempt) Verdict {
	var v Verdict
	now := g.clock.Now()

	rec, err := g.locks.Active(ctx, a.Identifier)
	switch {
	case err != nil:
		g.degrade(&v, "lockout", MetricLockoutDegraded, err)
	case rec != nil:
		v.Outcome = OutcomeBlocked
		v.Scope = scopeAccount
		v.Reason = rec.Message()
		if rec.LockedUntil != nil {
			v.Until = *rec.LockedUntil
			v.RetryAfter = rec.LockedUntil.Sub(now)
		}
		return v
	}

	if a.Address != "" {
		block, err := g.blocks.Active(ctx, a.Address)
		switch {
		case err != nil:
			g.degrade(&v, "blocklist", MetricBlocklistDegraded, err)
		case block != nil:
			v.Outcome = OutcomeBlocked
			v.Scope = scopeAddress
			v.Reason = block.Message()
			if block.UnblockAt != nil {
				v.Until = *block.UnblockAt
				v.RetryAfter = block.UnblockAt.Sub(now)
			}
			return v
		}
	}

	keys := [][2]string{{scopeAccount, a.Identifier}}
	if a.Address != "" && g.cfg.RateLimit.LimitByAddress {
		keys = append(keys, [2]string{scopeAddress, addressRateKey(a.Address)})
	}
	for _, key := range keys {
		d, err := g.limiter.Check(ctx, key[1], a.Action)
		if err != nil {
			g.degrade(&v, "rate_limit", MetricRateLimitDegraded, err)
			continue
		}
		if !d.Allowed {
			v.Outcome = OutcomeRateLimited
			v.Scope = key[0]
			v.Reason = d.Reason
			v.RetryAfter = d.RetryAfter
			return v
		}
	}

	v.Outcome = OutcomeAllow
	if !g.cfg.Risk.Enabled {
		return v
	}

	in := risk.Input{
		Now:               now,
		Address:           a.Address,
		Location:          a.Location,
		UserAgent:         a.UserAgent,
		IdentifierHistory: g.history.Recent(identifierHistoryKey(a.Identifier), now),
	}
	if a.Address != "" {
		in.AddressHistory = g.history.Recent(addressHistoryKey(a.Address), now)
	}
	assessment := risk.Assess(g.riskCfg, in)
	v.Risk = &assessment

	if assessment.Level == risk.Critical {
		v.Outcome = OutcomeRequiresVerification
		v.Reason = "critical risk score"
		if g.cfg.Risk.EscalateCritical {
			if _, err := g.RespondToViolation(ctx, a.Identifier, a.Address, ViolationSuspiciousActivity, SeverityCritical); err != nil {
				g.logger.Warn().Err(err).Str("identifier", a.Identifier).Msg("critical risk escalation failed")
			}
		}
	}
	return v
}

func (g *Guard) degrade(v *Verdict, gate string, id MetricID, err error) {
	v.Degraded = append(v.Degraded, gate)
	g.metricInc(id)
	g.logger.Warn().Err(err).Str("gate", gate).Msg("gate check failed open")
}

func (g *Guard) recordVerdict(ctx context.Context, a Attempt, v Verdict) {
	switch v.Outcome {
	case OutcomeAllow:
		g.metricInc(MetricGateAllowed)
	case OutcomeBlocked:
		g.metricInc(MetricGateBlocked)
	case OutcomeRateLimited:
		g.metricInc(MetricGateRateLimited)
	case OutcomeRequiresVerification:
		g.metricInc(MetricGateRequiresVerification)
	}

	g.emitAudit(ctx, audit.Event{
		EventType: audit.EventGateDecision,
		Subject:   a.Identifier,
		Address:   a.Address,
		Action:    a.Action,
		Outcome:   string(v.Outcome),
		Success:   v.Outcome == OutcomeAllow,
	}, func() map[string]string {
		md := map[string]string{}
		if v.Reason != "" {
			md["reason"] = v.Reason
		}
		if v.Risk != nil {
			md["risk_level"] = string(v.Risk.Level)
		}
		if len(v.Degraded) > 0 {
			md["degraded"] = strings.Join(v.Degraded, ",")
		}
		return md
	})
}

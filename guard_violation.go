package goGuard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/blocklist"
	"github.com/MrEthical07/goGuard/internal/lockout"
)

// ViolationType names a class of abuse.
type ViolationType string

const (
	ViolationBruteForce         ViolationType = "brute_force"
	ViolationRateLimitAbuse     ViolationType = "rate_limit_abuse"
	ViolationCredentialStuffing ViolationType = "credential_stuffing"
	ViolationTokenReplay        ViolationType = "token_replay"
	ViolationSuspiciousActivity ViolationType = "suspicious_activity"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// LockRecord is an account lock.
type LockRecord = lockout.Record

// BlockRecord is an address block.
type BlockRecord = blocklist.Record

// response is one cell of the severity table. Zero durations mean no action.
type response struct {
	lock           time.Duration
	block          time.Duration
	permanentBlock bool
	revokeAll      bool
}

const day = 24 * time.Hour

// responses is indexed by severityRank.
var responses = map[ViolationType][4]response{
	ViolationBruteForce: {
		{lock: 15 * time.Minute},
		{lock: 30 * time.Minute, block: time.Hour},
		{lock: time.Hour, block: day},
		{lock: day, block: day},
	},
	ViolationRateLimitAbuse: {
		{block: 5 * time.Minute},
		{block: 30 * time.Minute},
		{block: time.Hour},
		{block: day},
	},
	ViolationCredentialStuffing: {
		{block: 15 * time.Minute},
		{block: time.Hour},
		{block: day},
		{permanentBlock: true},
	},
	ViolationTokenReplay: {
		{revokeAll: true},
		{revokeAll: true, lock: 15 * time.Minute},
		{revokeAll: true, lock: time.Hour},
		{revokeAll: true, lock: day, block: time.Hour},
	},
	ViolationSuspiciousActivity: {
		{},
		{lock: 15 * time.Minute},
		{lock: time.Hour},
		{block: 15 * time.Minute},
	},
}

// ViolationResult reports what RespondToViolation changed.
type ViolationResult struct {
	Type     ViolationType
	Severity Severity
	Lock     *LockRecord
	Block    *BlockRecord
	Revoked  int
	// Actions lists applied actions in order, e.g. "lock", "block", "revoke_all".
	Actions []string
}

// ReportViolation is RespondToViolation under the name used by callers that
// detect abuse outside the gate.
func (g *Guard) ReportViolation(ctx context.Context, identifier, address string, vt ViolationType, sev Severity) (ViolationResult, error) {
	return g.RespondToViolation(ctx, identifier, address, vt, sev)
}

// RespondToViolation applies the severity table for vt and sev: locks the
// identifier, blocks the address and revokes credentials as listed.
// Actions needing an empty identifier or address are skipped. Durations are
// clamped to the configured maxima. Every action is attempted; failures are
// joined into the returned error. The maintenance sweeps run afterwards when
// SweepOnResponse is set and their failures are only logged.
func (g *Guard) RespondToViolation(ctx context.Context, identifier, address string, vt ViolationType, sev Severity) (ViolationResult, error) {
	row, ok := responses[vt]
	if !ok {
		return ViolationResult{}, invalid("violation_type", fmt.Sprintf("unknown %q", vt))
	}
	rank, ok := severityRank[sev]
	if !ok {
		return ViolationResult{}, invalid("severity", fmt.Sprintf("unknown %q", sev))
	}
	identifier = strings.TrimSpace(identifier)
	address, err := g.canonicalAddress(address)
	if err != nil {
		return ViolationResult{}, err
	}

	r := row[rank]
	res := ViolationResult{Type: vt, Severity: sev}
	reason := string(vt) + "/" + string(sev)
	var errs []error

	if r.revokeAll && identifier != "" {
		n, err := g.creds.RevokeAll(ctx, identifier)
		if err != nil {
			errs = append(errs, fmt.Errorf("revoke all: %w", err))
		}
		res.Revoked = n
		res.Actions = append(res.Actions, "revoke_all")
		if n > 0 && g.metrics != nil {
			g.metrics.Add(MetricCredentialsRevoked, uint64(n))
		}
	}

	if r.lock > 0 && identifier != "" {
		rec, err := g.locks.Lock(ctx, identifier, reason, r.lock)
		if err != nil {
			errs = append(errs, fmt.Errorf("lock: %w", err))
		} else {
			res.Lock = &rec
			res.Actions = append(res.Actions, "lock")
			g.metricInc(MetricAccountLocked)
			g.emitAudit(ctx, audit.Event{
				EventType: audit.EventAccountLocked,
				Subject:   identifier,
				Severity:  string(sev),
				Success:   true,
			}, func() map[string]string {
				return map[string]string{"reason": reason, "duration": r.lock.String()}
			})
		}
	}

	if (r.block > 0 || r.permanentBlock) && address != "" {
		var (
			rec BlockRecord
			err error
		)
		if r.permanentBlock {
			rec, err = g.blocks.BlockPermanent(ctx, address, reason)
		} else {
			rec, err = g.blocks.Block(ctx, address, reason, r.block)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("block: %w", err))
		} else {
			res.Block = &rec
			res.Actions = append(res.Actions, "block")
			g.metricInc(MetricAddressBlocked)
			g.emitAudit(ctx, audit.Event{
				EventType: audit.EventAddressBlocked,
				Address:   address,
				Severity:  string(sev),
				Success:   true,
			}, func() map[string]string {
				return map[string]string{"reason": reason, "kind": string(rec.Kind)}
			})
		}
	}

	g.metricInc(MetricViolation)
	err = errors.Join(errs...)
	g.emitAuditErr(ctx, audit.Event{
		EventType: audit.EventViolation,
		Subject:   identifier,
		Address:   address,
		Outcome:   string(vt),
		Severity:  string(sev),
	}, err, func() map[string]string {
		return map[string]string{
			"actions": strings.Join(res.Actions, ","),
			"revoked": strconv.Itoa(res.Revoked),
		}
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("violation", string(vt)).Str("severity", string(sev)).Msg("violation response incomplete")
	}

	if g.cfg.Violation.SweepOnResponse {
		if _, serr := g.Sweep(ctx); serr != nil {
			g.logger.Warn().Err(serr).Msg("post-violation sweep failed")
		}
	}
	return res, err
}

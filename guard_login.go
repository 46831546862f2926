package goGuard

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/risk"
)

// LoginFeedback reports the side effects of RecordLoginResult.
type LoginFeedback struct {
	// Failures is the failure count inside the lockout window after this result.
	Failures int
	// Violation is set when the failure threshold triggered a brute_force response.
	Violation *ViolationResult
}

// RecordLoginResult feeds the outcome of a credential check back into the
// guard. Every result is added to the risk history of the identifier and
// the address. A success clears the failure counter. A failure is counted
// and, once the lockout threshold is reached, answered with a brute_force
// violation: medium severity at the threshold, high at twice it.
//
// Failure tracking fails open: store errors are logged, not returned.
func (g *Guard) RecordLoginResult(ctx context.Context, identifier, address, userAgent, location string, success bool) (LoginFeedback, error) {
	if g.closed.Load() {
		return LoginFeedback{}, ErrGuardClosed
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return LoginFeedback{}, invalid("identifier", "required")
	}
	address, err := g.canonicalAddress(address)
	if err != nil {
		return LoginFeedback{}, err
	}

	attempt := risk.Attempt{
		At:        g.clock.Now(),
		Success:   success,
		Address:   address,
		Location:  location,
		UserAgent: userAgent,
	}
	g.history.Record(identifierHistoryKey(identifier), attempt)
	if address != "" {
		g.history.Record(addressHistoryKey(address), attempt)
	}

	var fb LoginFeedback
	defer func() {
		g.emitAudit(ctx, audit.Event{
			EventType: audit.EventLoginResult,
			Subject:   identifier,
			Address:   address,
			Success:   success,
		}, func() map[string]string {
			if success {
				return nil
			}
			return map[string]string{"failures": strconv.Itoa(fb.Failures)}
		})
	}()

	if success {
		if err := g.locks.ResetFailures(ctx, identifier); err != nil {
			g.degradeLog("lockout", MetricLockoutDegraded, err)
		}
		return fb, nil
	}

	g.metricInc(MetricLoginFailure)
	count, reached, err := g.locks.RecordFailure(ctx, identifier)
	if err != nil {
		g.degradeLog("lockout", MetricLockoutDegraded, err)
		return fb, nil
	}
	fb.Failures = count
	if !reached || !g.cfg.Lockout.AutoLockout {
		return fb, nil
	}

	sev := SeverityMedium
	if count >= 2*g.cfg.Lockout.FailureThreshold {
		sev = SeverityHigh
	}
	res, err := g.RespondToViolation(ctx, identifier, address, ViolationBruteForce, sev)
	if err != nil {
		g.logger.Warn().Err(err).Str("identifier", identifier).Msg("auto lockout incomplete")
	}
	fb.Violation = &res
	return fb, nil
}

func (g *Guard) degradeLog(gate string, id MetricID, err error) {
	g.metricInc(id)
	g.logger.Warn().Err(err).Str("gate", gate).Msg("failure tracking degraded")
}

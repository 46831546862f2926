package goGuard

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/goGuard/credential"
	"github.com/MrEthical07/goGuard/internal/audit"
)

// CredentialPair is an issued access and refresh token pair.
type CredentialPair = credential.Pair

// AccessClaims is the verified content of an access token.
type AccessClaims = credential.Claims

// CredentialRecord is the persisted state of one refresh token.
type CredentialRecord = credential.Record

// IssueCredentials creates a new pair for subject. It fails closed with
// ErrStoreUnavailable when the refresh record cannot be persisted.
func (g *Guard) IssueCredentials(ctx context.Context, subject string, claims map[string]any) (CredentialPair, error) {
	if g.closed.Load() {
		return CredentialPair{}, ErrGuardClosed
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return CredentialPair{}, invalid("subject", "required")
	}

	pair, err := g.creds.Issue(ctx, subject, claims)
	g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialsIssued, Subject: subject}, err, nil)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			g.logger.Error().Err(err).Str("subject", subject).Msg("credential issuance failed closed")
		}
		return CredentialPair{}, err
	}
	g.metricInc(MetricCredentialsIssued)
	return pair, nil
}

// RotateCredentials spends refresh and returns its successor. Presenting a
// token that was already spent or revoked fails with ErrTokenRevoked and,
// when RevokeAllOnReplay is set, revokes every credential of the subject.
func (g *Guard) RotateCredentials(ctx context.Context, refresh string) (CredentialPair, error) {
	if g.closed.Load() {
		return CredentialPair{}, ErrGuardClosed
	}
	pair, err := g.creds.Rotate(ctx, refresh)
	if err == nil {
		g.metricInc(MetricCredentialsRotated)
		g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialRotated, Subject: pair.Subject}, nil, nil)
		return pair, nil
	}

	var revoked *credential.RevokedError
	if !errors.As(err, &revoked) {
		g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialRotated}, err, nil)
		return CredentialPair{}, err
	}

	g.metricInc(MetricTokenReplay)
	g.logger.Warn().Str("subject", revoked.Subject).Str("jti", revoked.ID).Msg("refresh token replay detected")
	g.emitAudit(ctx, audit.Event{
		EventType: audit.EventTokenReplay,
		Subject:   revoked.Subject,
		Severity:  string(g.cfg.Violation.ReplaySeverity),
		Error:     string(auditErrTokenRevoked),
	}, func() map[string]string {
		return map[string]string{"jti": revoked.ID}
	})
	if g.cfg.Violation.RevokeAllOnReplay {
		if _, rerr := g.RespondToViolation(ctx, revoked.Subject, "", ViolationTokenReplay, g.cfg.Violation.ReplaySeverity); rerr != nil {
			g.logger.Warn().Err(rerr).Str("subject", revoked.Subject).Msg("token replay response incomplete")
		}
	}
	return CredentialPair{}, err
}

// RevokeCredentials revokes one refresh token. Unknown, malformed and
// already revoked tokens succeed; only store failures are returned.
func (g *Guard) RevokeCredentials(ctx context.Context, refresh string) error {
	_, err := g.creds.Revoke(ctx, refresh)
	if err != nil {
		g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialRevoked}, err, nil)
		return err
	}
	g.metricInc(MetricCredentialsRevoked)
	g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialRevoked}, nil, nil)
	return nil
}

// RevokeAllCredentials revokes every live refresh token of subject and
// returns how many changed state.
func (g *Guard) RevokeAllCredentials(ctx context.Context, subject string) (int, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return 0, invalid("subject", "required")
	}
	n, err := g.creds.RevokeAll(ctx, subject)
	if n > 0 && g.metrics != nil {
		g.metrics.Add(MetricCredentialsRevoked, uint64(n))
	}
	g.emitAuditErr(ctx, audit.Event{EventType: audit.EventCredentialRevoked, Subject: subject}, err, func() map[string]string {
		return map[string]string{"scope": "all", "count": strconv.Itoa(n)}
	})
	return n, err
}

// VerifyAccess validates an access token without touching the store.
func (g *Guard) VerifyAccess(token string) (*AccessClaims, error) {
	return g.creds.VerifyAccess(token)
}

// LookupCredential returns the stored record behind a refresh token.
func (g *Guard) LookupCredential(ctx context.Context, refresh string) (*CredentialRecord, error) {
	return g.creds.Lookup(ctx, refresh)
}

// ActiveCredentials counts live refresh tokens of subject.
func (g *Guard) ActiveCredentials(ctx context.Context, subject string) (int, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return 0, invalid("subject", "required")
	}
	return g.creds.ActiveCount(ctx, subject)
}

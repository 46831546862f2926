package goGuard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/clock"
)

func TestIssueAndVerifyAccess(t *testing.T) {
	g, fake := newTestGuard(t, nil)
	ctx := context.Background()

	pair, err := g.IssueCredentials(ctx, " alice ", map[string]any{"tier": "gold"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if pair.Subject != "alice" {
		t.Fatalf("expected trimmed subject, got %q", pair.Subject)
	}

	claims, err := g.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Subject != "alice" || claims.Extra["tier"] != "gold" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := g.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}

	fake.Advance(20 * time.Minute)
	if _, err := g.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if n, err := g.ActiveCredentials(ctx, "alice"); err != nil || n != 1 {
		t.Fatalf("expected one active credential, n=%d err=%v", n, err)
	}
	if g.MetricsSnapshot().Counters[MetricCredentialsIssued] != 1 {
		t.Fatal("expected issued metric")
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	_, err := g.IssueCredentials(context.Background(), "   ", nil)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "subject" {
		t.Fatalf("expected subject validation error, got %v", err)
	}
}

func TestRotateSpendsRefreshToken(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	pair, err := g.IssueCredentials(ctx, "bob", nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	next, err := g.RotateCredentials(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	rec, err := g.LookupCredential(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !rec.Revoked || rec.ReplacedBy == "" {
		t.Fatalf("expected spent predecessor, got %+v", rec)
	}
	if n, _ := g.ActiveCredentials(ctx, "bob"); n != 1 {
		t.Fatalf("expected exactly the successor to be active, got %d", n)
	}
}

func TestRotateReplayRevokesEverything(t *testing.T) {
	sink := NewChannelSink(64)
	g, _ := buildAuditTestGuard(t, sink, nil)
	ctx := context.Background()

	first, err := g.IssueCredentials(ctx, "carol", nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	other, err := g.IssueCredentials(ctx, "carol", nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := g.RotateCredentials(ctx, first.RefreshToken); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	_, err = g.RotateCredentials(ctx, first.RefreshToken)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on replay, got %v", err)
	}
	if n, _ := g.ActiveCredentials(ctx, "carol"); n != 0 {
		t.Fatalf("replay must revoke every credential of the subject, %d left", n)
	}
	if _, err := g.RotateCredentials(ctx, other.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("unrelated token must be revoked too, got %v", err)
	}
	if locked, _, _ := g.IsLocked(ctx, "carol"); locked {
		t.Fatal("low severity replay must not lock the account")
	}
	if g.MetricsSnapshot().Counters[MetricTokenReplay] < 1 {
		t.Fatal("expected replay metric")
	}

	replays := eventsOfType(drainEvents(t, g, sink), AuditTokenReplay)
	if len(replays) == 0 {
		t.Fatal("expected a token_replay audit event")
	}
	if replays[0].Subject != "carol" || replays[0].Error != string(auditErrTokenRevoked) {
		t.Fatalf("unexpected replay event %+v", replays[0])
	}
}

func TestRotateReplayWithHigherSeverityLocks(t *testing.T) {
	g, _ := newTestGuard(t, func(c *Config) { c.Violation.ReplaySeverity = SeverityMedium })
	ctx := context.Background()

	pair, err := g.IssueCredentials(ctx, "dan", nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := g.RotateCredentials(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if _, err := g.RotateCredentials(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected replay error, got %v", err)
	}
	if locked, _, _ := g.IsLocked(ctx, "dan"); !locked {
		t.Fatal("medium severity replay must lock the account")
	}
}

func TestRotateReplayResponseCanBeDisabled(t *testing.T) {
	g, _ := newTestGuard(t, func(c *Config) { c.Violation.RevokeAllOnReplay = false })
	ctx := context.Background()

	pair, _ := g.IssueCredentials(ctx, "erin", nil)
	next, err := g.RotateCredentials(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if _, err := g.RotateCredentials(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected replay error, got %v", err)
	}
	if _, err := g.RotateCredentials(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor must survive when replay response is off: %v", err)
	}
}

func TestRevokeCredentials(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	pair, _ := g.IssueCredentials(ctx, "frank", nil)
	if err := g.RevokeCredentials(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := g.RevokeCredentials(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second revoke must succeed: %v", err)
	}
	if err := g.RevokeCredentials(ctx, "not-a-token"); err != nil {
		t.Fatalf("unknown tokens must revoke cleanly: %v", err)
	}
	if _, err := g.RotateCredentials(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail rotation, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := g.IssueCredentials(ctx, "frank", nil); err != nil {
			t.Fatalf("issue failed: %v", err)
		}
	}
	n, err := g.RevokeAllCredentials(ctx, "frank")
	if err != nil || n != 3 {
		t.Fatalf("expected three revocations, n=%d err=%v", n, err)
	}
}

func TestCredentialsFailClosedWhenStoreDown(t *testing.T) {
	mr, client := newTestRedis(t)
	g, err := New().WithConfig(testConfig(t)).WithClock(clock.NewFake(testStart)).WithRedis(client).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer g.Close()
	ctx := context.Background()

	pair, err := g.IssueCredentials(ctx, "gina", nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	mr.Close()

	if _, err := g.RotateCredentials(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("rotation must fail closed, got %v", err)
	}
	if err := g.RevokeCredentials(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("revocation must surface store errors, got %v", err)
	}
	if _, err := g.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("access verification is stateless and must still work: %v", err)
	}
}

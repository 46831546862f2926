package goGuard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordLoginResultAutoLockout(t *testing.T) {
	g, fake := newTestGuard(t, nil)
	ctx := context.Background()
	const addr = "203.0.113.40"

	for i := 1; i < 5; i++ {
		fb, err := g.RecordLoginResult(ctx, "alice", addr, browserUA, "", false)
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
		if fb.Failures != i || fb.Violation != nil {
			t.Fatalf("failure %d: unexpected feedback %+v", i, fb)
		}
	}

	fb, err := g.RecordLoginResult(ctx, "alice", addr, browserUA, "", false)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if fb.Failures != 5 || fb.Violation == nil {
		t.Fatalf("expected threshold violation, got %+v", fb)
	}
	if fb.Violation.Type != ViolationBruteForce || fb.Violation.Severity != SeverityMedium {
		t.Fatalf("expected brute_force/medium, got %+v", fb.Violation)
	}
	if !fb.Violation.Lock.LockedUntil.Equal(fake.Now().Add(30 * time.Minute)) {
		t.Fatalf("expected 30m lock, got %+v", fb.Violation.Lock)
	}

	v := evaluate(t, g, Attempt{Identifier: "alice", Address: addr, UserAgent: browserUA})
	if v.Outcome != OutcomeBlocked || v.Scope != scopeAccount {
		t.Fatalf("expected locked account, got %+v", v)
	}
	if err := v.Err(Attempt{Identifier: "alice"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if g.MetricsSnapshot().Counters[MetricLoginFailure] != 5 {
		t.Fatalf("expected five login failures, got %d", g.MetricsSnapshot().Counters[MetricLoginFailure])
	}
}

func TestRecordLoginResultEscalatesAtTwiceThreshold(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	var fb LoginFeedback
	for i := 0; i < 10; i++ {
		var err error
		fb, err = g.RecordLoginResult(ctx, "bob", "", browserUA, "", false)
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if fb.Failures != 10 || fb.Violation == nil || fb.Violation.Severity != SeverityHigh {
		t.Fatalf("expected high severity at twice the threshold, got %+v", fb)
	}
	if fb.Violation.Block != nil {
		t.Fatal("no address given: nothing to block")
	}
}

func TestRecordLoginResultSuccessResetsFailures(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := g.RecordLoginResult(ctx, "carol", "203.0.113.41", browserUA, "", false); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if _, err := g.RecordLoginResult(ctx, "carol", "203.0.113.41", browserUA, "", true); err != nil {
		t.Fatalf("record success failed: %v", err)
	}

	fb, err := g.RecordLoginResult(ctx, "carol", "203.0.113.41", browserUA, "", false)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if fb.Failures != 1 || fb.Violation != nil {
		t.Fatalf("expected counter restart after success, got %+v", fb)
	}
}

func TestRecordLoginResultAutoLockoutDisabled(t *testing.T) {
	g, _ := newTestGuard(t, func(c *Config) { c.Lockout.AutoLockout = false })
	ctx := context.Background()

	var fb LoginFeedback
	for i := 0; i < 6; i++ {
		fb, _ = g.RecordLoginResult(ctx, "dave", "", browserUA, "", false)
	}
	if fb.Violation != nil {
		t.Fatalf("expected no violation, got %+v", fb.Violation)
	}
	if locked, _, _ := g.IsLocked(ctx, "dave"); locked {
		t.Fatal("account must stay unlocked")
	}
}

func TestRecordLoginResultFailuresAgeOut(t *testing.T) {
	g, fake := newTestGuard(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := g.RecordLoginResult(ctx, "erin", "", browserUA, "", false); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	fake.Advance(16 * time.Minute)
	fb, err := g.RecordLoginResult(ctx, "erin", "", browserUA, "", false)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if fb.Failures != 1 {
		t.Fatalf("failures outside the window must not count, got %d", fb.Failures)
	}
}

func TestRecordLoginResultFailsOpen(t *testing.T) {
	mr, client := newTestRedis(t)
	g, err := New().WithConfig(testConfig(t)).WithRedis(client).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer g.Close()
	mr.Close()

	fb, err := g.RecordLoginResult(context.Background(), "frank", "203.0.113.42", browserUA, "", false)
	if err != nil {
		t.Fatalf("store errors must not surface, got %v", err)
	}
	if fb.Failures != 0 {
		t.Fatalf("expected no count with the store down, got %d", fb.Failures)
	}
	if g.MetricsSnapshot().Counters[MetricLockoutDegraded] != 1 {
		t.Fatal("expected degraded lockout metric")
	}
}

func TestRecordLoginResultValidation(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	if _, err := g.RecordLoginResult(context.Background(), "", "", "", "", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := g.RecordLoginResult(context.Background(), "gina", "bad::ip::", "", "", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected address validation error, got %v", err)
	}
}

package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("expected %v, got %v", start, got)
	}

	next := c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !next.Equal(want) || !c.Now().Equal(want) {
		t.Fatalf("expected %v after advance, got %v", want, c.Now())
	}
}

func TestOrSystemFallsBack(t *testing.T) {
	if OrSystem(nil) == nil {
		t.Fatal("expected system clock for nil input")
	}
	f := NewFake(time.Unix(0, 0))
	if OrSystem(f) != Clock(f) {
		t.Fatal("expected provided clock to be returned")
	}
}

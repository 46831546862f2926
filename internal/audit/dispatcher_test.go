package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, typ := range []string{EventViolation, EventAccountLocked, EventAddressBlocked} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	d.Close()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case e := <-sink.Events():
			got = append(got, e.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	if strings.Join(got, ",") != "violation,account_locked,address_blocked" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventSweep})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	d.Close()

	d.Emit(context.Background(), Event{EventType: EventSweep})
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports no drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: EventTokenReplay, Subject: "u1"})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["event_type"] != EventTokenReplay || decoded["subject"] != "u1" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLoggerSink(zerolog.New(&buf))
	sink.Emit(context.Background(), Event{
		EventType: EventAccountLocked,
		Subject:   "u1",
		Success:   false,
		Metadata:  map[string]string{"reason": "brute_force"},
	})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["level"] != "warn" || decoded["event"] != EventAccountLocked || decoded["component"] != "audit" {
		t.Fatalf("unexpected log line %v", decoded)
	}
	meta, _ := decoded["metadata"].(map[string]any)
	if meta["reason"] != "brute_force" {
		t.Fatalf("expected metadata dict, got %v", decoded["metadata"])
	}
}

func TestDispatcherRetainsEnforcementEvents(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	var droppedTypes []string
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		OnDrop:     func(e Event) { droppedTypes = append(droppedTypes, e.EventType) },
	}, sink)

	// Stall the delivery goroutine, then fill the buffer.
	d.Emit(context.Background(), Event{EventType: EventGateDecision})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: EventGateDecision})
	d.Emit(context.Background(), Event{EventType: EventGateDecision})

	queued := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: EventTokenReplay})
		close(queued)
	}()
	select {
	case <-queued:
		t.Fatal("retained event must wait for buffer space")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.release)
	<-queued
	d.Close()

	var sawReplay bool
	for len(sink.got) > 0 {
		if e := <-sink.got; e.EventType == EventTokenReplay {
			sawReplay = true
		}
	}
	if !sawReplay {
		t.Fatal("retained event was not delivered")
	}
	for _, typ := range droppedTypes {
		if typ != EventGateDecision {
			t.Fatalf("only routine events may be dropped, got %s", typ)
		}
	}
}

func TestDispatcherRetainedEventHonoursContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	var dropped []string
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		OnDrop:     func(e Event) { dropped = append(dropped, e.EventType) },
	}, sink)

	d.Emit(context.Background(), Event{EventType: EventSweep})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: EventSweep})
	d.Emit(context.Background(), Event{EventType: EventSweep})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: EventViolation})

	if len(dropped) == 0 || dropped[len(dropped)-1] != EventViolation {
		t.Fatalf("expected the violation to be dropped after its context ended, got %v", dropped)
	}
	close(sink.release)
	d.Close()
}

func TestEventRetained(t *testing.T) {
	for _, typ := range []string{EventTokenReplay, EventViolation, EventAccountLocked, EventAddressBlocked} {
		if !(Event{EventType: typ}).Retained() {
			t.Fatalf("%s must be retained", typ)
		}
	}
	for _, typ := range []string{EventGateDecision, EventLoginResult, EventSweep, EventAccountUnlocked} {
		if (Event{EventType: typ}).Retained() {
			t.Fatalf("%s must be droppable", typ)
		}
	}
}

package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the coordinator.
const (
	EventGateDecision      = "gate_decision"
	EventLoginResult       = "login_result"
	EventCredentialsIssued = "credentials_issued"
	EventCredentialRotated = "credential_rotated"
	EventCredentialRevoked = "credential_revoked"
	EventTokenReplay       = "token_replay"
	EventViolation         = "violation"
	EventAccountLocked     = "account_locked"
	EventAccountUnlocked   = "account_unlocked"
	EventAddressBlocked    = "address_blocked"
	EventAddressUnblocked  = "address_unblocked"
	EventSweep             = "sweep"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	Address   string            `json:"address,omitempty"`
	Action    string            `json:"action,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Severity  string            `json:"severity,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Retained reports whether ev records an enforcement action. Such events
// are never dropped for buffer pressure.
func (ev Event) Retained() bool {
	switch ev.EventType {
	case EventTokenReplay, EventViolation, EventAccountLocked, EventAddressBlocked:
		return true
	}
	return false
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LoggerSink writes events through zerolog. Failed events log at warn level.
type LoggerSink struct {
	logger zerolog.Logger
}

func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LoggerSink) Emit(_ context.Context, event Event) {
	e := s.logger.Info()
	if !event.Success {
		e = s.logger.Warn()
	}
	e = e.Time("at", event.Timestamp).
		Str("event", event.EventType).
		Bool("success", event.Success)
	if event.Subject != "" {
		e = e.Str("subject", event.Subject)
	}
	if event.Address != "" {
		e = e.Str("address", event.Address)
	}
	if event.Action != "" {
		e = e.Str("action", event.Action)
	}
	if event.Outcome != "" {
		e = e.Str("outcome", event.Outcome)
	}
	if event.Severity != "" {
		e = e.Str("severity", event.Severity)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		d := zerolog.Dict()
		for k, v := range event.Metadata {
			d = d.Str(k, v)
		}
		e = e.Dict("metadata", d)
	}
	e.Send()
}

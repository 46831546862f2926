package goGuard

import (
	"io"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// LoggerSink writes events through a zerolog logger.
type LoggerSink = audit.LoggerSink

// Audit event types.
const (
	AuditGateDecision      = audit.EventGateDecision
	AuditLoginResult       = audit.EventLoginResult
	AuditCredentialsIssued = audit.EventCredentialsIssued
	AuditCredentialRotated = audit.EventCredentialRotated
	AuditCredentialRevoked = audit.EventCredentialRevoked
	AuditTokenReplay       = audit.EventTokenReplay
	AuditViolation         = audit.EventViolation
	AuditAccountLocked     = audit.EventAccountLocked
	AuditAccountUnlocked   = audit.EventAccountUnlocked
	AuditAddressBlocked    = audit.EventAddressBlocked
	AuditAddressUnblocked  = audit.EventAddressUnblocked
	AuditSweep             = audit.EventSweep
)

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewLoggerSink returns a sink logging through logger.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink { return audit.NewLoggerSink(logger) }

package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAddressBlocked     AuditErrorCode = "address_blocked"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Guard) emitAudit(ctx context.Context, event audit.Event, metadataBuilder func() map[string]string) {
	if g == nil || g.audit == nil {
		return
	}
	if metadataBuilder != nil {
		if md := metadataBuilder(); len(md) > 0 {
			event.Metadata = md
		}
	}
	event.Timestamp = g.clock.Now().UTC()
	g.audit.Emit(ctx, event)
}

func (g *Guard) emitAuditErr(ctx context.Context, event audit.Event, err error, metadataBuilder func() map[string]string) {
	event.Success = err == nil
	event.Error = string(auditErrorCode(err))
	g.emitAudit(ctx, event, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAddressBlocked):
		return auditErrAddressBlocked
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

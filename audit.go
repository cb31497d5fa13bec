package opentoken

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/opentoken/internal/audit"
	"github.com/MrEthical07/opentoken/internal/flows"
)

const (
	AuditEventRegister         = internalaudit.Register
	AuditEventSecure           = internalaudit.Secure
	AuditEventConfirm          = internalaudit.Confirm
	AuditEventConfirmResent    = internalaudit.ConfirmResent
	AuditEventLoginSuccess     = internalaudit.LoginSuccess
	AuditEventLoginFailure     = internalaudit.LoginFailure
	AuditEventLoginRateLimited = internalaudit.LoginRateLimited
	AuditEventLogout           = internalaudit.Logout
	AuditEventMFARotated       = internalaudit.MFARotated
	AuditEventTokenCreated     = internalaudit.TokenCreated
	AuditEventTokenDeleted     = internalaudit.TokenDeleted
)

// AuditErrorCode is the stable error label carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidInput        AuditErrorCode = "invalid_input"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrUnknownRegistration AuditErrorCode = "unknown_registration"
	auditErrUnknownAccount      AuditErrorCode = "unknown_account"
	auditErrNotSecured          AuditErrorCode = "not_secured"
	auditErrAlreadySecured      AuditErrorCode = "already_secured"
	auditErrInvalidLink         AuditErrorCode = "invalid_link"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrStorage             AuditErrorCode = "storage_unavailable"
	auditErrMail                AuditErrorCode = "mail_failed"
	auditErrInternal            AuditErrorCode = "internal_error"
)

// DialKafkaSink connects a synchronous Kafka producer for audit events.
// Close the returned sink after the engine.
func DialKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	return internalaudit.DialKafka(cfg, logger)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		Subject:     subject,
		SubjectKind: internalaudit.SubjectKind(eventType, success),
		SessionID:   sessionID,
		ClientIP:    clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUnknownRegistration):
		return auditErrUnknownRegistration
	case errors.Is(err, ErrUnknownAccount):
		return auditErrUnknownAccount
	case errors.Is(err, ErrNotSecured):
		return auditErrNotSecured
	case errors.Is(err, ErrAlreadySecured):
		return auditErrAlreadySecured
	case errors.Is(err, ErrInvalidLink):
		return auditErrInvalidLink
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrStorage):
		return auditErrStorage
	case errors.Is(err, ErrMail):
		return auditErrMail
	default:
		return auditErrInternal
	}
}

func auditEvents() flows.Events {
	return flows.Events{
		Register:         AuditEventRegister,
		Secure:           AuditEventSecure,
		Confirm:          AuditEventConfirm,
		ConfirmResent:    AuditEventConfirmResent,
		LoginSuccess:     AuditEventLoginSuccess,
		LoginFailure:     AuditEventLoginFailure,
		LoginRateLimited: AuditEventLoginRateLimited,
		Logout:           AuditEventLogout,
		MFARotated:       AuditEventMFARotated,
		TokenCreated:     AuditEventTokenCreated,
		TokenDeleted:     AuditEventTokenDeleted,
	}
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

package goSession

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventRotationSuccess      = "rotation_success"
	auditEventGraceRotation        = "grace_rotation"
	auditEventAuthenticateRejected = "authenticate_rejected"
	auditEventForcedLogout         = "forced_logout"
	auditEventLogout               = "logout"
	auditEventRevokeOne            = "revoke_one"
	auditEventRevokeAll            = "revoke_all"
	auditEventAccessDenied         = "access_denied"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrNotAuthenticated   AuditErrorCode = "not_authenticated"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrDeviceMismatch     AuditErrorCode = "device_mismatch"
	auditErrRevoked            AuditErrorCode = "revoked"
	auditErrIntegrity          AuditErrorCode = "session_integrity_violation"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditSubject struct {
	userID   string
	deviceID string
	recordID string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
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
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    subject.userID,
		DeviceID:  subject.deviceID,
		RecordID:  subject.recordID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
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
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrDeviceMismatch):
		return auditErrDeviceMismatch
	case errors.Is(err, ErrRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrSessionIntegrityViolation):
		return auditErrIntegrity
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	default:
		return auditErrInternal
	}
}

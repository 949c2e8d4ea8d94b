package goSession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/internal/flows"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Authenticate runs the authentication state machine for one request.
//
// Cookie and session copies of the credentials are compared first; any
// divergence is a SessionIntegrityViolation. A verifying access token whose
// user matches the session yields StateAccessValid. Otherwise a resolvable refresh token is rotated under the
// per-user rotation lock and the new credentials are written to both the
// session and the cookies. Every other outcome is StateRejected: for the
// security-sensitive kinds the active refresh record is revoked with
// forced_logout and all credential material is cleared before returning.
//
// The returned error wraps one of ErrNotAuthenticated, ErrInvalidToken,
// ErrDeviceMismatch, ErrRevoked, ErrSessionIntegrityViolation or
// ErrInternalFailure.
//
//	Docs: docs/engine.md
func (e *Engine) Authenticate(ctx context.Context, req Request) (AuthResult, error) {
	if !e.ready() {
		return AuthResult{State: StateRejected, Reason: "engine_not_ready"}, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricAuthenticateLatency, start)

	ctx, span := e.tracer.Start(ctx, "goSession.Authenticate")
	defer span.End()

	creds := e.readCredentials(req)
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", StateAnonymous.String())))

	if creds.userID == "" && creds.accessToken == "" {
		e.metricInc(MetricAuthenticateAnonymous)
		return e.reject(ctx, span, req, creds, ErrNotAuthenticated, "no_credentials", nil)
	}

	if field, ok := e.checkChannels(req); !ok {
		e.metricInc(MetricIntegrityViolation)
		return e.reject(ctx, span, req, creds, ErrSessionIntegrityViolation, channelDiverged+field, nil)
	}

	if creds.accessToken != "" && creds.refreshTokenID != "" {
		if claims := e.tokens.VerifyAccess(creds.accessToken, creds.refreshTokenID); claims != nil {
			if claims.UserID != creds.userID {
				return e.reject(ctx, span, req, creds, ErrInvalidToken, "access_user_mismatch", nil)
			}
			ac := e.newAuthContext(creds, claims.ExpiresAt.Time, false)
			return e.accept(ctx, span, req, ac, false)
		}
	}

	if creds.refreshToken == "" || creds.userID == "" {
		if creds.accessToken != "" {
			return e.reject(ctx, span, req, creds, ErrInvalidToken, "access_invalid_no_refresh", nil)
		}
		return e.reject(ctx, span, req, creds, ErrNotAuthenticated, "no_refresh_token", nil)
	}

	return e.rotate(ctx, span, req, creds)
}

func (e *Engine) rotate(ctx context.Context, span trace.Span, req Request, creds credentials) (AuthResult, error) {
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", StateRefreshRotationNeeded.String())))
	start := time.Now()
	defer e.observeSince(MetricRotationLatency, start)

	ip, userAgent := requestMeta(ctx, req)
	in := flows.RotationInput{
		UserID:       creds.userID,
		DeviceID:     creds.deviceID,
		RefreshToken: creds.refreshToken,
		IPAddress:    ip,
		UserAgent:    userAgent,
	}

	v, shared, err := e.locker.WithLock(ctx, creds.userID, rotationFlightKey(creds.deviceID, creds.refreshToken),
		func(ctx context.Context) (any, error) {
			ctx, span := e.tracer.Start(ctx, "goSession.RunRotation")
			defer span.End()
			res := flows.RunRotation(ctx, in, e.flowDeps.Rotation)
			span.SetAttributes(attribute.String("failure", res.Failure.String()), attribute.Bool("grace", res.Grace))
			return res, nil
		})
	if err != nil {
		e.metricInc(MetricRotationFailure)
		return e.reject(ctx, span, req, creds, ErrInternalFailure, "rotation_lock", err)
	}
	res, _ := v.(flows.RotationResult)
	if shared {
		e.metricInc(MetricRotationShared)
	}

	switch res.Failure {
	case flows.RotationFailureNone:
	case flows.RotationFailureInvalidToken:
		e.metricInc(MetricRotationFailure)
		return e.reject(ctx, span, req, creds, ErrInvalidToken, res.Detail, nil)
	case flows.RotationFailureDeviceMismatch:
		e.metricInc(MetricRotationFailure)
		return e.reject(ctx, span, req, creds, ErrDeviceMismatch, res.Detail, nil)
	case flows.RotationFailureRevoked:
		e.metricInc(MetricRotationFailure)
		if res.Detail == "grace_already_used" || res.Detail == "revoked_outside_grace" {
			e.metricInc(MetricGraceRejected)
		}
		return e.reject(ctx, span, req, creds, ErrRevoked, res.Detail, nil)
	default:
		e.metricInc(MetricRotationFailure)
		return e.reject(ctx, span, req, creds, ErrInternalFailure, res.Detail, res.Err)
	}
	if res.Record == nil {
		e.metricInc(MetricRotationFailure)
		return e.reject(ctx, span, req, creds, ErrInternalFailure, "rotation_without_record", nil)
	}

	next := credentials{
		userID:         res.Record.UserID,
		deviceID:       res.Record.DeviceID,
		accessToken:    res.AccessToken,
		refreshToken:   res.Record.Token,
		refreshTokenID: res.Record.ID,
	}
	e.writeCredentials(req, next, res.Record.ExpiresAt)

	e.metricInc(MetricRotationSuccess)
	eventType := auditEventRotationSuccess
	if res.Grace {
		e.metricInc(MetricGraceAccepted)
		eventType = auditEventGraceRotation
	}
	e.emitAudit(ctx, eventType, true, auditSubject{userID: next.userID, deviceID: next.deviceID, recordID: next.refreshTokenID}, nil, func() map[string]string {
		return map[string]string{"previous_record_id": res.Previous}
	})
	e.logger.DebugContext(ctx, "refresh rotated",
		slog.String("user_id", next.userID),
		slog.String("previous_record_id", res.Previous),
		slog.String("record_id", next.refreshTokenID),
		slog.Bool("grace", res.Grace),
		slog.Bool("shared", shared),
	)

	// The new context takes precedence over anything the caller attached.
	req.Local = e.newAuthContext(next, res.AccessExpiresAt, true)
	return e.accept(ctx, span, req, req.Local, shared)
}

func (e *Engine) accept(ctx context.Context, span trace.Span, req Request, ac *AuthContext, shared bool) (AuthResult, error) {
	if field, ok := e.checkIntegrity(req); !ok {
		e.metricInc(MetricIntegrityViolation)
		return e.reject(ctx, span, req, e.readCredentials(req), ErrSessionIntegrityViolation, "field_diverged:"+field, nil)
	}
	if !ac.rotated {
		e.metricInc(MetricAuthenticateAccessValid)
	}
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", StateAccessValid.String())))
	span.SetAttributes(attribute.String("user_id", ac.userID), attribute.Bool("rotated", ac.rotated))
	return AuthResult{State: StateAccessValid, Context: ac, Shared: shared}, nil
}

// reject applies the side effects of a rejection. Security-sensitive kinds
// revoke the record the request resolves to and clear both channels.
// Internal failures leave credentials in place so the client can retry.
func (e *Engine) reject(ctx context.Context, span trace.Span, req Request, creds credentials, kind error, detail string, cause error) (AuthResult, error) {
	result := AuthResult{State: StateRejected, Reason: detail}
	span.AddEvent("state", trace.WithAttributes(
		attribute.String("state", StateRejected.String()),
		attribute.String("reason", detail),
	))
	span.SetStatus(codes.Error, kind.Error())

	subject := auditSubject{userID: creds.userID, deviceID: creds.deviceID, recordID: creds.refreshTokenID}

	switch {
	case errors.Is(kind, ErrNotAuthenticated):
		if !creds.empty() {
			e.clearCredentials(req)
		}
		return result, fmt.Errorf("%w: %s", kind, detail)

	case errors.Is(kind, ErrInternalFailure):
		e.metricInc(MetricAuthenticateRejected)
		e.logger.ErrorContext(ctx, "authentication failed",
			slog.String("reason", detail),
			slog.String("user_id", creds.userID),
			slog.Any("error", cause),
		)
		e.emitAudit(ctx, auditEventAuthenticateRejected, false, subject, kind, func() map[string]string {
			return map[string]string{"reason": detail}
		})
		if cause != nil {
			span.RecordError(cause)
			return result, fmt.Errorf("%w: %s: %v", kind, detail, cause)
		}
		return result, fmt.Errorf("%w: %s", kind, detail)
	}

	e.metricInc(MetricAuthenticateRejected)
	switch {
	case errors.Is(kind, ErrDeviceMismatch):
		e.metricInc(MetricDeviceMismatch)
	case errors.Is(kind, ErrInvalidToken):
		e.metricInc(MetricInvalidToken)
	case errors.Is(kind, ErrRevoked):
		e.metricInc(MetricRevokedPresented)
	}

	// An integrity violation revokes the record the server-side session
	// names, so an untouched copy of the request cannot rotate it later.
	revokeFor := creds
	if errors.Is(kind, ErrSessionIntegrityViolation) {
		revokeFor = e.sessionCredentials(req)
	}
	recordID := e.forceLogout(ctx, revokeFor)
	e.clearCredentials(req)

	e.logger.WarnContext(ctx, "session rejected",
		slog.String("kind", string(auditErrorCode(kind))),
		slog.String("reason", detail),
		slog.String("user_id", creds.userID),
		slog.String("revoked_record_id", recordID),
	)
	e.emitAudit(ctx, auditEventAuthenticateRejected, false, subject, kind, func() map[string]string {
		return map[string]string{"reason": detail, "revoked_record_id": recordID}
	})
	return result, fmt.Errorf("%w: %s", kind, detail)
}

// forceLogout revokes the active record the credentials resolve to, if any.
// Credentials that resolve to nothing, such as a refresh token paired with
// the wrong device id, revoke nothing.
func (e *Engine) forceLogout(ctx context.Context, creds credentials) string {
	e.metricInc(MetricForcedLogout)
	res := flows.RunLogout(ctx, flows.LogoutInput{
		UserID:       creds.userID,
		DeviceID:     creds.deviceID,
		RefreshToken: creds.refreshToken,
	}, ReasonForcedLogout, e.flowDeps.Logout)
	if res.Err != nil {
		e.logger.ErrorContext(ctx, "forced logout could not revoke record",
			slog.String("user_id", creds.userID),
			slog.Any("error", res.Err),
		)
	}
	if res.RecordID != "" {
		e.emitAudit(ctx, auditEventForcedLogout, res.Err == nil,
			auditSubject{userID: creds.userID, deviceID: creds.deviceID, recordID: res.RecordID}, res.Err, nil)
	}
	return res.RecordID
}

const channelDiverged = "channel_diverged:"

// rotationFlightKey identifies concurrent rotations of the same credentials.
// The device id is part of the key so a request with a foreign device id
// never receives another request's rotation result.
func rotationFlightKey(deviceID, refreshToken string) string {
	sum := sha256.Sum256([]byte(deviceID + ":" + refreshToken))
	return hex.EncodeToString(sum[:])
}

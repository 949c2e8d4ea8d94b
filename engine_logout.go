package goSession

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goSession/internal/flows"
)

// Logout revokes the active refresh record the request resolves to and
// clears every credential from the session and the cookies. Both channels
// are cleared even when revocation fails; the error is still returned.
//
// reason is normally ReasonLogout or ReasonForcedLogout.
func (e *Engine) Logout(ctx context.Context, req Request, reason Reason) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if reason == "" {
		reason = ReasonLogout
	}
	ctx, span := e.tracer.Start(ctx, "goSession.Logout")
	defer span.End()

	creds := e.readCredentials(req)
	res := flows.RunLogout(ctx, flows.LogoutInput{
		UserID:       creds.userID,
		DeviceID:     creds.deviceID,
		RefreshToken: creds.refreshToken,
	}, reason, e.flowDeps.Logout)
	e.clearCredentials(req)

	if reason == ReasonForcedLogout {
		e.metricInc(MetricForcedLogout)
	} else {
		e.metricInc(MetricLogout)
	}
	subject := auditSubject{userID: creds.userID, deviceID: creds.deviceID, recordID: res.RecordID}
	e.emitAudit(ctx, auditEventLogout, res.Err == nil, subject, res.Err, func() map[string]string {
		return map[string]string{"reason": string(reason)}
	})

	if res.Err != nil {
		e.logger.ErrorContext(ctx, "logout could not revoke record",
			slog.String("user_id", creds.userID),
			slog.Any("error", res.Err),
		)
		return fmt.Errorf("%w: %v", ErrInternalFailure, res.Err)
	}
	return nil
}

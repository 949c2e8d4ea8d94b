package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goSession/store"
)

// RevokeOne revokes the active refresh record with id refreshTokenID. An id
// that names no active record is not an error.
//
// Access tokens bound to the record stay valid until they expire; the next
// rotation attempt is rejected.
func (e *Engine) RevokeOne(ctx context.Context, refreshTokenID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	refreshTokenID = strings.TrimSpace(refreshTokenID)
	if refreshTokenID == "" {
		return fmt.Errorf("%w: empty record id", ErrInvalidToken)
	}
	ctx, span := e.tracer.Start(ctx, "goSession.RevokeOne")
	defer span.End()

	moved, err := e.records.Revoke(ctx, store.ByRecord(refreshTokenID), store.ReasonRevoked)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		e.logger.ErrorContext(ctx, "revoke failed", slog.String("record_id", refreshTokenID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrInternalFailure, err)
	}

	e.metricInc(MetricRevokeOne)
	subject := auditSubject{recordID: refreshTokenID}
	if len(moved) > 0 {
		subject.userID = moved[0].UserID
		subject.deviceID = moved[0].DeviceID
	}
	e.emitAudit(ctx, auditEventRevokeOne, true, subject, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(len(moved))}
	})
	return nil
}

// RevokeAll revokes every active refresh record of userID and returns how
// many were revoked.
func (e *Engine) RevokeAll(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrInvalidToken)
	}
	ctx, span := e.tracer.Start(ctx, "goSession.RevokeAll")
	defer span.End()

	moved, err := e.records.RevokeAllForUser(ctx, userID, store.ReasonRevokeAll)
	if err != nil {
		e.logger.ErrorContext(ctx, "revoke all failed", slog.String("user_id", userID), slog.Any("error", err))
		return 0, fmt.Errorf("%w: %v", ErrInternalFailure, err)
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, auditSubject{userID: userID}, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(len(moved))}
	})
	e.logger.InfoContext(ctx, "all sessions revoked", slog.String("user_id", userID), slog.Int("revoked", len(moved)))
	return len(moved), nil
}

// ListActiveUnits returns the active refresh records of userID, oldest first.
func (e *Engine) ListActiveUnits(ctx context.Context, userID string) ([]ActiveUnit, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidToken)
	}

	recs, err := e.records.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalFailure, err)
	}
	units := make([]ActiveUnit, 0, len(recs))
	for _, r := range recs {
		units = append(units, ActiveUnit{
			ID:        r.ID,
			DeviceID:  r.DeviceID,
			IPAddress: r.IPAddress,
			UserAgent: r.UserAgent,
			IssuedAt:  r.IssuedAt,
			RotatedAt: r.RotatedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return units, nil
}

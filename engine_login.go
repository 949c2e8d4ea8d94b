package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Login issues a new refresh record and access token for userID. Under the
// PerUser policy every other record of the user is revoked in the same
// atomic operation. The credentials are returned, not written; pass the
// result to WriteCredentials.
//
//	Docs: docs/engine.md
func (e *Engine) Login(ctx context.Context, userID, ip, userAgent string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidCredentials)
	}
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}

	ctx, span := e.tracer.Start(ctx, "goSession.Login")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	in := flows.LoginInput{UserID: userID, IPAddress: ip, UserAgent: userAgent}
	// Logins never share a flight; the key only needs to be unique.
	v, _, err := e.locker.WithLock(ctx, userID, "login:"+store.NewRecordID(), func(ctx context.Context) (any, error) {
		return flows.RunLogin(ctx, in, e.flowDeps.Login), nil
	})
	if err != nil {
		return nil, e.loginFailed(ctx, userID, fmt.Errorf("%w: %v", ErrInternalFailure, err))
	}
	res, _ := v.(flows.LoginResult)

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureInvalidInput:
		return nil, e.loginFailed(ctx, userID, ErrInvalidCredentials)
	default:
		span.SetStatus(codes.Error, "login failed")
		return nil, e.loginFailed(ctx, userID, fmt.Errorf("%w: %v", ErrInternalFailure, res.Err))
	}

	rec := res.Record
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditSubject{userID: userID, deviceID: rec.DeviceID, recordID: rec.ID}, nil, func() map[string]string {
		if len(res.Replaced) == 0 {
			return nil
		}
		return map[string]string{"replaced_records": fmt.Sprint(len(res.Replaced))}
	})
	e.logger.InfoContext(ctx, "session issued",
		slog.String("user_id", userID),
		slog.String("record_id", rec.ID),
		slog.Int("replaced", len(res.Replaced)),
	)

	return &LoginResult{
		UserID:          rec.UserID,
		DeviceID:        rec.DeviceID,
		RecordID:        rec.ID,
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		RefreshToken:    rec.Token,
		RefreshExpires:  rec.ExpiresAt,
	}, nil
}

// LoginWithPassword verifies email and password through the configured
// UserProvider and PasswordHasher, issues credentials and writes them to req.
// Unknown users, wrong passwords and inactive accounts all return
// ErrInvalidCredentials or ErrAccountInactive.
func (e *Engine) LoginWithPassword(ctx context.Context, req Request, email, password string) (*AuthContext, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.userProvider == nil {
		return nil, ErrMissingUserProvider
	}

	check := flows.RunPasswordCheck(ctx, email, password, flows.PasswordLoginDeps{
		FindByEmail: func(ctx context.Context, email string) (flows.LoginUserRecord, bool, error) {
			u, err := e.userProvider.FindByEmail(ctx, email)
			if errors.Is(err, ErrUserNotFound) {
				return flows.LoginUserRecord{}, false, nil
			}
			if err != nil {
				return flows.LoginUserRecord{}, false, err
			}
			return flows.LoginUserRecord{UserID: u.ID, PasswordHash: u.PasswordHash, Active: u.Active}, true, nil
		},
		VerifyPassword: func(hash, plaintext string) (bool, error) {
			return e.hasher.Verify(plaintext, hash)
		},
		DummyHash: e.dummyHash,
	})

	switch check.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureInactive:
		return nil, e.loginFailed(ctx, check.UserID, ErrAccountInactive)
	case flows.LoginFailureInternal:
		return nil, e.loginFailed(ctx, check.UserID, fmt.Errorf("%w: %v", ErrInternalFailure, check.Err))
	default:
		return nil, e.loginFailed(ctx, check.UserID, ErrInvalidCredentials)
	}

	ip, userAgent := requestMeta(ctx, req)
	res, err := e.Login(ctx, check.UserID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return e.WriteCredentials(req, res)
}

// WriteCredentials stamps the credentials of res into the session and the
// signed cookies of req and returns the matching AuthContext.
func (e *Engine) WriteCredentials(req Request, res *LoginResult) (*AuthContext, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if res == nil || res.RecordID == "" {
		return nil, fmt.Errorf("%w: empty login result", ErrInternalFailure)
	}
	if req.Session == nil || req.Cookies == nil {
		return nil, fmt.Errorf("%w: request has no session or cookie channel", ErrInternalFailure)
	}
	c := credentials{
		userID:         res.UserID,
		deviceID:       res.DeviceID,
		accessToken:    res.AccessToken,
		refreshToken:   res.RefreshToken,
		refreshTokenID: res.RecordID,
	}
	e.writeCredentials(req, c, res.RefreshExpires)
	return e.newAuthContext(c, res.AccessExpiresAt, false), nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, auditSubject{userID: userID}, err, nil)
	if errors.Is(err, ErrInternalFailure) {
		e.logger.ErrorContext(ctx, "login failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	return err
}

package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/store"
)

// RotationFailureKind classifies rotation failures for root-level mapping.
type RotationFailureKind int

const (
	RotationFailureNone RotationFailureKind = iota
	RotationFailureInvalidToken
	RotationFailureDeviceMismatch
	RotationFailureRevoked
	RotationFailureInternal
)

func (k RotationFailureKind) String() string {
	switch k {
	case RotationFailureNone:
		return "none"
	case RotationFailureInvalidToken:
		return "invalid_token"
	case RotationFailureDeviceMismatch:
		return "device_mismatch"
	case RotationFailureRevoked:
		return "revoked"
	case RotationFailureInternal:
		return "internal"
	}
	return "unknown"
}

// RotationInput is the credential material presented by the request.
type RotationInput struct {
	UserID       string
	DeviceID     string
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

// RotationResult carries either the new credentials or failure metadata.
type RotationResult struct {
	Failure RotationFailureKind
	Err     error
	// Detail is a short machine-readable cause for logs and audit.
	Detail string

	UserID          string
	Previous        string
	Record          *store.RefreshRecord
	Revoked         []store.RevokedRecord
	AccessToken     string
	AccessExpiresAt time.Time
	// Grace is true when the presented token had already been rotated out
	// and its successor was handed out through the one-time grace window.
	// Previous and Revoked are empty in that case.
	Grace bool
}

// RotationDeps captures rotation flow dependencies.
type RotationDeps struct {
	VerifyRefresh func(token string) (userID string, ok bool)
	SignAccess    func(userID, tokenID string) (string, time.Time, error)
	Records       RecordStore
	Registry      RevocationChecker
	Devices       DeviceValidator
}

// RunRotation replaces the refresh record presented by in with a successor
// and issues a matching access token. The caller must hold the rotation lock
// for in.UserID.
//
// A token that is no longer active is accepted once through its grace window:
// its binding is checked against the registry entry, the window is consumed and
// the record that replaced it is handed out again with a fresh access token.
// Late duplicates of a rotation therefore converge on the same successor
// instead of forking the lineage.
func RunRotation(ctx context.Context, in RotationInput, deps RotationDeps) RotationResult {
	fail := func(kind RotationFailureKind, detail string, err error) RotationResult {
		return RotationResult{Failure: kind, Detail: detail, Err: err, UserID: in.UserID}
	}

	if in.UserID == "" || in.DeviceID == "" || in.RefreshToken == "" {
		return fail(RotationFailureInvalidToken, "missing_credentials", nil)
	}
	tokenUser, ok := deps.VerifyRefresh(in.RefreshToken)
	if !ok {
		return fail(RotationFailureInvalidToken, "refresh_token_invalid", nil)
	}
	if tokenUser != in.UserID {
		return fail(RotationFailureInvalidToken, "refresh_user_mismatch", nil)
	}

	rec, err := deps.Records.FindActive(ctx, in.UserID, in.DeviceID, in.RefreshToken)
	if err != nil {
		return fail(RotationFailureInternal, "find_active", err)
	}
	if rec == nil {
		// A token that is still live under another device id is a stolen
		// cookie replayed without its device cookie. The record is left as is.
		owner, err := deps.Records.FindByToken(ctx, in.RefreshToken)
		if err != nil {
			return fail(RotationFailureInternal, "find_by_token", err)
		}
		if owner != nil {
			return fail(RotationFailureDeviceMismatch, "device_id_mismatch", nil)
		}
		return runGraceRotation(ctx, in, deps)
	}

	if !deps.Devices.Validate(in.DeviceID, rec.Binding()) {
		return fail(RotationFailureDeviceMismatch, "binding_mismatch", nil)
	}
	status, err := deps.Registry.IsRevoked(ctx, in.RefreshToken)
	if err != nil {
		return fail(RotationFailureInternal, "is_revoked", err)
	}
	if status.Revoked {
		return fail(RotationFailureRevoked, "active_and_revoked", nil)
	}

	next, moved, err := deps.Records.Rotate(ctx, store.ByRecord(rec.ID), store.ReasonRotation, issueFor(in))
	if errors.Is(err, refresh.ErrNothingToRotate) {
		// Another instance rotated the record between our read and write.
		return runGraceRotation(ctx, in, deps)
	}
	if err != nil {
		return fail(RotationFailureInternal, "rotate", err)
	}
	return issueAccess(ctx, in, rec.ID, next, moved, deps)
}

func runGraceRotation(ctx context.Context, in RotationInput, deps RotationDeps) RotationResult {
	fail := func(kind RotationFailureKind, detail string, err error) RotationResult {
		return RotationResult{Failure: kind, Detail: detail, Err: err, UserID: in.UserID}
	}

	status, err := deps.Registry.IsRevoked(ctx, in.RefreshToken)
	if err != nil {
		return fail(RotationFailureInternal, "is_revoked", err)
	}
	if !status.Revoked || status.Record == nil {
		return fail(RotationFailureInvalidToken, "record_not_found", nil)
	}
	revoked := status.Record
	if revoked.UserID != in.UserID || !deps.Devices.Validate(in.DeviceID, revoked.Binding()) {
		return fail(RotationFailureDeviceMismatch, "grace_binding_mismatch", nil)
	}
	if revoked.GraceConsumed {
		return fail(RotationFailureRevoked, "grace_already_used", nil)
	}
	if !status.WithinGrace || revoked.ReplacedBy == "" {
		return fail(RotationFailureRevoked, "revoked_outside_grace", nil)
	}

	consumed, err := deps.Registry.Consume(ctx, in.RefreshToken)
	if err != nil {
		return fail(RotationFailureInternal, "consume_grace", err)
	}
	if !consumed {
		return fail(RotationFailureRevoked, "grace_already_used", nil)
	}

	next, err := deps.Records.Get(ctx, revoked.ReplacedBy)
	if errors.Is(err, store.ErrRecordNotFound) || (err == nil && next.UserID != in.UserID) {
		return fail(RotationFailureRevoked, "lineage_ended", nil)
	}
	if err != nil {
		return fail(RotationFailureInternal, "grace_lookup", err)
	}
	access, exp, err := deps.SignAccess(next.UserID, next.ID)
	if err != nil {
		// The successor belongs to whoever completed the rotation; leave it.
		return fail(RotationFailureInternal, "sign_access", err)
	}
	return RotationResult{
		Failure:         RotationFailureNone,
		UserID:          in.UserID,
		Record:          next,
		AccessToken:     access,
		AccessExpiresAt: exp,
		Grace:           true,
	}
}

func issueAccess(ctx context.Context, in RotationInput, previous string, next *store.RefreshRecord, moved []store.RevokedRecord, deps RotationDeps) RotationResult {
	access, exp, err := deps.SignAccess(next.UserID, next.ID)
	if err != nil {
		// The request is about to be force-logged-out; do not leave an
		// orphaned successor behind.
		err = withCleanup(ctx, err, next.ID, deps.Records)
		return RotationResult{
			Failure: RotationFailureInternal,
			Detail:  "sign_access",
			Err:     err,
			UserID:  in.UserID,
			Record:  next,
			Revoked: moved,
		}
	}
	return RotationResult{
		Failure:         RotationFailureNone,
		UserID:          in.UserID,
		Previous:        previous,
		Record:          next,
		Revoked:         moved,
		AccessToken:     access,
		AccessExpiresAt: exp,
	}
}

// withCleanup revokes the record id that could not be handed out and joins a
// failed revocation to err so the caller logs the orphan.
func withCleanup(ctx context.Context, err error, id string, records RecordStore) error {
	if _, rerr := records.Revoke(ctx, store.ByRecord(id), store.ReasonForcedLogout); rerr != nil {
		return errors.Join(err, fmt.Errorf("revoke unissued record %s: %w", id, rerr))
	}
	return err
}

func issueFor(in RotationInput) refresh.Issue {
	return refresh.Issue{UserID: in.UserID, IPAddress: in.IPAddress, UserAgent: in.UserAgent}
}

package flows

import (
	"context"

	"github.com/MrEthical07/goSession/store"
)

// LogoutInput is the credential material resolved from the request.
type LogoutInput struct {
	UserID       string
	DeviceID     string
	RefreshToken string
}

// LogoutResult lists the records moved to the registry.
type LogoutResult struct {
	RecordID string
	Revoked  []store.RevokedRecord
	Err      error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Records RecordStore
}

// RunLogout revokes the active record matching in, if one exists. A request
// whose credentials resolve to no active record revokes nothing, so
// mismatched device ids can never revoke another device's record.
func RunLogout(ctx context.Context, in LogoutInput, reason store.Reason, deps LogoutDeps) LogoutResult {
	if in.UserID == "" || in.DeviceID == "" || in.RefreshToken == "" {
		return LogoutResult{}
	}
	rec, err := deps.Records.FindActive(ctx, in.UserID, in.DeviceID, in.RefreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}
	if rec == nil {
		return LogoutResult{}
	}
	moved, err := deps.Records.Revoke(ctx, store.ByRecord(rec.ID), reason)
	return LogoutResult{RecordID: rec.ID, Revoked: moved, Err: err}
}

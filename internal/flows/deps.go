package flows

import (
	"context"

	"github.com/MrEthical07/goSession/device"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/revocation"
	"github.com/MrEthical07/goSession/store"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Rotation RotationDeps
	Login    LoginDeps
	Logout   LogoutDeps
}

// RecordStore is the subset of refresh.Store used by flows.
type RecordStore interface {
	FindActive(ctx context.Context, userID, deviceID, token string) (*store.RefreshRecord, error)
	FindByToken(ctx context.Context, token string) (*store.RefreshRecord, error)
	Get(ctx context.Context, id string) (*store.RefreshRecord, error)
	Rotate(ctx context.Context, scope store.Scope, reason store.Reason, issue refresh.Issue) (*store.RefreshRecord, []store.RevokedRecord, error)
	Create(ctx context.Context, issue refresh.Issue) (*store.RefreshRecord, error)
	CreateReplacing(ctx context.Context, scope store.Scope, reason store.Reason, issue refresh.Issue) (*store.RefreshRecord, []store.RevokedRecord, error)
	Revoke(ctx context.Context, scope store.Scope, reason store.Reason) ([]store.RevokedRecord, error)
}

// RevocationChecker is the subset of revocation.Registry used by flows.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (revocation.Status, error)
	Consume(ctx context.Context, token string) (bool, error)
}

// DeviceValidator checks a presented device id against a binding.
type DeviceValidator interface {
	Validate(candidate string, binding device.Binding) bool
}

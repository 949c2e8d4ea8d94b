package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/store"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidInput
	LoginFailureInvalidCredentials
	LoginFailureInactive
	LoginFailureInternal
)

// LoginInput identifies the user and the client of a new session.
type LoginInput struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// LoginResult carries the issued credentials or failure metadata.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error

	Record          *store.RefreshRecord
	Replaced        []store.RevokedRecord
	AccessToken     string
	AccessExpiresAt time.Time
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Records    RecordStore
	SignAccess func(userID, tokenID string) (string, time.Time, error)
	// SingleSession revokes every existing record of the user in the same
	// operation that creates the new one.
	SingleSession bool
}

// RunLogin creates a refresh record and its first access token. The caller
// must hold the rotation lock for in.UserID.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if strings.TrimSpace(in.UserID) == "" {
		return LoginResult{Failure: LoginFailureInvalidInput}
	}

	issue := refresh.Issue{UserID: in.UserID, IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	var (
		rec      *store.RefreshRecord
		replaced []store.RevokedRecord
		err      error
	)
	if deps.SingleSession {
		rec, replaced, err = deps.Records.CreateReplacing(ctx, store.ByUser(in.UserID), store.ReasonSingleSessionPolicy, issue)
	} else {
		rec, err = deps.Records.Create(ctx, issue)
	}
	if err != nil {
		return LoginResult{Failure: LoginFailureInternal, Err: err}
	}

	access, exp, err := deps.SignAccess(rec.UserID, rec.ID)
	if err != nil {
		err = withCleanup(ctx, err, rec.ID, deps.Records)
		return LoginResult{Failure: LoginFailureInternal, Err: err, Replaced: replaced}
	}

	return LoginResult{
		Failure:         LoginFailureNone,
		Record:          rec,
		Replaced:        replaced,
		AccessToken:     access,
		AccessExpiresAt: exp,
	}
}

// LoginUserRecord is a flow-local user model used by password login.
type LoginUserRecord struct {
	UserID       string
	PasswordHash string
	Active       bool
}

// PasswordLoginDeps captures credential check dependencies.
type PasswordLoginDeps struct {
	// FindByEmail returns found=false for an unknown address.
	FindByEmail    func(ctx context.Context, email string) (LoginUserRecord, bool, error)
	VerifyPassword func(hash, plaintext string) (bool, error)
	// DummyHash is verified against when the user does not exist so both
	// paths cost one hash evaluation.
	DummyHash string
}

// PasswordLoginResult names the authenticated user or the failure.
type PasswordLoginResult struct {
	Failure LoginFailureKind
	Err     error
	UserID  string
}

// RunPasswordCheck verifies email and password. It does not issue credentials.
func RunPasswordCheck(ctx context.Context, email, password string, deps PasswordLoginDeps) PasswordLoginResult {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return PasswordLoginResult{Failure: LoginFailureInvalidCredentials}
	}
	if deps.FindByEmail == nil || deps.VerifyPassword == nil {
		return PasswordLoginResult{Failure: LoginFailureInternal}
	}

	user, found, err := deps.FindByEmail(ctx, email)
	if err != nil {
		return PasswordLoginResult{Failure: LoginFailureInternal, Err: err}
	}
	if !found {
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(deps.DummyHash, password)
		}
		return PasswordLoginResult{Failure: LoginFailureInvalidCredentials}
	}

	ok, err := deps.VerifyPassword(user.PasswordHash, password)
	if err != nil || !ok {
		return PasswordLoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.UserID}
	}
	if !user.Active {
		return PasswordLoginResult{Failure: LoginFailureInactive, UserID: user.UserID}
	}
	return PasswordLoginResult{UserID: user.UserID}
}

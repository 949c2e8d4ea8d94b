package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

type userEntry struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	PasswordHash  string `json:"password_hash"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	Active        bool   `json:"active"`
}

// fileUsers is a read-only account directory loaded once at startup.
type fileUsers struct {
	byID    map[string]goSession.User
	byEmail map[string]string
}

func loadUsers(path string) (*fileUsers, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	var entries []userEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("users: decode %s: %w", path, err)
	}
	return newFileUsers(entries)
}

func newFileUsers(entries []userEntry) (*fileUsers, error) {
	u := &fileUsers{
		byID:    make(map[string]goSession.User, len(entries)),
		byEmail: make(map[string]string, len(entries)),
	}
	for i, e := range entries {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if e.ID == "" || email == "" || e.PasswordHash == "" {
			return nil, fmt.Errorf("users: entry %d needs id, email and password_hash", i)
		}
		if _, dup := u.byID[e.ID]; dup {
			return nil, fmt.Errorf("users: duplicate id %q", e.ID)
		}
		if _, dup := u.byEmail[email]; dup {
			return nil, fmt.Errorf("users: duplicate email %q", email)
		}
		u.byID[e.ID] = goSession.User{
			ID:            e.ID,
			Email:         email,
			PasswordHash:  e.PasswordHash,
			Role:          e.Role,
			EmailVerified: e.EmailVerified,
			Active:        e.Active,
		}
		u.byEmail[email] = e.ID
	}
	return u, nil
}

func (u *fileUsers) FindByEmail(_ context.Context, email string) (goSession.User, error) {
	id, ok := u.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return goSession.User{}, goSession.ErrUserNotFound
	}
	return u.byID[id], nil
}

func (u *fileUsers) FindByID(_ context.Context, id string) (goSession.User, error) {
	user, ok := u.byID[id]
	if !ok {
		return goSession.User{}, goSession.ErrUserNotFound
	}
	return user, nil
}

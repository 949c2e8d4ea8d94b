// Package device derives and verifies per-installation device identifiers.
//
// A device id is HMAC-SHA256(secret, userID ":" salt), where the salt belongs
// to exactly one refresh record. The id is deterministic for a (user, salt)
// pair and cannot be forged without the server secret.
package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

const (
	// MinSecretLength is the minimum accepted HMAC secret size in bytes.
	MinSecretLength = 32
	// SaltLength is the number of random bytes in a fresh salt.
	SaltLength = 32
)

var encodedIDLength = base64.RawURLEncoding.EncodedLen(sha256.Size)

// ErrSecretTooShort is returned by NewBinder for secrets under MinSecretLength.
var ErrSecretTooShort = errors.New("device binding secret too short")

// Binding is the input needed to recompute a device id.
type Binding struct {
	UserID string
	Salt   string
}

// Binder derives and validates device ids. It is safe for concurrent use.
type Binder struct {
	secret []byte
}

// NewBinder copies secret and returns a Binder keyed by it.
func NewBinder(secret []byte) (*Binder, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Binder{secret: append([]byte(nil), secret...)}, nil
}

// NewSalt returns a fresh random salt. Salts are never reused across records.
func (b *Binder) NewSalt() (string, error) {
	raw := make([]byte, SaltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Derive returns the device id for userID and salt.
func (b *Binder) Derive(userID, salt string) string {
	return base64.RawURLEncoding.EncodeToString(b.mac(userID, salt))
}

// Validate reports whether candidate is the device id of binding. Missing or
// malformed input yields false.
func (b *Binder) Validate(candidate string, binding Binding) bool {
	if b == nil || candidate == "" || binding.UserID == "" || binding.Salt == "" {
		return false
	}
	if len(candidate) != encodedIDLength {
		return false
	}
	got, err := base64.RawURLEncoding.DecodeString(candidate)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(got, b.mac(binding.UserID, binding.Salt)) == 1
}

func (b *Binder) mac(userID, salt string) []byte {
	h := hmac.New(sha256.New, b.secret)
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(salt))
	return h.Sum(nil)
}

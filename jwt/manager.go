package jwt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two token types issued by a [Manager].
type Kind string

const (
	// KindAccess marks short-lived request credentials.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived, store-backed credentials.
	KindRefresh Kind = "refresh"
)

// Config configures a [Manager].
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// Now overrides the clock used for issuing and validating tokens.
	Now func() time.Time
}

// Claims is the claim set carried by both token kinds. For access tokens
// ID (jti) holds the token id the session expects.
type Claims struct {
	UserID string `json:"uid"`
	Kind   Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access and refresh tokens with the key pair held
// by a [KeyStore]. It keeps no per-token state.
//
//	Docs: docs/tokens.md
type Manager struct {
	config Config
	keys   *KeyStore
}

// NewManager validates cfg and returns a Manager bound to keys.
func NewManager(cfg Config, keys *KeyStore) (*Manager, error) {
	if keys == nil || keys.verifyKey == nil {
		return nil, errors.New("key store required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg, keys: keys}, nil
}

// SignAccess issues an access token for userID carrying tokenID as jti.
func (m *Manager) SignAccess(userID, tokenID string) (string, time.Time, error) {
	if userID == "" || tokenID == "" {
		return "", time.Time{}, errors.New("access token requires user id and token id")
	}
	return m.sign(userID, tokenID, KindAccess, m.config.AccessTTL)
}

// SignRefresh issues a refresh token for userID with a random jti so that two
// tokens issued within the same second never collide.
func (m *Manager) SignRefresh(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("refresh token requires user id")
	}
	return m.sign(userID, uuid.NewString(), KindRefresh, m.config.RefreshTTL)
}

func (m *Manager) sign(userID, jti string, kind Kind, ttl time.Duration) (string, time.Time, error) {
	if !m.keys.CanSign() {
		return "", time.Time{}, errors.New("key store has no private key")
	}

	now := m.config.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.keys.signingMethod(), claims)
	if m.keys.keyID != "" {
		token.Header["kid"] = m.keys.keyID
	}

	signed, err := token.SignedString(m.keys.signer)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	// NumericDate truncates to seconds; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyAccess verifies an access token and requires its jti to equal
// expectedTokenID. It returns nil when the token is not acceptable.
func (m *Manager) VerifyAccess(token, expectedTokenID string) *Claims {
	return m.Verify(token, KindAccess, expectedTokenID)
}

// VerifyRefresh verifies a refresh token. It returns nil when the token is not
// acceptable.
func (m *Manager) VerifyRefresh(token string) *Claims {
	return m.Verify(token, KindRefresh, "")
}

// Verify checks signature, algorithm, expiry, issuer, audience and kind.
// Access tokens additionally need a non-empty expectedTokenID equal to their
// jti. Any failure yields nil; Verify never reports why.
func (m *Manager) Verify(token string, kind Kind, expectedTokenID string) *Claims {
	if m == nil || token == "" {
		return nil
	}
	if kind == KindAccess && expectedTokenID == "" {
		return nil
	}

	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	if claims.Kind != kind || claims.UserID == "" {
		return nil
	}
	if kind == KindAccess {
		if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(expectedTokenID)) != 1 {
			return nil
		}
	}
	return claims
}

func (m *Manager) parse(tokenStr string) (*Claims, error) {
	method := m.keys.signingMethod()
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.keys.keyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.keys.keyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.keys.verifyKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

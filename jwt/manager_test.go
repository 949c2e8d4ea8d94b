package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, method SigningMethod) (*Manager, *testClock) {
	t.Helper()
	keys, err := GenerateKeyStore(method, "k1")
	if err != nil {
		t.Fatalf("generate key store: %v", err)
	}
	clock := &testClock{now: time.Now()}
	m, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Issuer:     "gosession-test",
		Audience:   "api",
		Now:        clock.Now,
	}, keys)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, clock
}

func TestSignAndVerifyAccessAllMethods(t *testing.T) {
	for _, method := range []SigningMethod{MethodEd25519, MethodRS256, MethodES256} {
		t.Run(string(method), func(t *testing.T) {
			m, _ := newTestManager(t, method)

			token, exp, err := m.SignAccess("u1", "t0")
			if err != nil {
				t.Fatalf("sign access: %v", err)
			}
			if exp.IsZero() {
				t.Fatal("expected non-zero expiry")
			}

			claims := m.VerifyAccess(token, "t0")
			if claims == nil {
				t.Fatal("expected access token to verify")
			}
			if claims.UserID != "u1" || claims.ID != "t0" || claims.Kind != KindAccess {
				t.Fatalf("unexpected claims: %+v", claims)
			}
		})
	}
}

func TestVerifyAccessRequiresMatchingTokenID(t *testing.T) {
	m, _ := newTestManager(t, MethodEd25519)
	token, _, err := m.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}

	if m.VerifyAccess(token, "t1") != nil {
		t.Fatal("expected mismatched token id to be rejected")
	}
	if m.VerifyAccess(token, "") != nil {
		t.Fatal("expected empty expected id to be rejected")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, clock := newTestManager(t, MethodEd25519)
	token, _, err := m.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}

	clock.Advance(16 * time.Minute)
	if m.VerifyAccess(token, "t0") != nil {
		t.Fatal("expected expired access token to be rejected")
	}
}

func TestVerifyRejectsKindConfusion(t *testing.T) {
	m, _ := newTestManager(t, MethodEd25519)

	refresh, _, err := m.SignRefresh("u1")
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	claims := m.VerifyRefresh(refresh)
	if claims == nil {
		t.Fatal("expected refresh token to verify")
	}
	if m.VerifyAccess(refresh, claims.ID) != nil {
		t.Fatal("refresh token must not verify as access token")
	}

	access, _, err := m.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	if m.VerifyRefresh(access) != nil {
		t.Fatal("access token must not verify as refresh token")
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m, _ := newTestManager(t, MethodEd25519)
	a, _, err := m.SignRefresh("u1")
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	b, _, err := m.SignRefresh("u1")
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct refresh tokens for the same user and instant")
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	m, _ := newTestManager(t, MethodEd25519)

	claims := Claims{
		UserID: "u1",
		Kind:   KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "t0",
			Issuer:    "gosession-test",
			Audience:  gjwt.ClaimStrings{"api"},
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "k1"
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if m.VerifyAccess(token, "t0") != nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	m1, _ := newTestManager(t, MethodEd25519)
	m2, _ := newTestManager(t, MethodEd25519)

	token, _, err := m1.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	if m2.VerifyAccess(token, "t0") != nil {
		t.Fatal("expected token signed by another key to be rejected")
	}
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	keys, err := GenerateKeyStore(MethodEd25519, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	issuerA, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "a"}, keys)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	issuerB, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "b"}, keys)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, _, err := issuerA.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	if issuerB.VerifyAccess(token, "t0") != nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	keys, err := GenerateKeyStore(MethodEd25519, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cases := []Config{
		{AccessTTL: 0, RefreshTTL: time.Hour},
		{AccessTTL: time.Hour, RefreshTTL: time.Minute},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg, keys); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, nil); err == nil {
		t.Fatal("expected nil key store to be rejected")
	}
}

func TestKeyStoreFromRawAndPEM(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	raw, err := NewKeyStore(MethodEd25519, priv, pub, "")
	if err != nil {
		t.Fatalf("raw key store: %v", err)
	}
	pemBytes, err := raw.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public pem: %v", err)
	}

	verifyOnly, err := NewKeyStore(MethodEd25519, nil, pemBytes, "")
	if err != nil {
		t.Fatalf("verify-only key store: %v", err)
	}
	if verifyOnly.CanSign() {
		t.Fatal("verify-only key store must not sign")
	}

	signer, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, raw)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, verifyOnly)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	token, _, err := signer.SignAccess("u1", "t0")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if verifier.VerifyAccess(token, "t0") == nil {
		t.Fatal("expected verify-only manager to accept token")
	}
	if _, _, err := verifier.SignAccess("u1", "t0"); err == nil {
		t.Fatal("expected verify-only manager to refuse signing")
	}
}

func TestKeyStoreRejectsMismatchedPair(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewKeyStore(MethodEd25519, priv, otherPub, ""); err == nil {
		t.Fatal("expected mismatched key pair to be rejected")
	}
	if _, err := NewKeyStore("hs256", []byte("secret"), nil, ""); err == nil {
		t.Fatal("expected symmetric method to be rejected")
	}
	if _, err := NewKeyStore(MethodRS256, []byte("not pem"), nil, ""); err == nil {
		t.Fatal("expected garbage PEM to be rejected")
	}
}

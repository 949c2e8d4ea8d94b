package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names an asymmetric signing algorithm supported by [KeyStore].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519. This is the default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodRS256 signs with RSASSA-PKCS1-v1_5 using SHA-256.
	MethodRS256 SigningMethod = "rs256"
	// MethodES256 signs with ECDSA P-256 using SHA-256.
	MethodES256 SigningMethod = "es256"
)

// ErrInvalidKey is returned when key material cannot be parsed or does not
// match the configured signing method.
var ErrInvalidKey = errors.New("invalid key")

// KeyStore holds the asymmetric key pair used to sign and verify tokens.
//
// A KeyStore is immutable after construction and safe for concurrent use.
type KeyStore struct {
	method    SigningMethod
	keyID     string
	signer    crypto.Signer
	verifyKey crypto.PublicKey
}

// NewKeyStore builds a key store from raw Ed25519 bytes or PEM blocks.
// privateKey may be empty for verify-only deployments.
func NewKeyStore(method SigningMethod, privateKey, publicKey []byte, keyID string) (*KeyStore, error) {
	if method == "" {
		method = MethodEd25519
	}
	if _, err := jwtMethod(method); err != nil {
		return nil, err
	}
	if len(publicKey) == 0 && len(privateKey) == 0 {
		return nil, fmt.Errorf("%w: no key material", ErrInvalidKey)
	}

	ks := &KeyStore{
		method: method,
		keyID:  strings.TrimSpace(keyID),
	}

	if len(privateKey) > 0 {
		signer, err := parsePrivateKey(method, privateKey)
		if err != nil {
			return nil, err
		}
		ks.signer = signer
		ks.verifyKey = signer.Public()
	}

	if len(publicKey) > 0 {
		pub, err := parsePublicKey(method, publicKey)
		if err != nil {
			return nil, err
		}
		if ks.signer != nil && !publicKeysEqual(ks.signer.Public(), pub) {
			return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
		}
		ks.verifyKey = pub
	}

	return ks, nil
}

// LoadKeyStoreFiles reads PEM key files from disk. Either path may be empty.
func LoadKeyStoreFiles(method SigningMethod, privatePath, publicPath, keyID string) (*KeyStore, error) {
	var privateKey, publicKey []byte
	var err error
	if privatePath != "" {
		privateKey, err = os.ReadFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	if publicPath != "" {
		publicKey, err = os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
	}
	return NewKeyStore(method, privateKey, publicKey, keyID)
}

// GenerateKeyStore creates an ephemeral key pair. Tokens signed with it do not
// survive a process restart, so it is meant for development and tests.
func GenerateKeyStore(method SigningMethod, keyID string) (*KeyStore, error) {
	var signer crypto.Signer
	var err error
	switch method {
	case "", MethodEd25519:
		method = MethodEd25519
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	case MethodRS256:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case MethodES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, errors.New("unsupported signing method")
	}
	if err != nil {
		return nil, err
	}
	return &KeyStore{
		method:    method,
		keyID:     strings.TrimSpace(keyID),
		signer:    signer,
		verifyKey: signer.Public(),
	}, nil
}

// Method reports the signing algorithm.
func (k *KeyStore) Method() SigningMethod { return k.method }

// KeyID reports the configured key id; empty when none was set.
func (k *KeyStore) KeyID() string { return k.keyID }

// CanSign reports whether a private key is loaded.
func (k *KeyStore) CanSign() bool { return k != nil && k.signer != nil }

// PublicKeyPEM encodes the verification key as a PKIX PEM block.
func (k *KeyStore) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.verifyKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (k *KeyStore) signingMethod() jwt.SigningMethod {
	m, _ := jwtMethod(k.method)
	return m
}

func jwtMethod(method SigningMethod) (jwt.SigningMethod, error) {
	switch method {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA, nil
	case MethodRS256:
		return jwt.SigningMethodRS256, nil
	case MethodES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, errors.New("unsupported signing method")
	}
}

func parsePrivateKey(method SigningMethod, key []byte) (crypto.Signer, error) {
	switch method {
	case MethodEd25519:
		if len(key) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(key), nil
		}
		parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: ed25519 private key", ErrInvalidKey)
		}
		edKey, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: ed25519 private key type", ErrInvalidKey)
		}
		return edKey, nil
	case MethodRS256:
		rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa private key", ErrInvalidKey)
		}
		return rsaKey, nil
	case MethodES256:
		ecKey, err := jwt.ParseECPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: ecdsa private key", ErrInvalidKey)
		}
		if ecKey.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: es256 requires P-256", ErrInvalidKey)
		}
		return ecKey, nil
	}
	return nil, ErrInvalidKey
}

func parsePublicKey(method SigningMethod, key []byte) (crypto.PublicKey, error) {
	switch method {
	case MethodEd25519:
		if len(key) == ed25519.PublicKeySize {
			return ed25519.PublicKey(key), nil
		}
		parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: ed25519 public key", ErrInvalidKey)
		}
		edKey, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: ed25519 public key type", ErrInvalidKey)
		}
		return edKey, nil
	case MethodRS256:
		rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa public key", ErrInvalidKey)
		}
		return rsaKey, nil
	case MethodES256:
		ecKey, err := jwt.ParseECPublicKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("%w: ecdsa public key", ErrInvalidKey)
		}
		return ecKey, nil
	}
	return nil, ErrInvalidKey
}

type equaler interface {
	Equal(crypto.PublicKey) bool
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(equaler)
	return ok && eq.Equal(b)
}

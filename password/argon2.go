package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidConfig    = errors.New("password: invalid argon2 config")
	ErrPasswordTooShort = errors.New("password: shorter than minimum length")
	ErrMalformedHash    = errors.New("password: malformed argon2id hash")
)

// MinLength is the shortest password Hash accepts, in bytes.
const MinLength = 10

const (
	minMemoryKB uint32 = 8 * 1024
	minSaltLen  uint32 = 16
	minKeyLen   uint32 = 16
	phcID              = "argon2id"
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Validate rejects parameters below the package minimums.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidConfig, minMemoryKB)
	case c.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidConfig)
	case c.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case c.SaltLength < minSaltLen:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLen)
	case c.KeyLength < minKeyLen:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLen)
	}
	return nil
}

// Argon2 is an Argon2id hasher. It is immutable and safe for concurrent use.
type Argon2 struct {
	cfg Config
}

func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives a PHC-encoded hash with a fresh random salt. Passwords are
// hashed byte for byte without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", ErrPasswordTooShort
	}
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	d := digest{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        salt,
	}
	d.key = d.derive(password, a.cfg.KeyLength)
	return d.String(), nil
}

// Verify reports whether password matches encodedHash. The parameters
// embedded in encodedHash are used, not the receiver's.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	got := d.derive(password, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(got, d.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with cheaper
// parameters or a different key length than the receiver's Config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	return d.memory < a.cfg.Memory ||
		d.time < a.cfg.Time ||
		d.parallelism < a.cfg.Parallelism ||
		uint32(len(d.key)) != a.cfg.KeyLength, nil
}

type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (d digest) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, keyLen)
}

func (d digest) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcID, argon2.Version, d.memory, d.time, d.parallelism,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key),
	)
}

func parseDigest(s string) (digest, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcID {
		return digest{}, fmt.Errorf("%w: not an argon2id PHC string", ErrMalformedHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return digest{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var d digest
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.parallelism); err != nil || n != 3 {
		return digest{}, fmt.Errorf("%w: bad parameters %q", ErrMalformedHash, parts[3])
	}
	if d.memory < minMemoryKB || d.time < 1 || d.parallelism < 1 {
		return digest{}, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}

	var err error
	if d.salt, err = decodeB64(parts[4]); err != nil || len(d.salt) < int(minSaltLen) {
		return digest{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if d.key, err = decodeB64(parts[5]); err != nil || len(d.key) == 0 {
		return digest{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return d, nil
}

// decodeB64 accepts padded and unpadded encodings so hashes written by other
// PHC implementations still verify.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

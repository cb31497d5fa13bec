package hash

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	stdhash "hash"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Algorithm names a supported derivation function.
type Algorithm string

const (
	SHA1         Algorithm = "sha1"
	SHA256       Algorithm = "sha256"
	SHA512       Algorithm = "sha512"
	PBKDF2SHA1   Algorithm = "pbkdf2-sha1"
	PBKDF2SHA256 Algorithm = "pbkdf2-sha256"
	PBKDF2SHA512 Algorithm = "pbkdf2-sha512"
	Argon2ID     Algorithm = "argon2id"
)

// Encoding names the text encoding of a digest value.
type Encoding string

const (
	Hex       Encoding = "hex"
	Base64    Encoding = "base64"
	Base64URL Encoding = "base64url"
)

const (
	maxIterations  uint32 = 10_000_000
	maxHashLength  uint32 = 1024
	maxSaltLength  uint32 = 1024
	minArgonMemory uint32 = 8 * 1024
)

var (
	// ErrInvalidInput is returned when the secret to hash is empty.
	ErrInvalidInput = errors.New("hash: empty secret")
	// ErrInvalidConfig is returned for unsupported or out-of-range parameters.
	ErrInvalidConfig = errors.New("hash: invalid config")
)

// Config describes a derivation. It is safe to hand to clients: it carries
// the parameters needed to recompute the same digest and nothing secret.
type Config struct {
	Algorithm   Algorithm `json:"algorithm" mapstructure:"algorithm"`
	Iterations  uint32    `json:"iterations" mapstructure:"iterations"`
	HashLength  uint32    `json:"hashLength,omitempty" mapstructure:"hash_length"`
	Salt        []byte    `json:"salt,omitempty" mapstructure:"salt"`
	SaltLength  uint32    `json:"saltLength,omitempty" mapstructure:"salt_length"`
	Encoding    Encoding  `json:"encoding,omitempty" mapstructure:"encoding"`
	Memory      uint32    `json:"memory,omitempty" mapstructure:"memory"`
	Parallelism uint8     `json:"parallelism,omitempty" mapstructure:"parallelism"`
}

// Digest is an encoded hash value together with the exact config that produced it.
type Digest struct {
	Value  string `json:"value"`
	Config Config `json:"config"`
}

// Validate reports whether the config can be used to derive digests.
func (c Config) Validate() error {
	switch c.Algorithm {
	case SHA1, SHA256, SHA512, PBKDF2SHA1, PBKDF2SHA256, PBKDF2SHA512:
	case Argon2ID:
		if c.Memory < minArgonMemory {
			return fmt.Errorf("%w: argon2id memory must be >= %d KB", ErrInvalidConfig, minArgonMemory)
		}
		if c.Parallelism < 1 {
			return fmt.Errorf("%w: argon2id parallelism must be >= 1", ErrInvalidConfig)
		}
		if c.HashLength == 0 {
			return fmt.Errorf("%w: argon2id requires hash length", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if c.Iterations < 1 || c.Iterations > maxIterations {
		return fmt.Errorf("%w: iterations out of range", ErrInvalidConfig)
	}
	if c.HashLength > maxHashLength {
		return fmt.Errorf("%w: hash length out of range", ErrInvalidConfig)
	}
	if c.SaltLength > maxSaltLength || len(c.Salt) > int(maxSaltLength) {
		return fmt.Errorf("%w: salt length out of range", ErrInvalidConfig)
	}
	if isPBKDF2(c.Algorithm) && c.HashLength == 0 {
		return fmt.Errorf("%w: pbkdf2 requires hash length", ErrInvalidConfig)
	}
	switch c.Encoding {
	case "", Hex, Base64, Base64URL:
	default:
		return fmt.Errorf("%w: unsupported encoding %q", ErrInvalidConfig, c.Encoding)
	}
	return nil
}

// Deterministic reports whether the config always maps a secret to the same digest.
func (c Config) Deterministic() bool {
	return len(c.Salt) > 0 || c.SaltLength == 0
}

// WithRandomSalt returns a copy of c carrying a freshly drawn salt of SaltLength bytes.
func (c Config) WithRandomSalt() (Config, error) {
	out := c
	if c.SaltLength == 0 {
		return out, nil
	}
	salt := make([]byte, c.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Config{}, err
	}
	out.Salt = salt
	return out, nil
}

// Hash derives a digest of secret. When cfg has no salt but a SaltLength,
// a random salt is drawn and reported in the returned Digest.
func Hash(secret []byte, cfg Config) (Digest, error) {
	if len(secret) == 0 {
		return Digest{}, ErrInvalidInput
	}
	if err := cfg.Validate(); err != nil {
		return Digest{}, err
	}
	if len(cfg.Salt) == 0 && cfg.SaltLength > 0 {
		salted, err := cfg.WithRandomSalt()
		if err != nil {
			return Digest{}, err
		}
		cfg = salted
	}
	if cfg.Encoding == "" {
		cfg.Encoding = Hex
	}

	raw, err := derive(secret, cfg)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Value: encode(raw, cfg.Encoding), Config: cfg}, nil
}

// Sum is Hash for callers that only need the encoded value.
func Sum(secret []byte, cfg Config) (string, error) {
	d, err := Hash(secret, cfg)
	if err != nil {
		return "", err
	}
	return d.Value, nil
}

// Verify recomputes the digest of secret under d.Config and compares in constant time.
func Verify(secret []byte, d Digest) (bool, error) {
	if len(d.Config.Salt) == 0 && d.Config.SaltLength > 0 {
		return false, fmt.Errorf("%w: digest is missing its salt", ErrInvalidConfig)
	}
	computed, err := Hash(secret, d.Config)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed.Value), []byte(d.Value)) == 1, nil
}

func derive(secret []byte, cfg Config) ([]byte, error) {
	switch cfg.Algorithm {
	case SHA1, SHA256, SHA512:
		return iterate(digestFunc(cfg.Algorithm), secret, cfg), nil
	case PBKDF2SHA1, PBKDF2SHA256, PBKDF2SHA512:
		return pbkdf2.Key(secret, cfg.Salt, int(cfg.Iterations), int(cfg.HashLength), digestFunc(cfg.Algorithm)), nil
	case Argon2ID:
		return argon2.IDKey(secret, cfg.Salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.HashLength), nil
	}
	return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, cfg.Algorithm)
}

func iterate(newHash func() stdhash.Hash, secret []byte, cfg Config) []byte {
	h := newHash()
	_, _ = h.Write(cfg.Salt)
	_, _ = h.Write(secret)
	sum := h.Sum(nil)
	for i := uint32(1); i < cfg.Iterations; i++ {
		h.Reset()
		_, _ = h.Write(sum)
		sum = h.Sum(sum[:0])
	}
	if cfg.HashLength > 0 && int(cfg.HashLength) < len(sum) {
		sum = sum[:cfg.HashLength]
	}
	return sum
}

func digestFunc(a Algorithm) func() stdhash.Hash {
	switch {
	case strings.HasSuffix(string(a), "sha1"):
		return sha1.New
	case strings.HasSuffix(string(a), "sha512"):
		return sha512.New
	default:
		return sha256.New
	}
}

func isPBKDF2(a Algorithm) bool {
	return strings.HasPrefix(string(a), "pbkdf2-")
}

func encode(raw []byte, enc Encoding) string {
	switch enc {
	case Base64:
		return base64.StdEncoding.EncodeToString(raw)
	case Base64URL:
		return base64.RawURLEncoding.EncodeToString(raw)
	default:
		return hex.EncodeToString(raw)
	}
}

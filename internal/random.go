package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	minIDLength   = 8
	maxIDLength   = 256
	maxSecretSize = 1024
)

// NewID returns a random alphanumeric identifier of exactly length characters.
func NewID(length int) (string, error) {
	if length < minIDLength || length > maxIDLength {
		return "", fmt.Errorf("invalid id length %d", length)
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewSecret returns size random bytes encoded as base64url without padding.
func NewSecret(size int) (string, error) {
	if size < 16 || size > maxSecretSize {
		return "", errors.New("invalid secret size")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewCode returns a random numeric code of the given number of digits.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

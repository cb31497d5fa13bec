// Package store defines the expiring key/value contract every persistence
// backend implements, plus an explicit registry that maps engine names to
// constructors.
//
// Keys are opaque strings; callers derive them with hash.Keyer so raw
// identifiers never reach a backend. Every record carries an absolute expiry
// and an expired record must be indistinguishable from a deleted one.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("store: record not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("store: invalid key")
	// ErrUnknownEngine is returned by Registry.Open for unregistered names.
	ErrUnknownEngine = errors.New("store: unknown engine")
	// ErrDuplicateEngine is returned when a name is registered twice.
	ErrDuplicateEngine = errors.New("store: engine already registered")
)

// Store is the capability every backend provides.
//
// A zero expires means the record never expires. Put with an expiry in the
// past removes any existing record. Delete of an absent key succeeds.
type Store interface {
	Put(ctx context.Context, key string, value []byte, expires time.Time) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Swapper is implemented by backends that can update a record conditionally.
//
// CompareAndSwap replaces the value under key with next only if the current
// live value equals old. A nil old means the key must be absent or expired;
// a nil next deletes the record. It reports whether the swap happened.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key string, old, next []byte, expires time.Time) (bool, error)
}

// Expired reports whether a record with the given expiry is dead at now.
func Expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}

// CheckKey validates a key before it reaches a backend.
func CheckKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// Clone returns a copy of b that does not alias it. nil stays nil.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

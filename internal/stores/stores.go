package stores

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/opentoken/store"
)

const defaultMaxRetries = 4

var (
	ErrInvalidInput    = errors.New("stores: invalid input")
	ErrRecordCorrupt   = errors.New("stores: record corrupt")
	ErrRecordVersion   = errors.New("stores: unsupported record version")
	ErrNoMatch         = errors.New("stores: no matching challenge")
	ErrContention      = errors.New("stores: too much contention")
	ErrAlreadyExists   = errors.New("stores: record already exists")
	ErrPayloadTooLarge = errors.New("stores: payload too large")
)

// mutation computes the next value of a record from its current raw bytes
// (nil when absent). Returning a nil next deletes the record; returning
// errSkipWrite leaves it untouched.
type mutation func(current []byte) (next []byte, expires time.Time, err error)

var errSkipWrite = errors.New("skip write")

// mutate runs fn against the record under key. On backends that implement
// store.Swapper the write is conditional on the value fn saw and is retried up
// to maxRetries times; on other backends the last writer wins.
func mutate(ctx context.Context, kv store.Store, key string, maxRetries int, fn mutation) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	swapper, canSwap := kv.(store.Swapper)

	for i := 0; i < maxRetries; i++ {
		current, err := kv.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			current = nil
		}

		next, expires, err := fn(current)
		if errors.Is(err, errSkipWrite) {
			return nil
		}
		if err != nil {
			return err
		}

		if !canSwap {
			if next == nil {
				return kv.Delete(ctx, key)
			}
			return kv.Put(ctx, key, next, expires)
		}

		ok, err := swapper.CompareAndSwap(ctx, key, current, next, expires)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrContention
}

// create stores value under key only if no live record exists there.
func create(ctx context.Context, kv store.Store, key string, value []byte, expires time.Time) error {
	if swapper, ok := kv.(store.Swapper); ok {
		swapped, err := swapper.CompareAndSwap(ctx, key, nil, value, expires)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrAlreadyExists
		}
		return nil
	}
	return kv.Put(ctx, key, value, expires)
}

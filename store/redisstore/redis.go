// Package redisstore implements store.Store on Redis. Expiry is enforced by
// Redis key TTLs; conditional updates use WATCH/MULTI.
package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/opentoken/store"
	"github.com/redis/go-redis/v9"
)

// Config describes how to reach Redis.
type Config struct {
	Addrs    []string `mapstructure:"addrs"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

// Store is a Redis-backed store.Store.
type Store struct {
	redis redis.UniversalClient
	now   func() time.Time
	owned bool
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Swapper = (*Store)(nil)
)

// New wraps an existing client. Close on the returned Store does not close it.
func New(client redis.UniversalClient) *Store {
	return &Store{redis: client, now: time.Now}
}

// Open dials Redis from cfg and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = []string{"127.0.0.1:6379"}
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &Store{redis: client, now: time.Now, owned: true}, nil
}

// Close releases the client if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.redis.Close()
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}

	ttl, live := s.ttl(expires)
	var err error
	if live {
		err = s.redis.Set(ctx, key, value, ttl).Err()
	} else {
		err = s.redis.Del(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, err
	}

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// CompareAndSwap makes a single optimistic attempt. A concurrent writer
// touching key between WATCH and EXEC makes it report false.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte, expires time.Time) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}

	var swapped bool
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return err
			}
			exists = false
		}

		if old == nil && exists {
			return nil
		}
		if old != nil && (!exists || !bytes.Equal(current, old)) {
			return nil
		}

		ttl, live := s.ttl(expires)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil || !live {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return swapped, nil
}

// ttl converts an absolute expiry to a Redis TTL. Zero means no expiry.
func (s *Store) ttl(expires time.Time) (time.Duration, bool) {
	if expires.IsZero() {
		return 0, true
	}
	ttl := expires.Sub(s.now())
	if ttl <= 0 {
		return 0, false
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl, true
}

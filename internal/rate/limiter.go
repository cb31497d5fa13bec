package rate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)

// Config holds login throttle tuning: at most Attempts failures per Window
// for one account.
type Config struct {
	Attempts int           `mapstructure:"attempts"`
	Window   time.Duration `mapstructure:"window"`
}

// Limiter throttles failed login attempts per key.
type Limiter interface {
	// Check returns ErrRateLimited when key has no budget left.
	Check(ctx context.Context, key string) error
	// Fail records one failed attempt.
	Fail(ctx context.Context, key string) error
	// Reset clears the key after a successful attempt.
	Reset(ctx context.Context, key string) error
}

// Local is an in-process token bucket per key. Buckets refill at
// Attempts per Window. Buckets idle for a full Window are swept at most once
// per Window.
type Local struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	limiter *xrate.Limiter
	seen    time.Time
}

// NewLocal returns a process-local limiter.
func NewLocal(cfg Config) *Local {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Local{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Local) Check(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(key)
	if b.limiter.TokensAt(l.now()) < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.bucketLocked(key).limiter.AllowN(l.now(), 1) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

func (l *Local) bucketLocked(key string) *bucket {
	now := l.now()
	if now.Sub(l.swept) >= l.cfg.Window {
		l.sweepLocked(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		every := xrate.Every(l.cfg.Window / time.Duration(l.cfg.Attempts))
		b = &bucket{limiter: xrate.NewLimiter(every, l.cfg.Attempts)}
		l.buckets[key] = b
	}
	b.seen = now
	return b
}

func (l *Local) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.cfg.Window {
			delete(l.buckets, k)
		}
	}
	l.swept = now
}

// Redis is a fixed-window failure counter shared by every process using the
// same Redis: INCR, and EXPIRE on the first hit of a window.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
}

// NewRedis returns a Redis-backed limiter storing counters under prefix.
func NewRedis(client redis.UniversalClient, prefix string, cfg Config) *Redis {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Redis{redis: client, prefix: prefix, cfg: cfg}
}

func (r *Redis) Check(ctx context.Context, key string) error {
	count, err := r.redis.Get(ctx, r.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(r.cfg.Attempts) {
		return ErrRateLimited
	}
	return nil
}

func (r *Redis) Fail(ctx context.Context, key string) error {
	k := r.key(key)
	count, err := r.redis.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, k, r.cfg.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(r.cfg.Attempts) {
		return ErrRateLimited
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + k
}

package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLimiterBlocksAfterBudget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLocal(Config{Attempts: 3, Window: time.Minute})
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "k"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.Fail(ctx, "k"); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "other"); err != nil {
		t.Fatalf("expected other key unaffected, got %v", err)
	}

	now = now.Add(20 * time.Second)
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected one token refilled, got %v", err)
	}
}

func TestLocalLimiterReset(t *testing.T) {
	l := NewLocal(Config{Attempts: 1, Window: time.Hour})
	ctx := context.Background()
	_ = l.Fail(ctx, "k")
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	_ = l.Reset(ctx, "k")
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected reset to restore budget, got %v", err)
	}
}

func TestLocalLimiterSweepsIdleBucketsOncePerWindow(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	l := NewLocal(Config{Attempts: 3, Window: 10 * time.Minute})
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	at := func(d time.Duration, key string) {
		now = start.Add(d)
		if err := l.Fail(ctx, key); err != nil {
			t.Fatalf("fail %s: %v", key, err)
		}
	}

	at(0, "a")
	at(5*time.Minute, "b")
	if len(l.buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(l.buckets))
	}

	at(12*time.Minute, "c")
	if _, ok := l.buckets["a"]; ok || len(l.buckets) != 2 {
		t.Fatalf("expected a swept, have %d buckets", len(l.buckets))
	}

	at(18*time.Minute, "c")
	if _, ok := l.buckets["b"]; !ok {
		t.Fatal("expected b kept until the next sweep")
	}

	at(23*time.Minute, "c")
	if _, ok := l.buckets["b"]; ok || len(l.buckets) != 1 {
		t.Fatalf("expected only c left, have %d buckets", len(l.buckets))
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, "ot:rl", Config{Attempts: 2, Window: time.Minute})
	ctx := context.Background()

	if err := l.Fail(ctx, "k"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if ttl := mr.TTL("ot:rl:k"); ttl != time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}
	if err := l.Fail(ctx, "k"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Fail(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on overflow, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestRedisLimiterResetAndOutage(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, "ot:rl", Config{Attempts: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.Fail(ctx, "k")
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected budget after reset, got %v", err)
	}

	mr.Close()
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

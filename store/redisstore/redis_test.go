package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/opentoken/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb), mr
}

func TestPutGetDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "tok:abc", []byte("payload"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ttl := mr.TTL("tok:abc"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within a minute, got %v", ttl)
	}

	got, err := s.Get(ctx, "tok:abc")
	if err != nil || string(got) != "payload" {
		t.Fatalf("Get returned %q, %v", got, err)
	}

	if err := s.Delete(ctx, "tok:abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "tok:abc"); err != nil {
		t.Fatalf("Delete should be idempotent: %v", err)
	}
	if _, err := s.Get(ctx, "tok:abc"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTTLExpiryIsNotFound(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mr.FastForward(3 * time.Second)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestPutWithoutExpiryPersists(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), time.Time{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
}

func TestPutInPastDeletes(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_ = mr.Set("k", "old")
	if err := s.Put(ctx, "k", []byte("v"), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if mr.Exists("k") {
		t.Fatal("expected key removed")
	}
}

func TestCompareAndSwap(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("a"), exp)
	if err != nil || !ok {
		t.Fatalf("expected create, ok=%v err=%v", ok, err)
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", nil, []byte("b"), exp); ok {
		t.Fatal("expected create on existing key to fail")
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", []byte("x"), []byte("b"), exp); ok {
		t.Fatal("expected stale swap to fail")
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), exp); !ok {
		t.Fatal("expected swap to succeed")
	}
	got, _ := s.Get(ctx, "k")
	if string(got) != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", []byte("b"), nil, exp); !ok {
		t.Fatal("expected delete swap to succeed")
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendFailureIsUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOpenPingsServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	s, err := Open(context.Background(), Config{Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

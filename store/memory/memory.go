// Package memory is an in-process store.Store with lazy expiry on read and
// an optional background sweeper.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/opentoken/store"
)

// Config controls the sweeper. A zero SweepInterval disables it.
type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type record struct {
	value   []byte
	expires time.Time
}

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Swapper = (*Store)(nil)
)

// New returns an empty store and starts the sweeper when configured.
func New(cfg Config) *Store {
	s := &Store{
		records: make(map[string]record),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	} else {
		close(s.done)
	}
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if store.Expired(expires, s.now()) {
		delete(s.records, key)
		return nil
	}
	s.records[key] = record{value: store.Clone(value), expires: expires}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.Clone(rec.value), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte, expires time.Time) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	switch {
	case old == nil && ok:
		return false, nil
	case old != nil && (!ok || !bytes.Equal(rec.value, old)):
		return false, nil
	}

	if next == nil || store.Expired(expires, s.now()) {
		delete(s.records, key)
		return true, nil
	}
	s.records[key] = record{value: store.Clone(next), expires: expires}
	return true, nil
}

// Sweep drops every expired record and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if store.Expired(rec.expires, now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close stops the sweeper. It is safe to call more than once.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// live must be called with mu held. It drops the record if it has expired.
func (s *Store) live(key string) (record, bool) {
	rec, ok := s.records[key]
	if !ok {
		return record{}, false
	}
	if store.Expired(rec.expires, s.now()) {
		delete(s.records, key)
		return record{}, false
	}
	return rec, true
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

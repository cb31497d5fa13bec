package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/opentoken/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "records.db")
	s, err := Open(context.Background(), SQLite, Config{DSN: dsn, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLitePutGetDelete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte{0x00, 0xff, 'a'}, time.Now().Add(time.Minute)))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 'a'}, got)

	require.NoError(t, s.Put(ctx, "k", []byte("replaced"), time.Time{}))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteExpiredRowIsNotFound(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k", []byte("v"), now.Add(time.Second)))
	now = now.Add(2 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteCompareAndSwap(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("a"), exp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("b"), exp)
	require.NoError(t, err)
	assert.False(t, ok, "create must fail on a live row")

	ok, err = s.CompareAndSwap(ctx, "k", []byte("stale"), []byte("b"), exp)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), exp)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))

	ok, err = s.CompareAndSwap(ctx, "k", []byte("b"), nil, exp)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteCreateOverExpiredRow(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k", []byte("old"), now.Add(time.Second)))
	now = now.Add(time.Minute)

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("new"), now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

// Package sqlstore implements store.Store on database/sql for SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx stdlib driver). The schema is
// managed by goose from embedded migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/opentoken/store"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect selects driver, goose dialect and placeholder style.
type Dialect struct {
	Name   string
	driver string
	goose  string
	dollar bool
}

var (
	SQLite   = Dialect{Name: "sqlite", driver: "sqlite", goose: "sqlite3"}
	Postgres = Dialect{Name: "postgres", driver: "pgx", goose: "pgx", dollar: true}
)

// DialectByName resolves "sqlite" or "postgres".
func DialectByName(name string) (Dialect, error) {
	switch name {
	case SQLite.Name:
		return SQLite, nil
	case Postgres.Name, "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("%w: sql dialect %q", store.ErrUnknownEngine, name)
}

// Config describes the database to open.
type Config struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

const (
	putQuery = `INSERT INTO opentoken_records (record_key, record_value, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (record_key) DO UPDATE SET record_value = excluded.record_value, expires_at = excluded.expires_at`

	getQuery = `SELECT record_value, expires_at FROM opentoken_records WHERE record_key = ?`

	deleteQuery = `DELETE FROM opentoken_records WHERE record_key = ?`

	insertIfDeadQuery = `INSERT INTO opentoken_records (record_key, record_value, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (record_key) DO UPDATE SET record_value = excluded.record_value, expires_at = excluded.expires_at
WHERE opentoken_records.expires_at <> 0 AND opentoken_records.expires_at <= ?`

	updateIfQuery = `UPDATE opentoken_records SET record_value = ?, expires_at = ?
WHERE record_key = ? AND record_value = ? AND (expires_at = 0 OR expires_at > ?)`

	deleteIfQuery = `DELETE FROM opentoken_records
WHERE record_key = ? AND record_value = ? AND (expires_at = 0 OR expires_at > ?)`

	sweepQuery = `DELETE FROM opentoken_records WHERE expires_at <> 0 AND expires_at <= ?`
)

// Store is a SQL-backed store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	owned   bool
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Swapper = (*Store)(nil)
)

// New wraps an open database. It does not run migrations.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Open opens cfg.DSN with the dialect's driver and optionally migrates.
func Open(ctx context.Context, dialect Dialect, cfg Config) (*Store, error) {
	db, err := sql.Open(dialect.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", store.ErrUnavailable, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}

	s := &Store{db: db, dialect: dialect, now: time.Now, owned: true}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(s.dialect.goose); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+s.dialect.Name); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if store.Expired(expires, s.now()) {
		return s.Delete(ctx, key)
	}
	if value == nil {
		value = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(putQuery), key, value, millis(expires)); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, err
	}

	var (
		value   []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(getQuery), key).Scan(&value, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if expires != 0 && expires <= millis(s.now()) {
		return nil, store.ErrNotFound
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(deleteQuery), key); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte, expires time.Time) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}

	now := millis(s.now())
	if next != nil && store.Expired(expires, s.now()) {
		next = nil
	}

	var (
		res sql.Result
		err error
	)
	switch {
	case old == nil && next == nil:
		return true, nil
	case old == nil:
		res, err = s.db.ExecContext(ctx, s.rebind(insertIfDeadQuery), key, next, millis(expires), now)
	case next == nil:
		res, err = s.db.ExecContext(ctx, s.rebind(deleteIfQuery), key, old, now)
	default:
		res, err = s.db.ExecContext(ctx, s.rebind(updateIfQuery), next, millis(expires), key, old, now)
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return n > 0, nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(sweepQuery), millis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return n, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.dialect.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

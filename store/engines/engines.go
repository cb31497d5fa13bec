// Package engines registers every built-in store backend under its engine
// name.
package engines

import (
	"context"

	"github.com/MrEthical07/opentoken/store"
	"github.com/MrEthical07/opentoken/store/memory"
	"github.com/MrEthical07/opentoken/store/redisstore"
	"github.com/MrEthical07/opentoken/store/s3store"
	"github.com/MrEthical07/opentoken/store/sqlstore"
)

const (
	Memory   = "memory"
	Redis    = "redis"
	SQLite   = "sqlite"
	Postgres = "postgres"
	S3       = "s3"
)

// Config carries the settings of every backend; only the one named by
// Engine is used.
type Config struct {
	Engine   string            `mapstructure:"engine"`
	Memory   memory.Config     `mapstructure:"memory"`
	Redis    redisstore.Config `mapstructure:"redis"`
	SQLite   sqlstore.Config   `mapstructure:"sqlite"`
	Postgres sqlstore.Config   `mapstructure:"postgres"`
	S3       s3store.Config    `mapstructure:"s3"`
}

// Registry returns a registry with all built-in backends bound to cfg.
func Registry(cfg Config) *store.Registry {
	r := store.NewRegistry()
	_ = r.Register(Memory, func(context.Context) (store.Store, error) {
		return memory.New(cfg.Memory), nil
	})
	_ = r.Register(Redis, func(ctx context.Context) (store.Store, error) {
		return redisstore.Open(ctx, cfg.Redis)
	})
	_ = r.Register(SQLite, func(ctx context.Context) (store.Store, error) {
		return sqlstore.Open(ctx, sqlstore.SQLite, cfg.SQLite)
	})
	_ = r.Register(Postgres, func(ctx context.Context) (store.Store, error) {
		return sqlstore.Open(ctx, sqlstore.Postgres, cfg.Postgres)
	})
	_ = r.Register(S3, func(ctx context.Context) (store.Store, error) {
		return s3store.Open(ctx, cfg.S3)
	})
	return r
}

// Open builds the backend named by cfg.Engine. An empty name selects memory.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	name := cfg.Engine
	if name == "" {
		name = Memory
	}
	return Registry(cfg).Open(ctx, name)
}

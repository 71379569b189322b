package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"focusguard/pkg/db"
	"focusguard/services/audit"
	"focusguard/services/ctl"
	"focusguard/services/tracker"
)

type storeConfig struct {
	Driver     string `env:"STORE_DRIVER,default=postgres"`
	DBDSN      string `env:"DB_DSN"`
	BadgerPath string `env:"BADGER_PATH,default=./data/focusguard"`
}

// backend is an opened store plus, for postgres, the pool backing it.
type backend struct {
	store tracker.Store
	pool  *pgxpool.Pool
}

func (b *backend) Close() {
	if b.store != nil {
		_ = b.store.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func loadStoreConfig(ctx context.Context) (storeConfig, error) {
	var cfg storeConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return storeConfig{}, err
	}
	return cfg, nil
}

func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := loadStoreConfig(ctx)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "badger":
		s, err := tracker.OpenBadger(tracker.BadgerConfig{Path: cfg.BadgerPath, Logger: zerolog.Nop()})
		if err != nil {
			return nil, err
		}
		return &backend{store: s}, nil
	case "postgres":
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{store: tracker.NewPostgresStore(pool), pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
	}
}

func openPool(ctx context.Context, cfg storeConfig) (*pgxpool.Pool, error) {
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is required")
	}
	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// trail returns an audit loader when the backend is postgres.
func (b *backend) trail(ctx context.Context) (ctl.TrailFunc, func(), error) {
	if b.pool == nil {
		return nil, func() {}, nil
	}
	orm, err := db.OpenORM(ctx, b.pool)
	if err != nil {
		return nil, nil, err
	}
	fn := func(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
		return audit.Trail(ctx, orm, id)
	}
	return fn, func() { _ = db.CloseORM(orm) }, nil
}

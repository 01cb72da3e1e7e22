package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBOptions configures the pgx pool used for creations and credentials.
type DBOptions struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DBOptions derives pool settings from the loaded configuration.
func (c *Config) DBOptions() DBOptions {
	return DBOptions{URL: c.DatabaseURL, MaxConns: c.DBMaxConns}
}

// OpenDB connects a pool and pings it before handing it out.
func OpenDB(ctx context.Context, opts DBOptions) (*pgxpool.Pool, error) {
	if opts.URL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	poolCfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

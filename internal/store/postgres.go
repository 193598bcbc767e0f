// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides PostgreSQL connection setup and schema migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions controls how Connect waits for the database.
type ConnectOptions struct {
	// MaxRetries is the number of additional ping attempts after the first.
	MaxRetries uint64
	// BaseDelay is the first backoff interval; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
	// MaxConns overrides the pool size when non-zero.
	MaxConns int32
}

// DefaultConnectOptions waits roughly half a minute for the database to come up.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxRetries: 8,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Connect creates a pgx pool for databaseURL and pings it with exponential
// backoff until it answers or ctx ends.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultConnectOptions().BaseDelay
	}
	backoff := retry.NewExponential(opts.BaseDelay)
	if opts.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(opts.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(opts.MaxRetries, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", opts.MaxRetries+1).
			Wrap(err)
	}

	return pool, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection pool and schema migrations
// for the credential database.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultConnectRetries = 5
	connectBackoffBase    = 200 * time.Millisecond
)

// Pinger is the part of *pgxpool.Pool used for liveness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolOptions tunes Connect.
type PoolOptions struct {
	// ConnectTimeout bounds each ping attempt.
	ConnectTimeout time.Duration
	// Retries is the number of extra ping attempts after the first.
	Retries uint64
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// Connect opens a pgx pool for databaseURL and waits until the server
// answers a ping, retrying with exponential backoff.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DATABASE_URL_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("host", cfg.ConnConfig.Host).Wrap(err)
	}

	if err := pingWithRetry(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("host", cfg.ConnConfig.Host).Wrap(err)
	}
	return pool, nil
}

func pingWithRetry(ctx context.Context, db Pinger, opts PoolOptions) error {
	backoff := retry.WithMaxRetries(opts.Retries, retry.NewExponential(connectBackoffBase))
	attempt := 0
	//nolint:wrapcheck // wrapped by Connect
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			slog.DebugContext(ctx, "database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Ready reports whether db answers a ping within timeout. It backs the
// readiness probe.
func Ready(db Pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return db.Ping(ctx) == nil
	}
}

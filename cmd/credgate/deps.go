// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/internal/auth/postgres"
	"github.com/holomush/credgate/internal/config"
	"github.com/holomush/credgate/internal/directory"
	"github.com/holomush/credgate/internal/observability"
	"github.com/holomush/credgate/internal/store"
)

// Deps contains injectable dependencies for the subcommands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// Connect opens the credential database.
	// Default: store.Connect
	Connect func(ctx context.Context, url string, opts store.PoolOptions) (Database, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// DirectoryFactory creates the LDAP authenticator.
	// Default: directory.NewWithDialer with the server dialer
	DirectoryFactory func(cfg directory.Config, logger *slog.Logger) (auth.Authenticator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// Database is the part of *pgxpool.Pool the CLI uses; pgxmock.PgxPoolIface satisfies it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]store.Migration, error)
	Applied() ([]store.Migration, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	TrackIdentities(registry *auth.IdentityRegistry)
	Metrics() *observability.Metrics
}

func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.Connect == nil {
		out.Connect = func(ctx context.Context, url string, opts store.PoolOptions) (Database, error) {
			return store.Connect(ctx, url, opts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.DirectoryFactory == nil {
		out.DirectoryFactory = func(cfg directory.Config, logger *slog.Logger) (auth.Authenticator, error) {
			return directory.NewWithDialer(cfg, nil, logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return out
}

// backend is the credential store and gateway built from configuration.
type backend struct {
	db      Database
	store   *auth.CredentialStore
	gateway *auth.Gateway
}

// openBackend connects to the database and assembles the authenticators in
// the configured order.
func openBackend(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (*backend, error) {
	db, err := deps.Connect(ctx, cfg.Database.URL, cfg.Database.PoolOptions())
	if err != nil {
		return nil, err
	}

	hasher := auth.NewPBKDF2HasherWithIterations(cfg.Auth.PBKDF2Iterations)
	credStore, err := auth.NewCredentialStoreWithLogger(
		postgres.NewCredentialRepository(db), hasher, cfg.Auth.EmailDomain, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	names := cfg.Authenticators()
	authenticators := make([]auth.Authenticator, 0, len(names))
	for _, name := range names {
		switch name {
		case auth.SourceLocal:
			authenticators = append(authenticators, credStore)
		case auth.SourceDirectory:
			dir, err := deps.DirectoryFactory(cfg.Directory.Config, logger)
			if err != nil {
				db.Close()
				return nil, oops.With("authenticator", name).Wrap(err)
			}
			authenticators = append(authenticators, dir)
		}
	}

	gateway, err := auth.NewGatewayWithLogger(logger, authenticators...)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("authenticators ready", "order", gateway.Order())
	return &backend{db: db, store: credStore, gateway: gateway}, nil
}

func (b *backend) Close() {
	b.db.Close()
}

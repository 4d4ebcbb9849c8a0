// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/credgate/internal/auth"
)

// SchemaSQL creates the credential table. It is idempotent and mirrors
// internal/store/migrations/000001_create_users.up.sql.
const SchemaSQL = `
	CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		email         VARCHAR(255),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// poolIface is the subset of pgxpool.Pool used here; pgxmock.PgxPoolIface satisfies it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CredentialRepository implements auth.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	pool poolIface
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(pool poolIface) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// EnsureSchema creates the users table if it does not exist.
func (r *CredentialRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, SchemaSQL); err != nil {
		return oops.With("operation", "create users table").Wrap(err)
	}
	return nil
}

// GetByUsername retrieves a credential by exact username.
func (r *CredentialRepository) GetByUsername(ctx context.Context, username string) (*auth.Credential, error) {
	var (
		cred  auth.Credential
		email *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, email, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&cred.ID, &cred.Username, &cred.PasswordHash, &email, &cred.CreatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	case isPgCode(err, pgerrcode.UndefinedTable):
		return nil, oops.Code(auth.CodeSchemaNotInitialized).
			With("table", "users").
			Wrap(auth.ErrNotFound)
	case err != nil:
		return nil, oops.With("operation", "get credential by username").
			With("username", username).
			Wrap(err)
	}

	if email != nil {
		cred.Email = *email
	}
	return &cred, nil
}

// Create stores a new credential inside a transaction. The existence check
// and insert share the transaction; a concurrent insert of the same username
// is caught by the unique constraint.
func (r *CredentialRepository) Create(ctx context.Context, cred *auth.Credential) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		// Rollback is a no-op if tx was committed; error is safe to ignore
		_ = tx.Rollback(ctx) //nolint:errcheck // Rollback error after commit is meaningless
	}()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`,
		cred.Username,
	).Scan(&exists); err != nil {
		return oops.With("operation", "check existing username").
			With("username", cred.Username).
			Wrap(err)
	}
	if exists {
		return userExists(cred.Username)
	}

	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, cred.Username, cred.PasswordHash, cred.Email).Scan(&cred.ID, &createdAt)
	if isPgCode(err, pgerrcode.UniqueViolation) {
		return userExists(cred.Username)
	}
	if err != nil {
		return oops.With("operation", "insert credential").
			With("username", cred.Username).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit transaction").Wrap(err)
	}
	cred.CreatedAt = createdAt
	return nil
}

func userExists(username string) error {
	return oops.Code(auth.CodeUserExists).
		With("username", username).
		Wrap(auth.ErrAlreadyExists)
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Compile-time interface check.
var _ auth.CredentialRepository = (*CredentialRepository)(nil)

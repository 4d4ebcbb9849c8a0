// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/internal/directory"
	"github.com/holomush/credgate/internal/store"
	"github.com/holomush/credgate/pkg/errutil"
)

var credentialColumns = []string{"id", "username", "password_hash", "email", "created_at"}

func expectSchema(pool *trackedPool) {
	pool.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
}

func expectCredential(pool *trackedPool, username, password string) {
	hash := auth.NewPBKDF2Hasher().Hash(password)
	email := username + "@" + auth.DefaultEmailDomain
	pool.ExpectQuery(`SELECT id, username, password_hash, email, created_at`).
		WithArgs(username).
		WillReturnRows(pgxmock.NewRows(credentialColumns).
			AddRow(int64(7), username, hash, &email, time.Now()))
}

// stubDirectory accepts "directory-pw" for any username and returns id, or
// 5001 when id is zero.
type stubDirectory struct {
	cfg   directory.Config
	id    int64
	calls int
}

func (s *stubDirectory) Name() string { return auth.SourceDirectory }

func (s *stubDirectory) Authenticate(_ context.Context, username, password string) (*auth.Identity, error) {
	s.calls++
	if password != "directory-pw" {
		return nil, auth.ErrInvalidCredentials
	}
	id := s.id
	if id == 0 {
		id = 5001
	}
	return auth.NewIdentity(id, username, auth.SourceDirectory)
}

func TestLogin_LocalSuccess(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	pool := newTrackedPool(t)
	expectSchema(pool)
	expectCredential(pool, "alice", "s3cret")

	res := execute(&Deps{Connect: connectTo(pool)}, "s3cret\n", "login", "alice")
	require.NoError(t, res.err, res.stderr)

	var identity auth.Identity
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &identity))
	assert.Equal(t, int64(7), identity.ID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, auth.SourceLocal, identity.Source)
	assert.NotContains(t, res.stderr, "s3cret")
	assert.True(t, pool.closed)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLogin_PasswordFlag(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	pool := newTrackedPool(t)
	expectSchema(pool)
	expectCredential(pool, "alice", "s3cret")

	res := execute(&Deps{Connect: connectTo(pool)}, "", "login", "alice", "--password", "s3cret")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, `"username": "alice"`)
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	pool := newTrackedPool(t)
	expectSchema(pool)
	expectCredential(pool, "alice", "s3cret")

	res := execute(&Deps{Connect: connectTo(pool)}, "wrong\n", "login", "alice", "--auth-order", "local")
	errutil.AssertCodeAndSentinel(t, res.err, auth.CodeInvalidCredentials, auth.ErrInvalidCredentials)
	assert.Empty(t, res.stdout)
	assert.True(t, pool.closed)
}

func TestLogin_UnknownUser(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	pool := newTrackedPool(t)
	expectSchema(pool)
	pool.ExpectQuery(`SELECT id, username, password_hash, email, created_at`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	res := execute(&Deps{Connect: connectTo(pool)}, "pw\n", "login", "nobody")
	assert.True(t, errors.Is(res.err, auth.ErrInvalidCredentials))
}

func TestLogin_DirectoryFirst(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	t.Setenv("CREDGATE_DIRECTORY__ENABLED", "true")
	t.Setenv("CREDGATE_DIRECTORY__HOST", "ldap.example.org")
	t.Setenv("CREDGATE_DIRECTORY__BASE_DN", "dc=example,dc=org")
	t.Setenv("CREDGATE_DIRECTORY__BIND_DN", "cn=admin,dc=example,dc=org")
	t.Setenv("CREDGATE_DIRECTORY__BIND_PASSWORD", "admin-pw")
	t.Setenv("CREDGATE_AUTH__ORDER", "directory,local")

	pool := newTrackedPool(t)
	dir := &stubDirectory{}
	deps := &Deps{
		Connect: connectTo(pool),
		DirectoryFactory: func(cfg directory.Config, _ *slog.Logger) (auth.Authenticator, error) {
			dir.cfg = cfg
			return dir, nil
		},
	}

	res := execute(deps, "directory-pw\n", "login", "alice")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, `"source": "directory"`)
	assert.Equal(t, 1, dir.calls)
	assert.Equal(t, "ldap.example.org", dir.cfg.Host)
	assert.NoError(t, pool.ExpectationsWereMet(), "local store not consulted")
}

func TestLogin_DisabledDirectoryIsSkipped(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	pool := newTrackedPool(t)
	expectSchema(pool)
	expectCredential(pool, "alice", "s3cret")

	deps := &Deps{
		Connect: connectTo(pool),
		DirectoryFactory: func(directory.Config, *slog.Logger) (auth.Authenticator, error) {
			t.Fatal("directory authenticator built while disabled")
			return nil, nil
		},
	}

	res := execute(deps, "s3cret\n", "login", "alice")
	require.NoError(t, res.err, res.stderr)
}

func TestLogin_ConnectFailure(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	deps := &Deps{
		Connect: func(context.Context, string, store.PoolOptions) (Database, error) {
			return nil, errors.New("connection refused")
		},
	}

	res := execute(deps, "pw\n", "login", "alice")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "connection refused")
}

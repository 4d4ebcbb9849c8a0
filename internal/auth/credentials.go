// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
)

// Username validation constraints. MaxUsernameLength matches the users.username column.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

// DefaultEmailDomain is used to derive contact addresses when none is configured.
const DefaultEmailDomain = "example.org"

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, underscores, dots and hyphens.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// dummyPasswordHash is verified when a user doesn't exist so response time
// does not reveal whether the username is registered. It is well-formed, so
// the full key derivation runs, and it matches no password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "00000000000000000000000000000000:" +
	"0000000000000000000000000000000000000000000000000000000000000000"

// Credential is a stored username/password-hash record.
type Credential struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	CreatedAt    time.Time
}

// CredentialRepository manages credential persistence.
type CredentialRepository interface {
	// EnsureSchema creates the credential table if it does not exist.
	EnsureSchema(ctx context.Context) error

	// GetByUsername retrieves a credential by exact username.
	// Returns an error wrapping ErrNotFound if there is no such user or the
	// table has not been created yet.
	GetByUsername(ctx context.Context, username string) (*Credential, error)

	// Create stores a new credential and fills in its ID and CreatedAt.
	// Returns an error wrapping ErrAlreadyExists if the username is taken.
	Create(ctx context.Context, cred *Credential) error
}

// ValidateUsername validates a username for sign-up.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, '_', '.' and '-'")
	}
	return nil
}

// CredentialStore authenticates and signs up users against the local
// credential table.
type CredentialStore struct {
	repo        CredentialRepository
	hasher      PasswordHasher
	emailDomain string
	logger      *slog.Logger
	schemaReady atomic.Bool
}

// NewCredentialStore creates a CredentialStore that logs to slog.Default().
func NewCredentialStore(repo CredentialRepository, hasher PasswordHasher, emailDomain string) (*CredentialStore, error) {
	return NewCredentialStoreWithLogger(repo, hasher, emailDomain, slog.Default())
}

// NewCredentialStoreWithLogger creates a CredentialStore with an explicit logger.
func NewCredentialStoreWithLogger(repo CredentialRepository, hasher PasswordHasher, emailDomain string, logger *slog.Logger) (*CredentialStore, error) {
	if repo == nil {
		return nil, oops.Code("CREDENTIAL_STORE_INVALID").Errorf("credential repository cannot be nil")
	}
	if hasher == nil {
		return nil, oops.Code("CREDENTIAL_STORE_INVALID").Errorf("password hasher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emailDomain == "" {
		emailDomain = DefaultEmailDomain
	}
	return &CredentialStore{
		repo:        repo,
		hasher:      hasher,
		emailDomain: strings.TrimPrefix(emailDomain, "@"),
		logger:      logger,
	}, nil
}

// Name returns "local".
func (s *CredentialStore) Name() string {
	return SourceLocal
}

// EnsureSchema creates the credential table on first use. Once it has
// succeeded, later calls return immediately.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return storageError("ensure schema", err)
	}
	s.schemaReady.Store(true)
	return nil
}

// CreateUser signs up a new user. Sign-up errors are specific: the caller can
// tell a taken username (ErrAlreadyExists) from a storage fault
// (ErrStorageUnavailable).
func (s *CredentialStore) CreateUser(ctx context.Context, username, password string) (*Credential, error) {
	if err := ValidateUsername(username); err != nil {
		recordSignup(ResultDenied)
		return nil, err
	}
	if password == "" {
		recordSignup(ResultDenied)
		return nil, oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")
	}

	if err := s.EnsureSchema(ctx); err != nil {
		recordSignup(ResultError)
		return nil, err
	}

	cred := &Credential{
		Username:     username,
		PasswordHash: s.hasher.Hash(password),
		Email:        username + "@" + s.emailDomain,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			recordSignup(ResultConflict)
			return nil, oops.Code(CodeUserExists).
				With("username", username).
				Wrap(ErrAlreadyExists)
		}
		recordSignup(ResultError)
		return nil, storageError("create user", err)
	}

	recordSignup(ResultSuccess)
	s.logger.Info("user created", "username", username, "id", cred.ID)
	return cred, nil
}

// Authenticate checks username and password against the credential table.
// Unknown users, wrong passwords and a missing table all return an error
// wrapping ErrInvalidCredentials; storage faults wrap ErrStorageUnavailable.
func (s *CredentialStore) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		// A read-only role may not be allowed to create tables; the lookup
		// below still works if the table already exists.
		s.logger.WarnContext(ctx, "could not ensure credential schema", "error", err)
	}

	cred, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, storageError("get credential by username", err)
		}
		if ErrorCode(err) == CodeSchemaNotInitialized {
			s.logger.InfoContext(ctx, "login attempted before any user signed up",
				"code", CodeSchemaNotInitialized)
		}
		// Keep timing consistent with the known-user path.
		s.hasher.Verify(password, dummyPasswordHash)
		return nil, invalidCredentials()
	}

	if !s.hasher.Verify(password, cred.PasswordHash) {
		return nil, invalidCredentials()
	}

	identity, err := NewIdentity(cred.ID, cred.Username, SourceLocal)
	if err != nil {
		return nil, oops.With("operation", "build identity").Wrap(err)
	}
	return identity, nil
}

// storageError marks err as a storage fault while keeping it in the chain.
func storageError(operation string, err error) error {
	return oops.Code(CodeStorageUnavailable).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
}

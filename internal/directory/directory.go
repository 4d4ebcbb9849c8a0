// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package directory authenticates users against an LDAP directory.
//
// Authentication is two binds on one connection: an administrative bind to
// search for the user's entry, then a bind as that entry with the supplied
// password. Every failure category is logged with its code and returned as
// an error wrapping auth.ErrInvalidCredentials (bad credentials) or
// auth.ErrDirectoryUnavailable (faults).
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/samber/oops"

	"github.com/holomush/credgate/internal/auth"
)

// Failure categories.
const (
	CodeUnreachable       = "DIRECTORY_UNREACHABLE"
	CodeAdminBindRejected = "DIRECTORY_ADMIN_BIND_REJECTED"
	CodeProtocolFault     = "DIRECTORY_PROTOCOL_FAULT"
	CodeUserNotFound      = "DIRECTORY_USER_NOT_FOUND"
	CodeAmbiguousUser     = "DIRECTORY_AMBIGUOUS_USER"
	CodePasswordMismatch  = "DIRECTORY_PASSWORD_MISMATCH"
)

// UsernamePlaceholder is replaced in Config.SearchFilter with the escaped username.
const UsernamePlaceholder = "{username}"

// Conn is the subset of *ldap.Conn used by Authenticator.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Unbind() error
	Close() error
}

// Dialer opens a directory connection.
type Dialer func(ctx context.Context) (Conn, error)

// Authenticator implements auth.Authenticator against an LDAP directory.
type Authenticator struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger
}

// New creates an Authenticator that dials the configured server and logs to slog.Default().
func New(cfg Config) (*Authenticator, error) {
	return NewWithDialer(cfg, nil, slog.Default())
}

// NewWithDialer creates an Authenticator with an explicit dialer and logger.
// A nil dialer dials cfg.URL().
func NewWithDialer(cfg Config, dial Dialer, logger *slog.Logger) (*Authenticator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{cfg: cfg, dial: dial, logger: logger}
	if a.dial == nil {
		a.dial = a.dialServer
	}
	return a, nil
}

// Name returns "directory".
func (a *Authenticator) Name() string {
	return auth.SourceDirectory
}

// Authenticate resolves username in the directory and verifies password by
// binding as the resolved entry.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*auth.Identity, error) {
	if password == "" {
		// A simple bind with an empty password is an unauthenticated bind,
		// which most servers accept.
		return nil, a.fail(ctx, CodePasswordMismatch, auth.ErrInvalidCredentials, nil,
			"username", username, "reason", "empty password")
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return nil, a.fail(ctx, CodeUnreachable, auth.ErrDirectoryUnavailable, err,
			"addr", a.cfg.Addr(), "stage", "connect")
	}
	defer release(conn)

	if err := conn.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
		code := classify(err, CodeAdminBindRejected)
		return nil, a.fail(ctx, code, auth.ErrDirectoryUnavailable, err,
			"addr", a.cfg.Addr(), "bind_dn", a.cfg.BindDN, "stage", "admin bind")
	}

	entry, err := a.findUser(ctx, conn, username)
	if err != nil {
		return nil, err
	}

	if err := conn.Bind(entry.DN, password); err != nil {
		code := classify(err, CodePasswordMismatch)
		sentinel := auth.ErrDirectoryUnavailable
		if code == CodePasswordMismatch {
			sentinel = auth.ErrInvalidCredentials
		}
		return nil, a.fail(ctx, code, sentinel, err,
			"username", username, "user_dn", entry.DN, "stage", "user bind")
	}

	return a.identityFrom(ctx, entry)
}

// findUser runs the subtree search and applies the single-match policy:
// zero matches is an unknown user, more than one is rejected as ambiguous.
func (a *Authenticator) findUser(ctx context.Context, conn Conn, username string) (*ldap.Entry, error) {
	filter := a.cfg.Filter(username)
	req := ldap.NewSearchRequest(
		a.cfg.SearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		2, // one match is enough; a second proves ambiguity
		int(a.cfg.Timeout/time.Second),
		false,
		filter,
		[]string{a.cfg.IDAttribute, a.cfg.IDNumberAttribute},
		nil,
	)

	result, err := conn.Search(req)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return nil, a.fail(ctx, CodeAmbiguousUser, auth.ErrInvalidCredentials, err,
			"username", username, "filter", filter, "search_base", a.cfg.SearchBase)
	}
	if err != nil {
		return nil, a.fail(ctx, classify(err, CodeProtocolFault), auth.ErrDirectoryUnavailable, err,
			"filter", filter, "search_base", a.cfg.SearchBase, "stage", "search")
	}

	switch len(result.Entries) {
	case 0:
		return nil, a.fail(ctx, CodeUserNotFound, auth.ErrInvalidCredentials, nil,
			"username", username, "filter", filter, "search_base", a.cfg.SearchBase)
	case 1:
		return result.Entries[0], nil
	default:
		return nil, a.fail(ctx, CodeAmbiguousUser, auth.ErrInvalidCredentials, nil,
			"username", username, "filter", filter, "matches", len(result.Entries))
	}
}

func (a *Authenticator) identityFrom(ctx context.Context, entry *ldap.Entry) (*auth.Identity, error) {
	username := entry.GetAttributeValue(a.cfg.IDAttribute)
	if username == "" {
		return nil, a.fail(ctx, CodeProtocolFault, auth.ErrDirectoryUnavailable, nil,
			"user_dn", entry.DN, "missing_attribute", a.cfg.IDAttribute)
	}

	raw := entry.GetAttributeValue(a.cfg.IDNumberAttribute)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, a.fail(ctx, CodeProtocolFault, auth.ErrDirectoryUnavailable, err,
			"user_dn", entry.DN, "attribute", a.cfg.IDNumberAttribute, "value", raw)
	}

	identity, err := auth.NewIdentity(id, username, auth.SourceDirectory)
	if err != nil {
		return nil, oops.With("operation", "build identity").Wrap(err)
	}
	return identity, nil
}

// fail logs a categorised failure and returns it as an oops error wrapping
// sentinel and, when present, cause.
func (a *Authenticator) fail(ctx context.Context, code string, sentinel, cause error, attrs ...any) error {
	level := slog.LevelInfo
	if errors.Is(sentinel, auth.ErrDirectoryUnavailable) {
		level = slog.LevelError
	}
	logAttrs := append([]any{"code", code}, attrs...)
	if cause != nil {
		logAttrs = append(logAttrs, "error", cause.Error())
	}
	a.logger.Log(ctx, level, describe(code), logAttrs...)

	wrapped := sentinel
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return oops.Code(code).With(attrs...).Wrap(wrapped)
}

func (a *Authenticator) dialServer(_ context.Context) (Conn, error) {
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: a.cfg.Timeout})}
	if a.cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			ServerName: a.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	conn, err := ldap.DialURL(a.cfg.URL(), opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified and wrapped by the caller
	}
	conn.SetTimeout(a.cfg.Timeout)
	return conn, nil
}

// classify maps a directory error to a failure category. Invalid credentials
// map to credentialCode; network errors to CodeUnreachable; anything else is
// a protocol fault.
func classify(err error, credentialCode string) string {
	var netErr net.Error
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return credentialCode
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork), errors.As(err, &netErr):
		return CodeUnreachable
	default:
		return CodeProtocolFault
	}
}

func describe(code string) string {
	switch code {
	case CodeUnreachable:
		return "cannot reach directory server"
	case CodeAdminBindRejected:
		return "directory rejected administrative bind credentials"
	case CodeUserNotFound:
		return "user not found in directory"
	case CodeAmbiguousUser:
		return "directory search matched more than one entry"
	case CodePasswordMismatch:
		return "directory password verification failed"
	default:
		return "directory protocol fault"
	}
}

// release unbinds and closes conn. Errors are ignored: the connection is
// being discarded either way.
func release(conn Conn) {
	_ = conn.Unbind() //nolint:errcheck // connection is discarded
	_ = conn.Close()  //nolint:errcheck // connection is discarded
}

// Compile-time interface checks.
var (
	_ auth.Authenticator = (*Authenticator)(nil)
	_ Conn               = (*ldap.Conn)(nil)
)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/credgate/pkg/errutil"
)

// Authenticator verifies a username and password against one backend.
type Authenticator interface {
	// Name identifies the backend in logs and metrics, e.g. "local" or "directory".
	Name() string

	// Authenticate returns the identity on success. Failures wrap
	// ErrInvalidCredentials for bad credentials; anything else is a fault.
	Authenticate(ctx context.Context, username, password string) (*Identity, error)
}

// Gateway tries authenticators in order and returns the first identity.
// It is the outermost boundary: backend faults are logged here and every
// failure reaches the caller as ErrInvalidCredentials.
type Gateway struct {
	authenticators []Authenticator
	logger         *slog.Logger
}

// NewGateway creates a Gateway that logs to slog.Default().
func NewGateway(authenticators ...Authenticator) (*Gateway, error) {
	return NewGatewayWithLogger(slog.Default(), authenticators...)
}

// NewGatewayWithLogger creates a Gateway with an explicit logger.
// Authenticators are tried in the given order.
func NewGatewayWithLogger(logger *slog.Logger, authenticators ...Authenticator) (*Gateway, error) {
	if len(authenticators) == 0 {
		return nil, oops.Code("GATEWAY_INVALID").Errorf("at least one authenticator is required")
	}
	for i, a := range authenticators {
		if a == nil {
			return nil, oops.Code("GATEWAY_INVALID").With("index", i).Errorf("authenticator cannot be nil")
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		authenticators: authenticators,
		logger:         logger,
	}, nil
}

// Order returns the authenticator names in the order they are tried.
func (g *Gateway) Order() []string {
	names := make([]string, len(g.authenticators))
	for i, a := range g.authenticators {
		names[i] = a.Name()
	}
	return names
}

// Authenticate returns the identity from the first authenticator that accepts
// the credentials.
func (g *Gateway) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	ctx, span := otel.Tracer("github.com/holomush/credgate/internal/auth").Start(ctx, "auth.Gateway.Authenticate")
	defer span.End()

	if username == "" || password == "" {
		span.SetStatus(codes.Error, "empty credentials")
		return nil, invalidCredentials()
	}

	for _, a := range g.authenticators {
		start := time.Now()
		identity, err := a.Authenticate(ctx, username, password)
		elapsed := time.Since(start)

		switch {
		case err == nil && identity != nil:
			recordAttempt(a.Name(), ResultSuccess, elapsed)
			span.SetAttributes(attribute.String("auth.source", a.Name()))
			g.logger.InfoContext(ctx, "authentication succeeded",
				"source", a.Name(), "username", username, "id", identity.ID)
			return identity, nil
		case err == nil || errors.Is(err, ErrInvalidCredentials):
			recordAttempt(a.Name(), ResultDenied, elapsed)
			g.logger.DebugContext(ctx, "authenticator declined",
				"source", a.Name(), "username", username, "code", ErrorCode(err))
		default:
			recordAttempt(a.Name(), ResultError, elapsed)
			errutil.Log(ctx, g.logger, slog.LevelWarn, "authenticator failed", err,
				"source", a.Name(), "username", username)
		}
	}

	span.SetStatus(codes.Error, "authentication failed")
	return nil, invalidCredentials()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes sign-up, login and the identity registry over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credgate/internal/auth"
)

// SignupService creates local accounts.
type SignupService interface {
	CreateUser(ctx context.Context, username, password string) (*auth.Credential, error)
}

// LoginService verifies credentials. *auth.Gateway satisfies it.
type LoginService interface {
	Authenticate(ctx context.Context, username, password string) (*auth.Identity, error)
}

// RequestObserver records completed requests.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Deps are the services behind the API.
type Deps struct {
	Signup        SignupService
	Authenticator LoginService
	Identities    *auth.IdentityRegistry
	// Throttle is optional; when set, repeated login failures for a
	// username are answered with 429 until the delay or lockout passes.
	Throttle *auth.LoginThrottle
	// Observer is optional.
	Observer RequestObserver
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRouter builds the API handler.
//
//	POST /api/signup                   create a local account
//	POST /api/login                    authenticate and register the identity
//	GET  /api/identities/{source}/{id} look up a registered identity
//	POST /api/logout/{source}/{id}     drop a registered identity
//
// Ids are only unique within a source, so identity paths name both.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Signup == nil || deps.Authenticator == nil || deps.Identities == nil {
		return nil, oops.Code("WEB_INVALID").Errorf("signup service, authenticator and identity registry are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &handler{
		signup:     deps.Signup,
		auth:       deps.Authenticator,
		identities: deps.Identities,
		throttle:   deps.Throttle,
		logger:     deps.Logger,
		validate:   newValidator(),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	if deps.Observer != nil {
		r.Use(observe(deps.Observer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Get("/identities/{source}/{id}", h.GetIdentity)
		r.Post("/logout/{source}/{id}", h.Logout)
	})

	return r, nil
}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID keeps a caller-supplied X-Request-ID or assigns a ULID, and
// stores it where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = ulid.Make().String()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe reports each request under its route pattern so ids in paths do
// not explode label cardinality.
func observe(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	//nolint:errcheck // tag name is a constant and the func is non-nil
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return auth.ValidateUsername(fl.Field().String()) == nil
	})
	return v
}

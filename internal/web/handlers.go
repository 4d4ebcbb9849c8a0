// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/pkg/errutil"
)

type handler struct {
	signup     SignupService
	auth       LoginService
	identities *auth.IdentityRegistry
	throttle   *auth.LoginThrottle
	logger     *slog.Logger
	validate   *validator.Validate
}

// SignupRequest is the body of POST /api/signup.
type SignupRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,max=1024"`
}

// SignupResponse describes the created account.
type SignupResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// Signup handles POST /api/signup. Unlike login, failures here are specific:
// a taken username and an unreachable database are different answers.
func (h *handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		code, message := describeValidation(err)
		BadRequest(w, code, message)
		return
	}

	cred, err := h.signup.CreateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.signupError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, SignupResponse{
		ID:        cred.ID,
		Username:  cred.Username,
		Email:     cred.Email,
		CreatedAt: cred.CreatedAt,
	})
}

func (h *handler) signupError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		Conflict(w, code, "username is already taken")
	case code == auth.CodeInvalidUsername || code == auth.CodeEmptyPassword:
		BadRequest(w, code, err.Error())
	case errors.Is(err, auth.ErrStorageUnavailable):
		errutil.Log(r.Context(), h.logger, slog.LevelError, "sign-up failed", err,
			"request_id", middleware.GetReqID(r.Context()))
		WriteError(w, http.StatusServiceUnavailable, code, "credential storage is unavailable")
	default:
		errutil.Log(r.Context(), h.logger, slog.LevelError, "sign-up failed", err,
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path)
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "sign-up failed")
	}
}

// Login handles POST /api/login. Every failure is the same 401; a throttled
// username gets 429 before any authenticator runs.
func (h *handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		unauthorized(w)
		return
	}

	if h.throttle != nil {
		if allowed, wait := h.throttle.Allow(req.Username); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "too many failed login attempts")
			return
		}
	}

	identity, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil || identity == nil {
		if h.throttle != nil {
			if result := h.throttle.RecordFailure(req.Username); result.IsLockedOut {
				h.logger.WarnContext(r.Context(), "username locked out after repeated login failures",
					"request_id", middleware.GetReqID(r.Context()),
					"username", req.Username, "lockout", result.LockoutRemaining)
			}
		}
		unauthorized(w)
		return
	}
	if h.throttle != nil {
		h.throttle.RecordSuccess(req.Username)
	}

	if !h.identities.Add(identity) {
		existing, ok := h.identities.GetByID(identity.Source, identity.ID)
		if !ok || existing.Username != identity.Username {
			h.logger.WarnContext(r.Context(), "identity id already registered to another user",
				"request_id", middleware.GetReqID(r.Context()),
				"id", identity.ID, "username", identity.Username, "source", identity.Source)
			Conflict(w, "IDENTITY_ID_IN_USE", "identity id is already in use")
			return
		}
		identity = existing
	}

	WriteJSON(w, http.StatusOK, identity)
}

// GetIdentity handles GET /api/identities/{source}/{id}.
func (h *handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	identity, found := h.identities.GetByID(chi.URLParam(r, "source"), id)
	if !found {
		NotFound(w, "identity not found")
		return
	}
	WriteJSON(w, http.StatusOK, identity)
}

// Logout handles POST /api/logout/{source}/{id}.
func (h *handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.identities.Remove(chi.URLParam(r, "source"), id) {
		NotFound(w, "identity not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		BadRequest(w, "INVALID_ID", "identity id must be an integer")
		return 0, false
	}
	return id, true
}

// describeValidation maps the first validation failure to an error code and message.
func describeValidation(err error) (code, message string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "INVALID_BODY", "invalid request"
	}
	fe := verrs[0]
	code = auth.CodeInvalidUsername
	if fe.Field() == "password" {
		code = auth.CodeEmptyPassword
		if fe.Tag() != "required" {
			code = "AUTH_INVALID_PASSWORD"
		}
	}
	switch fe.Tag() {
	case "required":
		return code, fe.Field() + " is required"
	case "username":
		return code, "username must be 3-50 characters, start with a letter, and contain only letters, digits, '_', '.' or '-'"
	default:
		return code, fe.Field() + " is invalid"
	}
}

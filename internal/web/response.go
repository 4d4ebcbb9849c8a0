// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"net/http"

	"github.com/holomush/credgate/internal/auth"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// CodeRateLimited marks a login refused by the throttle.
const CodeRateLimited = "AUTH_RATE_LIMITED"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusBadRequest, code, message)
}

// Conflict writes a 409.
func Conflict(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", message)
}

// unauthorized is the single login failure response.
func unauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, auth.CodeInvalidCredentials, "invalid username or password")
}

// decodeJSONBody decodes a JSON request body into v. On failure it writes a
// 400 and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "INVALID_BODY", "invalid request body")
		return false
	}
	return true
}

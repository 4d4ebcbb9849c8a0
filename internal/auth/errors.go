// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors. Concrete failures are oops errors carrying a code and
// wrapping one of these, so callers can use errors.Is without inspecting codes.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAlreadyExists is returned by sign-up when the username is taken.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrStorageUnavailable is returned when the credential store cannot be reached
	// or fails mid-operation.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrDirectoryUnavailable is returned when the directory service cannot be
	// reached, rejects the administrative bind, or answers with a protocol fault.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
)

// Error codes attached to oops errors.
const (
	CodeInvalidCredentials   = "AUTH_INVALID_CREDENTIALS"
	CodeUserExists           = "AUTH_USER_EXISTS"
	CodeInvalidUsername      = "AUTH_INVALID_USERNAME"
	CodeEmptyPassword        = "AUTH_EMPTY_PASSWORD"
	CodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
	CodeSchemaNotInitialized = "SCHEMA_NOT_INITIALIZED"
)

// invalidCredentials builds the uniform login failure.
func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

// ErrorCode returns the oops code carried by err, or "" when err has none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

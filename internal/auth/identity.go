// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"

	"github.com/samber/oops"
)

// Identity sources.
const (
	SourceLocal     = "local"
	SourceDirectory = "directory"
)

// AdminUsername is the only identity allowed to run operations.
const AdminUsername = "admin"

// Identity is the result of a successful authentication.
// It is never persisted.
type Identity struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Source      string `json:"source"`
}

// NewIdentity creates a validated Identity. The display name defaults to the username.
func NewIdentity(id int64, username, source string) (*Identity, error) {
	if username == "" {
		return nil, oops.Code("IDENTITY_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if source == "" {
		return nil, oops.Code("IDENTITY_INVALID_SOURCE").Errorf("source cannot be empty")
	}
	return &Identity{
		ID:          id,
		Username:    username,
		DisplayName: username,
		Source:      source,
	}, nil
}

// IdentityKey identifies a registered identity. Ids are assigned per
// source, so a local id and a directory id may share a number.
type IdentityKey struct {
	Source string
	ID     int64
}

// Key returns the registry key for i.
func (i *Identity) Key() IdentityKey {
	return IdentityKey{Source: i.Source, ID: i.ID}
}

// IsAuthenticated is always true; an Identity only exists after a successful login.
func (i *Identity) IsAuthenticated() bool {
	return true
}

// CanOperate reports whether the identity may perform the named operation.
// Operations that launch runs are reserved for the admin account.
func (i *Identity) CanOperate(operation string) bool {
	if i.Username == AdminUsername {
		return true
	}
	return !strings.Contains(operation, "run")
}

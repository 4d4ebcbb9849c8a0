// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/pkg/errutil"
)

func TestNewIdentity(t *testing.T) {
	t.Run("valid identity", func(t *testing.T) {
		identity, err := auth.NewIdentity(5, "alice", auth.SourceDirectory)
		require.NoError(t, err)
		assert.Equal(t, int64(5), identity.ID)
		assert.Equal(t, "alice", identity.Username)
		assert.Equal(t, "alice", identity.DisplayName)
		assert.Equal(t, auth.SourceDirectory, identity.Source)
		assert.True(t, identity.IsAuthenticated())
	})

	t.Run("empty username", func(t *testing.T) {
		_, err := auth.NewIdentity(5, "", auth.SourceLocal)
		errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_USERNAME")
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := auth.NewIdentity(5, "alice", "")
		errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_SOURCE")
	})
}

func TestIdentity_CanOperate(t *testing.T) {
	admin := &auth.Identity{ID: 1, Username: auth.AdminUsername}
	user := &auth.Identity{ID: 2, Username: "alice"}

	tests := []struct {
		name      string
		identity  *auth.Identity
		operation string
		want      bool
	}{
		{"admin may launch runs", admin, "launch_run", true},
		{"admin may view", admin, "view_asset", true},
		{"user may view", user, "view_asset", true},
		{"user may not launch runs", user, "launch_run", false},
		{"user may not terminate runs", user, "terminate_run", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.CanOperate(tt.operation))
		})
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "bob_smith", "j.doe", "x-ray", "abc"}
	for _, name := range valid {
		assert.NoError(t, auth.ValidateUsername(name), name)
	}

	invalid := []string{"", "ab", "1alice", "_alice", "al ice", "alice@example", string(make([]byte, 51))}
	for _, name := range invalid {
		err := auth.ValidateUsername(name)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
	}
}

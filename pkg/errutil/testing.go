// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asOops fails the test unless err is an oops error.
func asOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error with the given code.
// The innermost code wins, so codes added by outer layers do not mask it.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, asOops(t, err).Code(), "error: %v", err)
}

// AssertCodeAndSentinel asserts that err carries code and wraps target, so
// both the HTTP mapping and errors.Is callers see the same failure.
func AssertCodeAndSentinel(t *testing.T, err error, code string, target error) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.ErrorIs(t, err, target)
}

// AssertErrorContext asserts that the merged context of err holds key=value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := asOops(t, err).Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertNoErrorContext asserts that none of keys appear in the merged
// context of err. Use it to keep secrets out of logged errors.
func AssertNoErrorContext(t *testing.T, err error, keys ...string) {
	t.Helper()
	ctx := asOops(t, err).Context()
	for _, key := range keys {
		assert.NotContains(t, ctx, key)
	}
}

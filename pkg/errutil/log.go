// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its oops code and context.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelError, msg, err)
}

// LogWarn logs err at warn level with its oops code and context.
func LogWarn(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err)
}

// Log logs an error at the given level with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string. Extra args are appended as
// key/value pairs.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, args ...any) {
	attrs := make([]any, 0, 6+len(args))
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil && code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	attrs = append(attrs, args...)
	logger.Log(ctx, level, msg, attrs...)
}

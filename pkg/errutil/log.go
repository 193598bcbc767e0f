// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/samber/oops"
)

// ContextGroup is the group holding oops context attributes.
const ContextGroup = "context"

// LogError logs err at error level. Oops errors contribute their code and a
// "context" group with one attribute per key, so handler-level redaction sees
// every key.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, ErrorAttrs(err)...)
}

// ErrorAttrs returns the slog attributes LogError emits for err.
func ErrorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		group := make([]any, 0, len(ctx))
		for _, k := range slices.Sorted(maps.Keys(ctx)) {
			group = append(group, slog.Any(k, ctx[k]))
		}
		attrs = append(attrs, slog.Group(ContextGroup, group...))
	}
	return attrs
}

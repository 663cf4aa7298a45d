/*
 * AuthGate
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package log provides logging primitives shared across authgate.
package log

import (
	"context"
	"log/slog"
)

// NewPackageLogger creates a logger carrying the provided key value pairs
// that resolves its output handler when records are emitted rather than at
// construction. Package-level loggers are created during init, before the
// process has configured the default logger, so binding the handler eagerly
// would capture the wrong one.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.New(&deferredHandler{}).With(args...)
}

// deferredHandler proxies all calls to the handler of [slog.Default] at the
// time of the call, preserving any attributes and groups added since
// construction.
type deferredHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (d *deferredHandler) resolve() slog.Handler {
	h := slog.Default().Handler()
	if len(d.attrs) > 0 {
		h = h.WithAttrs(d.attrs)
	}
	for _, group := range d.groups {
		h = h.WithGroup(group)
	}
	return h
}

func (d *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.resolve().Enabled(ctx, level)
}

func (d *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return d.resolve().Handle(ctx, record)
}

func (d *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *d
	clone.attrs = append(clone.attrs[:len(clone.attrs):len(clone.attrs)], attrs...)
	return &clone
}

func (d *deferredHandler) WithGroup(name string) slog.Handler {
	clone := *d
	clone.groups = append(clone.groups[:len(clone.groups):len(clone.groups)], name)
	return &clone
}

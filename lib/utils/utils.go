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

// Package utils contains shared helpers used across the authgate codebase.
package utils

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/gravitational/trace"
)

// InitLogger configures the process-wide default logger. Package loggers
// created with logutils.NewPackageLogger pick the handler up lazily, so
// this can run after package initialization.
func InitLogger(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// InitLoggerForTests initializes the default logger for tests. Log output
// is discarded unless tests run in verbose mode.
func InitLoggerForTests() {
	if !flag.Parsed() {
		flag.Parse()
	}
	if !testing.Verbose() {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return
	}
	InitLogger(os.Stderr, slog.LevelDebug)
}

// FileExists returns true if the path exists and is a regular file.
func FileExists(fp string) bool {
	fi, err := os.Stat(fp)
	if err != nil {
		return false
	}
	return !fi.IsDir()
}

// ErrLimitReached means that the read limit has been reached.
var ErrLimitReached = &trace.LimitExceededError{Message: "the read limit is reached"}

// ReadAtMost reads up to limit bytes from r, returning ErrLimitReached
// when r holds more than limit bytes.
func ReadAtMost(r io.Reader, limit int64) ([]byte, error) {
	limitedReader := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return data, err
	}
	if limitedReader.N <= 0 {
		return data, ErrLimitReached
	}
	return data, nil
}

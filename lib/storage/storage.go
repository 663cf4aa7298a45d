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

// Package storage implements authgate persistence on top of sqlite.
//
// All state lives in a single database file: accounts, passkey
// credentials, pending ceremony challenges, sessions and the access
// control tables. Methods are typed per entity; multi-row ceremony
// completions run inside one transaction through the composite methods in
// composite.go.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/mattn/go-sqlite3"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/defaults"
	logutils "github.com/gravitational/authgate/lib/utils/log"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentStorage)

// Config describes the sqlite storage configuration.
type Config struct {
	// Path is the database file path.
	Path string
	// BusyTimeout is how long sqlite waits on a locked database before
	// failing, in milliseconds.
	BusyTimeout int
	// Clock is used for timestamps and expiry filtering.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the configuration and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Path == "" {
		return trace.BadParameter("storage: missing parameter Path")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = defaults.BusyTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ConnectionURI returns a connection string usable with the sqlite driver
// according to the Config.
func (cfg *Config) ConnectionURI() string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	params.Set("_foreign_keys", "on")
	params.Set("_journal", "WAL")
	params.Set("_sync", "NORMAL")
	params.Set("_txlock", "immediate")

	u := url.URL{
		Scheme:   "file",
		Opaque:   (&url.URL{Path: cfg.Path}).EscapedPath(),
		RawQuery: params.Encode(),
	}
	return u.String()
}

// Storage is the sqlite-backed persistence layer.
type Storage struct {
	Config

	db *sql.DB
}

// New opens (creating when necessary) the database at cfg.Path and
// prepares the schema.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := sql.Open("sqlite3", cfg.ConnectionURI())
	if err != nil {
		return nil, trace.Wrap(err, "error opening database %v", cfg.Path)
	}
	// Serialize all access through one connection. sqlite allows a single
	// writer at a time and the busy handler takes care of the rest.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, trace.ConnectionProblem(err, "error connecting to database %v", cfg.Path)
	}
	s := &Storage{Config: cfg, db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "error creating schema in database %v", cfg.Path)
	}
	log.DebugContext(ctx, "Opened sqlite storage.", "path", cfg.Path)
	return s, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return trace.Wrap(s.db.Close())
}

// Ping verifies the database connection is alive. Used by readiness
// checks.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return trace.ConnectionProblem(err, "database is not reachable")
	}
	return nil
}

// inTransaction runs fn inside a transaction, committing when fn returns
// nil and rolling back otherwise.
func (s *Storage) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WarnContext(ctx, "Failed to rollback transaction.", "error", rbErr)
		}
		return trace.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return trace.Wrap(convertError(err))
	}
	return nil
}

// convertError translates driver errors into the trace taxonomy:
// constraint violations become AlreadyExists, busy and connection
// failures become ConnectionProblem, missing rows become NotFound.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return trace.NotFound("record not found")
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return trace.AlreadyExists("%s", err.Error())
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return trace.ConnectionProblem(err, "database is busy")
		}
	}
	return trace.ConnectionProblem(err, "database error")
}

// iso8601Milli is the stored timestamp layout: ISO-8601 UTC with
// millisecond precision.
const iso8601Milli = "2006-01-02T15:04:05.000Z"

func encodeTime(t time.Time) string {
	return t.UTC().Format(iso8601Milli)
}

// encodeNullableTime maps the zero time to NULL.
func encodeNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return encodeTime(t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(iso8601Milli, s)
	if err != nil {
		return time.Time{}, trace.BadParameter("invalid stored timestamp %q: %v", s, err)
	}
	return t, nil
}

// decodeNullableTime maps NULL to the zero time.
func decodeNullableTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return decodeTime(ns.String)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

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

package storage

import (
	"context"

	"github.com/gravitational/trace"
)

// schemas are idempotent: opening an existing database leaves its
// contents untouched. Deleting a user cascades to everything hanging off
// the account, with one exception: challenges reference users without a
// foreign key because authentication challenges are issued before any
// user is known.
var schemas = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL,
		last_login_at TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (email)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		public_key BLOB NOT NULL,
		sign_count INTEGER NOT NULL DEFAULT 0,
		aaguid BLOB,
		transports TEXT,
		attestation_format TEXT,
		created_at TEXT NOT NULL,
		last_used_at TEXT,
		device_name TEXT,
		backup_eligible INTEGER NOT NULL DEFAULT 0,
		backed_up INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS credentials_user_idx ON credentials (user_id)`,

	`CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		nonce BLOB NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS challenges_expiry_idx ON challenges (expires_at)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		credential_id TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		last_activity_at TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		revoked INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions (user_id)`,
	`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expires_at)`,

	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		system INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		parent_role_id TEXT REFERENCES roles (id)
	)`,

	`CREATE TABLE IF NOT EXISTS permissions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		resource_type TEXT NOT NULL,
		action TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS role_permissions (
		role_id TEXT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
		permission_id TEXT NOT NULL REFERENCES permissions (id) ON DELETE CASCADE,
		granted_at TEXT NOT NULL,
		PRIMARY KEY (role_id, permission_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		role_id TEXT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
		granted_at TEXT NOT NULL,
		granted_by TEXT,
		expires_at TEXT,
		PRIMARY KEY (user_id, role_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_permissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		permission_id TEXT NOT NULL REFERENCES permissions (id) ON DELETE CASCADE,
		scope_type TEXT NOT NULL DEFAULT 'all',
		scope_value TEXT,
		granted_at TEXT NOT NULL,
		granted_by TEXT,
		expires_at TEXT,
		reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS user_permissions_user_idx ON user_permissions (user_id)`,

	`CREATE TABLE IF NOT EXISTS resource_grants (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		permission_id TEXT NOT NULL REFERENCES permissions (id) ON DELETE CASCADE,
		granted_at TEXT NOT NULL,
		granted_by TEXT,
		expires_at TEXT,
		UNIQUE (user_id, resource_type, resource_id, permission_id)
	)`,
}

func (s *Storage) createSchema(ctx context.Context) error {
	for _, schema := range schemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return trace.Wrap(convertError(err), "failed statement: %q", schema)
		}
	}
	return nil
}

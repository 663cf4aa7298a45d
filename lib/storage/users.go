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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/types"
)

const userColumns = "id, display_name, email, created_at, last_login_at, active, metadata"

// CreateUser inserts a new user record, filling in the ID and creation
// time when unset.
func (s *Storage) CreateUser(ctx context.Context, user *types.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.Clock.Now().UTC()
	}
	metadata, err := encodeMetadata(user.Metadata)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, display_name, email, created_at, last_login_at, active, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.DisplayName, nullableString(user.Email), encodeTime(user.CreatedAt),
		encodeNullableTime(user.LastLoginAt), user.Active, metadata)
	if err != nil {
		err = convertError(err)
		if trace.IsAlreadyExists(err) {
			return trace.AlreadyExists("user with email %q already exists", user.Email)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Storage) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	user, err := scanUser(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q not found", userID)
		}
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// GetUserByEmail returns a user by email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	if email == "" {
		return nil, trace.BadParameter("missing parameter email")
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	user, err := scanUser(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user with email %q not found", email)
		}
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// UpsertUserByEmail returns the user registered under email, creating the
// account on first registration. New accounts start active and hold the
// built-in user role.
func (s *Storage) UpsertUserByEmail(ctx context.Context, email, displayName string) (*types.User, error) {
	if email == "" {
		return nil, trace.BadParameter("missing parameter email")
	}
	var user *types.User
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
		existing, err := scanUser(row)
		if err == nil {
			user = existing
			return nil
		}
		if !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}

		now := s.Clock.Now().UTC()
		user = &types.User{
			ID:          uuid.NewString(),
			DisplayName: displayName,
			Email:       email,
			CreatedAt:   now,
			Active:      true,
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (id, display_name, email, created_at, active) VALUES (?, ?, ?, ?, ?)",
			user.ID, user.DisplayName, user.Email, encodeTime(now), true); err != nil {
			return trace.Wrap(convertError(err))
		}

		role, err := getRoleByNameTx(ctx, tx, authgate.UserRoleName)
		if err != nil {
			return trace.Wrap(err, "built-in role %q is missing, was the store seeded?", authgate.UserRoleName)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id, granted_at) VALUES (?, ?, ?)",
			user.ID, role.ID, encodeTime(now)); err != nil {
			return trace.Wrap(convertError(err))
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// UpdateUser overwrites the mutable attributes of a user: display name,
// email, active flag and metadata.
func (s *Storage) UpdateUser(ctx context.Context, user *types.User) error {
	metadata, err := encodeMetadata(user.Metadata)
	if err != nil {
		return trace.Wrap(err)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET display_name = ?, email = ?, active = ?, metadata = ? WHERE id = ?",
		user.DisplayName, nullableString(user.Email), user.Active, metadata, user.ID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "user %q not found", user.ID)
}

// SetUserActive flips the account's active flag. Deactivation stops every
// session of the user from validating.
func (s *Storage) SetUserActive(ctx context.Context, userID string, active bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET active = ? WHERE id = ?", active, userID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "user %q not found", userID)
}

// TouchUserLogin records a completed ceremony on the account.
func (s *Storage) TouchUserLogin(ctx context.Context, userID string, t time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", encodeTime(t), userID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "user %q not found", userID)
}

// ListUsers returns all users ordered by creation time.
func (s *Storage) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		users = append(users, user)
	}
	return users, trace.Wrap(convertError(rows.Err()))
}

// DeleteUser removes a user. Credentials, sessions, role assignments and
// grants cascade away with the account.
func (s *Storage) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "user %q not found", userID)
}

func scanUser(sc scanner) (*types.User, error) {
	var user types.User
	var email, lastLogin, metadata sql.NullString
	var createdAt string
	if err := sc.Scan(&user.ID, &user.DisplayName, &email, &createdAt, &lastLogin, &user.Active, &metadata); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	user.Email = email.String

	var err error
	if user.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if user.LastLoginAt, err = decodeNullableTime(lastLogin); err != nil {
		return nil, trace.Wrap(err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &user.Metadata); err != nil {
			return nil, trace.BadParameter("invalid stored metadata for user %q: %v", user.ID, err)
		}
	}
	return &user, nil
}

func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return string(out), nil
}

// oneAffected converts a zero-row update or delete into NotFound.
func oneAffected(result sql.Result, format string, args ...any) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if affected == 0 {
		return trace.NotFound(format, args...)
	}
	return nil
}

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
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/types"
)

const sessionColumns = "id, user_id, credential_id, created_at, expires_at, last_activity_at, ip_address, user_agent, revoked"

// CreateSession persists a freshly minted session. The session ID doubles
// as the jti claim of the issued token.
func (s *Storage) CreateSession(ctx context.Context, session *types.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.Clock.Now().UTC()
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		return createSessionTx(ctx, tx, session)
	})
	return trace.Wrap(err)
}

func createSessionTx(ctx context.Context, tx *sql.Tx, session *types.Session) error {
	if session.ID == "" {
		return trace.BadParameter("missing parameter session ID")
	}
	if session.UserID == "" {
		return trace.BadParameter("missing parameter session user ID")
	}
	if session.ExpiresAt.IsZero() {
		return trace.BadParameter("missing parameter session expiry")
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.CreatedAt
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, credential_id, created_at, expires_at,
			last_activity_at, ip_address, user_agent, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, nullableString(session.CredentialID),
		encodeTime(session.CreatedAt), encodeTime(session.ExpiresAt), encodeTime(session.LastActivityAt),
		nullableString(session.IPAddress), nullableString(session.UserAgent), session.Revoked)
	return trace.Wrap(convertError(err))
}

// GetSession returns a session by ID. Expired and revoked sessions are
// returned as stored: the caller decides how to report them.
func (s *Storage) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	session, err := scanSession(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("session %q not found", sessionID)
		}
		return nil, trace.Wrap(err)
	}
	return session, nil
}

// RevokeSession marks a session as logged out. Revocation is permanent
// and re-revoking an already revoked session succeeds.
func (s *Storage) RevokeSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE sessions SET revoked = 1 WHERE id = ?", sessionID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "session %q not found", sessionID)
}

// TouchSessionActivity records that the session just validated a request.
func (s *Storage) TouchSessionActivity(ctx context.Context, sessionID string, t time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_activity_at = ? WHERE id = ?", encodeTime(t), sessionID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "session %q not found", sessionID)
}

// DeleteExpiredSessions removes sessions past their expiry and returns
// how many were swept. Revoked sessions stay until they expire so that
// revocation holds for the whole token lifetime.
func (s *Storage) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", encodeTime(s.Clock.Now()))
	if err != nil {
		return 0, trace.Wrap(convertError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, trace.Wrap(convertError(err))
	}
	return affected, nil
}

func scanSession(sc scanner) (*types.Session, error) {
	var session types.Session
	var credentialID, ipAddress, userAgent sql.NullString
	var createdAt, expiresAt, lastActivity string
	if err := sc.Scan(&session.ID, &session.UserID, &credentialID, &createdAt, &expiresAt,
		&lastActivity, &ipAddress, &userAgent, &session.Revoked); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	session.CredentialID = credentialID.String
	session.IPAddress = ipAddress.String
	session.UserAgent = userAgent.String

	var err error
	if session.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.LastActivityAt, err = decodeTime(lastActivity); err != nil {
		return nil, trace.Wrap(err)
	}
	return &session, nil
}

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

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/types"
)

const challengeColumns = "id, user_id, nonce, kind, created_at, expires_at"

// CreateChallenge persists a pending ceremony challenge.
func (s *Storage) CreateChallenge(ctx context.Context, challenge *types.Challenge) error {
	if challenge.ID == "" {
		return trace.BadParameter("missing parameter challenge ID")
	}
	if len(challenge.Nonce) == 0 {
		return trace.BadParameter("missing parameter challenge nonce")
	}
	if err := challenge.Kind.Check(); err != nil {
		return trace.Wrap(err)
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = s.Clock.Now().UTC()
	}
	if challenge.ExpiresAt.IsZero() {
		return trace.BadParameter("missing parameter challenge expiry")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO challenges (id, user_id, nonce, kind, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)",
		challenge.ID, nullableString(challenge.UserID), challenge.Nonce, string(challenge.Kind),
		encodeTime(challenge.CreatedAt), encodeTime(challenge.ExpiresAt))
	return trace.Wrap(convertError(err))
}

// GetChallenge returns a pending challenge by ID and ceremony kind.
// Expired challenges read as absent: a caller cannot distinguish a
// challenge that never existed, expired, or was already consumed.
func (s *Storage) GetChallenge(ctx context.Context, challengeID string, kind types.ChallengeKind) (*types.Challenge, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+challengeColumns+" FROM challenges WHERE id = ? AND kind = ?",
		challengeID, string(kind))
	challenge, err := scanChallenge(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("challenge not found")
		}
		return nil, trace.Wrap(err)
	}
	if challenge.Expired(s.Clock.Now()) {
		return nil, trace.NotFound("challenge not found")
	}
	return challenge, nil
}

// DeleteChallenge consumes a challenge. Deleting an absent challenge
// fails with NotFound, which is what makes completion single-use.
func (s *Storage) DeleteChallenge(ctx context.Context, challengeID string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		return deleteChallengeTx(ctx, tx, challengeID)
	})
	return trace.Wrap(err)
}

func deleteChallengeTx(ctx context.Context, tx *sql.Tx, challengeID string) error {
	result, err := tx.ExecContext(ctx, "DELETE FROM challenges WHERE id = ?", challengeID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if affected == 0 {
		return trace.NotFound("challenge not found")
	}
	return nil
}

// DeleteExpiredChallenges removes challenges past their expiry and
// returns how many were swept.
func (s *Storage) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM challenges WHERE expires_at <= ?", encodeTime(s.Clock.Now()))
	if err != nil {
		return 0, trace.Wrap(convertError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, trace.Wrap(convertError(err))
	}
	return affected, nil
}

func scanChallenge(sc scanner) (*types.Challenge, error) {
	var challenge types.Challenge
	var userID sql.NullString
	var kind, createdAt, expiresAt string
	if err := sc.Scan(&challenge.ID, &userID, &challenge.Nonce, &kind, &createdAt, &expiresAt); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	challenge.UserID = userID.String
	challenge.Kind = types.ChallengeKind(kind)

	var err error
	if challenge.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if challenge.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, trace.Wrap(err)
	}
	return &challenge, nil
}

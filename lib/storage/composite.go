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

// Ceremony completions write several rows that must land together: the
// challenge consumption is the linearization point, and everything else
// rides the same transaction. Two concurrent completions of one
// challenge race on the DELETE; exactly one sees an affected row.

// CompleteRegistrationParams describe the rows committed when a
// registration ceremony verifies.
type CompleteRegistrationParams struct {
	// ChallengeID is the consumed registration challenge.
	ChallengeID string
	// Credential is the newly verified passkey.
	Credential *types.Credential
	// Session is the session minted for the fresh login.
	Session *types.Session
}

// CompleteRegistration atomically consumes the challenge, stores the new
// credential, stamps the user's login time and creates the session.
// A missing challenge fails the whole completion with NotFound; a
// duplicate credential ID with AlreadyExists.
func (s *Storage) CompleteRegistration(ctx context.Context, params CompleteRegistrationParams) error {
	if params.ChallengeID == "" {
		return trace.BadParameter("missing parameter ChallengeID")
	}
	if params.Credential == nil || params.Session == nil {
		return trace.BadParameter("missing credential or session")
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		if err := deleteChallengeTx(ctx, tx, params.ChallengeID); err != nil {
			return trace.Wrap(err)
		}
		if err := createCredentialTx(ctx, tx, params.Credential); err != nil {
			return trace.Wrap(err)
		}
		if err := touchUserLoginTx(ctx, tx, params.Credential.UserID, params.Session.CreatedAt); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(createSessionTx(ctx, tx, params.Session))
	})
	return trace.Wrap(err)
}

// CompleteLoginParams describe the rows committed when an authentication
// ceremony verifies.
type CompleteLoginParams struct {
	// ChallengeID is the consumed authentication challenge.
	ChallengeID string
	// CredentialID is the asserting passkey.
	CredentialID string
	// OldSignCount is the stored counter observed during verification;
	// the commit is conditional on it being unchanged.
	OldSignCount uint32
	// NewSignCount is the counter to store.
	NewSignCount uint32
	// Session is the session minted for the login.
	Session *types.Session
}

// CompleteLogin atomically consumes the challenge, advances the
// credential's signature counter, stamps the user's login time and
// creates the session. The counter update is conditional: if another
// assertion advanced it since verification, the whole completion rolls
// back with CompareFailed and no session is minted.
func (s *Storage) CompleteLogin(ctx context.Context, params CompleteLoginParams) error {
	if params.ChallengeID == "" {
		return trace.BadParameter("missing parameter ChallengeID")
	}
	if params.CredentialID == "" {
		return trace.BadParameter("missing parameter CredentialID")
	}
	if params.Session == nil {
		return trace.BadParameter("missing session")
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		if err := deleteChallengeTx(ctx, tx, params.ChallengeID); err != nil {
			return trace.Wrap(err)
		}
		if err := updateSignCountTx(ctx, tx, params.CredentialID,
			params.OldSignCount, params.NewSignCount, params.Session.CreatedAt); err != nil {
			return trace.Wrap(err)
		}
		if err := touchUserLoginTx(ctx, tx, params.Session.UserID, params.Session.CreatedAt); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(createSessionTx(ctx, tx, params.Session))
	})
	return trace.Wrap(err)
}

func touchUserLoginTx(ctx context.Context, tx *sql.Tx, userID string, t time.Time) error {
	result, err := tx.ExecContext(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", encodeTime(t), userID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if affected == 0 {
		return trace.NotFound("user %q not found", userID)
	}
	return nil
}

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

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/types"
)

const credentialColumns = "id, user_id, public_key, sign_count, aaguid, transports, attestation_format, created_at, last_used_at, device_name, backup_eligible, backed_up"

// CreateCredential registers a new passkey. Credential IDs are chosen by
// the authenticator and unique across the whole system: re-registering an
// existing ID fails with AlreadyExists regardless of the owning user.
func (s *Storage) CreateCredential(ctx context.Context, credential *types.Credential) error {
	if credential.ID == "" {
		return trace.BadParameter("missing parameter credential ID")
	}
	if credential.UserID == "" {
		return trace.BadParameter("missing parameter credential user ID")
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = s.Clock.Now().UTC()
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		return createCredentialTx(ctx, tx, credential)
	})
	return trace.Wrap(err)
}

func createCredentialTx(ctx context.Context, tx *sql.Tx, credential *types.Credential) error {
	transports, err := encodeTransports(credential.Transports)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, public_key, sign_count, aaguid, transports,
			attestation_format, created_at, last_used_at, device_name, backup_eligible, backed_up)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.ID, credential.UserID, credential.PublicKey, int64(credential.SignCount),
		credential.AAGUID, transports, nullableString(credential.AttestationFormat),
		encodeTime(credential.CreatedAt), encodeNullableTime(credential.LastUsedAt),
		nullableString(credential.DeviceName), credential.BackupEligible, credential.BackedUp)
	if err != nil {
		err = convertError(err)
		if trace.IsAlreadyExists(err) {
			return trace.AlreadyExists("credential %q is already registered", credential.ID)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetCredential returns a credential by its base64url ID.
func (s *Storage) GetCredential(ctx context.Context, credentialID string) (*types.Credential, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE id = ?", credentialID)
	credential, err := scanCredential(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("credential %q not found", credentialID)
		}
		return nil, trace.Wrap(err)
	}
	return credential, nil
}

// ListUserCredentials returns all passkeys registered to a user, oldest
// first.
func (s *Storage) ListUserCredentials(ctx context.Context, userID string) ([]*types.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var credentials []*types.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, trace.Wrap(convertError(rows.Err()))
}

// UpdateCredentialName renames a passkey. The credential must belong to
// the given user; credentials of other users read as absent.
func (s *Storage) UpdateCredentialName(ctx context.Context, userID, credentialID, deviceName string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE credentials SET device_name = ? WHERE id = ? AND user_id = ?",
		deviceName, credentialID, userID)
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	return oneAffected(result, "credential %q not found", credentialID)
}

// DeleteCredential removes one of the user's passkeys. The last remaining
// passkey cannot be removed: the account would become unreachable, since
// there is no other way to sign in.
func (s *Storage) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM credentials WHERE user_id = ?", userID).Scan(&count); err != nil {
			return trace.Wrap(convertError(err))
		}
		result, err := tx.ExecContext(ctx,
			"DELETE FROM credentials WHERE id = ? AND user_id = ?", credentialID, userID)
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		if affected == 0 {
			return trace.NotFound("credential %q not found", credentialID)
		}
		if count <= 1 {
			return trace.BadParameter("cannot delete the last passkey")
		}
		return nil
	})
	return trace.Wrap(err)
}

// UpdateCredentialSignCount advances the signature counter from oldCount
// to newCount and stamps the credential as used. The update is
// conditional on the stored counter still being oldCount; losing that
// race fails with CompareFailed and leaves the row unchanged.
func (s *Storage) UpdateCredentialSignCount(ctx context.Context, credentialID string, oldCount, newCount uint32, usedAt time.Time) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		return updateSignCountTx(ctx, tx, credentialID, oldCount, newCount, usedAt)
	})
	return trace.Wrap(err)
}

func updateSignCountTx(ctx context.Context, tx *sql.Tx, credentialID string, oldCount, newCount uint32, usedAt time.Time) error {
	result, err := tx.ExecContext(ctx,
		"UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE id = ? AND sign_count = ?",
		int64(newCount), encodeTime(usedAt), credentialID, int64(oldCount))
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return trace.Wrap(convertError(err))
	}
	if affected == 0 {
		return trace.CompareFailed("credential %q sign count changed concurrently", credentialID)
	}
	return nil
}

func scanCredential(sc scanner) (*types.Credential, error) {
	var credential types.Credential
	var signCount int64
	var transports, attestationFormat, lastUsed, deviceName sql.NullString
	var createdAt string
	if err := sc.Scan(&credential.ID, &credential.UserID, &credential.PublicKey, &signCount,
		&credential.AAGUID, &transports, &attestationFormat, &createdAt, &lastUsed,
		&deviceName, &credential.BackupEligible, &credential.BackedUp); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	credential.SignCount = uint32(signCount)
	credential.AttestationFormat = attestationFormat.String
	credential.DeviceName = deviceName.String

	var err error
	if credential.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if credential.LastUsedAt, err = decodeNullableTime(lastUsed); err != nil {
		return nil, trace.Wrap(err)
	}
	if transports.Valid && transports.String != "" {
		if err := json.Unmarshal([]byte(transports.String), &credential.Transports); err != nil {
			return nil, trace.BadParameter("invalid stored transports for credential %q: %v", credential.ID, err)
		}
	}
	return &credential, nil
}

func encodeTransports(transports []string) (any, error) {
	if len(transports) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(transports)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return string(out), nil
}

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

// Package types defines the domain records shared by the authgate
// services: users, passkey credentials, ceremony challenges, sessions and
// the access control entities.
package types

import (
	"time"

	"github.com/gravitational/trace"
)

// User is an account holder. Users are created on first passkey
// registration and authenticate exclusively through WebAuthn ceremonies;
// there is no password to store.
type User struct {
	// ID is an opaque version-4 UUID.
	ID string `json:"id"`
	// DisplayName is the human-readable name shown to authenticators
	// during ceremonies.
	DisplayName string `json:"displayName"`
	// Email is the unique account identifier used to start registration
	// and scoped login ceremonies.
	Email string `json:"email,omitempty"`
	// CreatedAt is when the account was first registered.
	CreatedAt time.Time `json:"createdAt"`
	// LastLoginAt is when the user last completed a ceremony. Zero means
	// the user never logged in.
	LastLoginAt time.Time `json:"lastLoginAt,omitzero"`
	// Active gates all session validity. Sessions of a deactivated user
	// stop validating immediately.
	Active bool `json:"active"`
	// Metadata holds free-form attributes attached by administrators.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Credential is a registered passkey: the public half of a WebAuthn
// credential bound to a user account.
type Credential struct {
	// ID is the URL-safe base64 encoding of the credential ID chosen by
	// the authenticator.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// PublicKey is the COSE-encoded credential public key.
	PublicKey []byte `json:"-"`
	// SignCount is the signature counter reported by the authenticator at
	// the last successful assertion. It never decreases.
	SignCount uint32 `json:"-"`
	// AAGUID identifies the authenticator model, when reported.
	AAGUID []byte `json:"-"`
	// Transports lists the transports the authenticator reported during
	// registration, e.g. "internal" or "usb".
	Transports []string `json:"transports,omitempty"`
	// AttestationFormat is the attestation statement format the
	// credential was registered with.
	AttestationFormat string `json:"attestationFormat,omitempty"`
	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"createdAt"`
	// LastUsedAt is when the credential last completed a login. Zero
	// means it was never used to log in.
	LastUsedAt time.Time `json:"lastUsedAt,omitzero"`
	// DeviceName is the user-chosen label for the passkey.
	DeviceName string `json:"deviceName,omitempty"`
	// BackupEligible is the authenticator's BE flag: whether the
	// credential may be synced across devices.
	BackupEligible bool `json:"backupEligible"`
	// BackedUp is the authenticator's BS flag: whether the credential is
	// currently backed up.
	BackedUp bool `json:"backedUp"`
}

// ChallengeKind separates registration challenges from authentication
// challenges. A challenge is only consumable by a ceremony of its kind.
type ChallengeKind string

const (
	// ChallengeKindRegistration marks challenges issued for credential
	// creation ceremonies.
	ChallengeKindRegistration ChallengeKind = "registration"
	// ChallengeKindAuthentication marks challenges issued for assertion
	// ceremonies.
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// Check validates the challenge kind.
func (k ChallengeKind) Check() error {
	switch k {
	case ChallengeKindRegistration, ChallengeKindAuthentication:
		return nil
	}
	return trace.BadParameter("challenge kind %q is not supported", k)
}

// Challenge is a single-use ceremony nonce. Challenges are consumed
// exactly once on completion and expire on their own if abandoned.
type Challenge struct {
	// ID is the URL-safe base64 encoding of the nonce.
	ID string `json:"id"`
	// UserID binds registration challenges to the registering user.
	// Authentication challenges carry no user: the assertion itself
	// establishes identity.
	UserID string `json:"userId,omitempty"`
	// Nonce is the random value the client must echo back signed.
	Nonce []byte `json:"-"`
	// Kind is the ceremony kind the challenge was issued for.
	Kind ChallengeKind `json:"kind"`
	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is when the challenge stops being consumable.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge can no longer be consumed at the
// given time.
func (c *Challenge) Expired(now time.Time) bool {
	return expired(c.ExpiresAt, now)
}

// Session is the server-side record of a minted bearer token. The token's
// jti claim is the session ID, which makes individual tokens revocable.
type Session struct {
	// ID is the token's jti: an opaque version-4 UUID.
	ID string `json:"id"`
	// UserID is the authenticated user.
	UserID string `json:"userId"`
	// CredentialID is the passkey that completed the ceremony, when the
	// session was minted by one.
	CredentialID string `json:"credentialId,omitempty"`
	// CreatedAt is when the session was minted.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is when the session and its token stop validating.
	ExpiresAt time.Time `json:"expiresAt"`
	// LastActivityAt is when the session last validated a request.
	LastActivityAt time.Time `json:"lastActivityAt"`
	// IPAddress is the client address observed at mint time.
	IPAddress string `json:"ipAddress,omitempty"`
	// UserAgent is the client user agent observed at mint time.
	UserAgent string `json:"userAgent,omitempty"`
	// Revoked marks the session as explicitly logged out. Revocation is
	// permanent.
	Revoked bool `json:"revoked"`
}

// Expired reports whether the session has passed its expiry at the given
// time.
func (s *Session) Expired(now time.Time) bool {
	return expired(s.ExpiresAt, now)
}

// expired treats the zero time as "never expires" and an expiry exactly
// at now as already expired.
func expired(expires, now time.Time) bool {
	return !expires.IsZero() && !expires.After(now)
}

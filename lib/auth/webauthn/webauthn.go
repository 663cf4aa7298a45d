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

// Package webauthn implements the relying party side of the WebAuthn
// passkey ceremonies.
//
// Registration and login both happen in two legs: Begin issues a
// single-use challenge and the client options to answer it, Finish
// verifies the authenticator's response against the stored challenge.
// Flows verify but never commit: the auth server persists the outcome
// atomically together with the challenge consumption.
package webauthn

import (
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	wan "github.com/go-webauthn/webauthn/webauthn"
	"github.com/gravitational/trace"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/codec"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/types"
	logutils "github.com/gravitational/authgate/lib/utils/log"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentWebAuthn)

// Config groups the relying party parameters shared by both ceremonies.
type Config struct {
	// RPID is the relying party ID: the effective domain all passkeys are
	// scoped to.
	RPID string

	// RPOrigins are the full web origins permitted in client data. A
	// ceremony response from any other origin fails verification.
	RPOrigins []string

	// RPDisplayName is the relying party name browsers show during
	// ceremonies.
	RPDisplayName string

	// ChallengeTTL is how long an issued challenge stays redeemable.
	ChallengeTTL time.Duration

	// Timeout is the ceremony timeout hinted to clients.
	Timeout time.Duration
}

// CheckAndSetDefaults validates the configuration and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.RPID == "" {
		return trace.BadParameter("missing parameter RPID")
	}
	if len(cfg.RPOrigins) == 0 {
		return trace.BadParameter("missing parameter RPOrigins")
	}
	for _, origin := range cfg.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil {
			return trace.BadParameter("origin %q is invalid: %v", origin, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return trace.BadParameter("origin %q must include a scheme and host", origin)
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = defaults.RPDisplayName
	}
	if cfg.ChallengeTTL == 0 {
		cfg.ChallengeTTL = defaults.ChallengeTTL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.CeremonyTimeout
	}
	return nil
}

// newWebAuthn builds the library relying party for cfg. Both ceremonies
// run with resident keys and user verification required: discoverable
// credentials are what make usernameless login possible, and user
// verification is what stands in for a password.
func newWebAuthn(cfg *Config) (*wan.WebAuthn, error) {
	requireResidentKey := true
	timeoutConfig := wan.TimeoutConfig{
		Enforce:    true,
		Timeout:    cfg.Timeout,
		TimeoutUVD: cfg.Timeout,
	}

	web, err := wan.New(&wan.Config{
		RPID:                  cfg.RPID,
		RPOrigins:             cfg.RPOrigins,
		RPDisplayName:         cfg.RPDisplayName,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			RequireResidentKey: &requireResidentKey,
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
			UserVerification:   protocol.VerificationRequired,
		},
		Timeouts: wan.TimeoutsConfig{
			Login:        timeoutConfig,
			Registration: timeoutConfig,
		},
	})
	return web, trace.Wrap(err)
}

// challengeFromSessionData converts the library session into the
// single-use challenge row persisted between the ceremony legs. The
// challenge ID doubles as the base64url form of the nonce, which is
// exactly the string the client echoes back in its client data.
func challengeFromSessionData(sd *wan.SessionData, kind types.ChallengeKind, userID string, now time.Time, ttl time.Duration) (*types.Challenge, error) {
	nonce, err := codec.Decode(sd.Challenge)
	if err != nil {
		return nil, trace.Wrap(err, "decoding generated challenge")
	}
	return &types.Challenge{
		ID:        sd.Challenge,
		UserID:    userID,
		Nonce:     nonce,
		Kind:      kind,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}, nil
}

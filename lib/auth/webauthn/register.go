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

package webauthn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	wan "github.com/go-webauthn/webauthn/webauthn"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/authgate/lib/codec"
	"github.com/gravitational/authgate/lib/types"
)

// defaultDeviceName labels passkeys registered without an explicit name.
const defaultDeviceName = "passkey"

// RegistrationIdentity represents the subset of storage methods used by
// RegistrationFlow.
type RegistrationIdentity interface {
	UpsertUserByEmail(ctx context.Context, email, displayName string) (*types.User, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	ListUserCredentials(ctx context.Context, userID string) ([]*types.Credential, error)

	CreateChallenge(ctx context.Context, challenge *types.Challenge) error
	GetChallenge(ctx context.Context, challengeID string, kind types.ChallengeKind) (*types.Challenge, error)
}

// RegistrationFlow represents the WebAuthn registration ceremony.
//
// Registration consists of:
//
//  1. Client requests a CredentialCreation (containing a challenge and
//     settings that constrain allowed authenticators).
//  2. Server runs Begin(), generates a credential creation.
//  3. Client validates the credential creation, performs a user presence
//     and verification test, and replies with a
//     CredentialCreationResponse (containing the signed challenge and
//     information about the credential and authenticator).
//  4. Server runs Finish().
//  5. If all server-side checks pass the auth server commits the new
//     credential together with the challenge consumption.
type RegistrationFlow struct {
	Config   *Config
	Identity RegistrationIdentity
	Clock    clockwork.Clock
}

// Begin is the first step of the registration ceremony. It upserts the
// account by email, excludes passkeys the user already holds and issues a
// single-use challenge. The returned CredentialCreation is relayed to the
// client, which answers it with a signed attestation.
func (f *RegistrationFlow) Begin(ctx context.Context, email, displayName string) (string, *protocol.CredentialCreation, error) {
	email, err := checkAndNormalizeEmail(email)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if displayName == "" {
		displayName = email
	}

	user, err := f.Identity.UpsertUserByEmail(ctx, email, displayName)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if !user.Active {
		return "", nil, trace.AccessDenied("user is disabled")
	}

	// Exclude known passkeys from the ceremony so authenticators create a
	// fresh credential instead of silently replacing one.
	credentials, err := f.Identity.ListUserCredentials(ctx, user.ID)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	var exclusions []protocol.CredentialDescriptor
	for _, credential := range credentials {
		credentialID, err := codec.Decode(credential.ID)
		if err != nil {
			return "", nil, trace.Wrap(err)
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: credentialID,
		})
	}

	u, err := newWebUser(webUserOpts{user: user})
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	web, err := newWebAuthn(f.Config)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	cc, sessionData, err := web.BeginRegistration(u, wan.WithExclusions(exclusions))
	if err != nil {
		return "", nil, trace.Wrap(err)
	}

	challenge, err := challengeFromSessionData(sessionData, types.ChallengeKindRegistration, user.ID, f.Clock.Now(), f.Config.ChallengeTTL)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if err := f.Identity.CreateChallenge(ctx, challenge); err != nil {
		return "", nil, trace.Wrap(err)
	}

	log.DebugContext(ctx, "Registration ceremony started.", "user", user.ID, "challenge", challenge.ID)
	return challenge.ID, cc, nil
}

// RegisterResponse is the client's answer to a registration challenge.
type RegisterResponse struct {
	// ChallengeID identifies the ceremony being finished.
	ChallengeID string `json:"challengeId"`
	// DeviceName is an optional friendly name for the new passkey.
	DeviceName string `json:"deviceName,omitempty"`
	// CreationResponse is the authenticator's response, as produced by
	// navigator.credentials.create.
	CreationResponse json.RawMessage `json:"creationResponse"`
}

// Finish is the second and last step of the registration ceremony. It
// verifies the attestation against the stored challenge and returns the
// account and the verified credential. Finish writes nothing: the caller
// commits the credential atomically with the challenge consumption.
func (f *RegistrationFlow) Finish(ctx context.Context, req *RegisterResponse) (*types.User, *types.Credential, error) {
	switch {
	case req == nil:
		return nil, nil, trace.BadParameter("register response required")
	case req.ChallengeID == "":
		return nil, nil, trace.BadParameter("challenge ID required")
	case len(req.CreationResponse) == 0:
		return nil, nil, trace.BadParameter("credential creation response required")
	}
	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = defaultDeviceName
	}

	// Absent, expired and already-consumed challenges are deliberately
	// indistinguishable here.
	challenge, err := f.Identity.GetChallenge(ctx, req.ChallengeID, types.ChallengeKindRegistration)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, trace.BadParameter("challenge not found")
		}
		return nil, nil, trace.Wrap(err)
	}

	parsedResp, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.CreationResponse))
	if err != nil {
		return nil, nil, trace.BadParameter("invalid credential creation response: %v", err)
	}

	user, err := f.Identity.GetUser(ctx, challenge.UserID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	u, err := newWebUser(webUserOpts{user: user})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	web, err := newWebAuthn(f.Config)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	sessionData := wan.SessionData{
		Challenge:        codec.Encode(challenge.Nonce),
		UserID:           u.WebAuthnID(),
		UserVerification: protocol.VerificationRequired,
	}
	credential, err := web.CreateCredential(u, sessionData, parsedResp)
	if err != nil {
		// Authenticators without a verification method trip the UV check;
		// surface a friendlier hint for that case.
		protocolErr := &protocol.Error{}
		if errors.As(err, &protocolErr) &&
			protocolErr.Type == protocol.ErrVerification.Type &&
			!parsedResp.Response.AttestationObject.AuthData.Flags.UserVerified() {
			log.DebugContext(ctx, "Replacing verification error with PIN hint.", "error", err)
			return nil, nil, trace.BadParameter("authenticator did not verify the user, setting up a PIN or biometric may fix this")
		}
		log.DebugContext(ctx, "Registration ceremony failed verification.", "error", err)
		return nil, nil, trace.BadParameter("registration verification failed: %v", err)
	}

	log.DebugContext(ctx, "Registration ceremony verified.", "user", user.ID, "device_name", deviceName)
	return user, libraryToCredential(user.ID, deviceName, credential, f.Clock.Now().UTC()), nil
}

// checkAndNormalizeEmail lowercases the account email so that ceremony
// lookups and the unique account constraint agree on one spelling.
func checkAndNormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", trace.BadParameter("email required")
	}
	if !strings.Contains(email, "@") {
		return "", trace.BadParameter("email %q is not a valid address", email)
	}
	return email, nil
}

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

	"github.com/go-webauthn/webauthn/protocol"
	wan "github.com/go-webauthn/webauthn/webauthn"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/authgate/lib/codec"
	"github.com/gravitational/authgate/lib/types"
)

// LoginIdentity represents the subset of storage methods used by
// LoginFlow.
type LoginIdentity interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetCredential(ctx context.Context, credentialID string) (*types.Credential, error)
	ListUserCredentials(ctx context.Context, userID string) ([]*types.Credential, error)

	CreateChallenge(ctx context.Context, challenge *types.Challenge) error
	GetChallenge(ctx context.Context, challengeID string, kind types.ChallengeKind) (*types.Challenge, error)
}

// LoginFlow represents the WebAuthn authentication ceremony.
//
// The default flow is usernameless: Begin issues a challenge without
// naming an account, the browser picks among the user's discoverable
// credentials and the asserted user handle establishes identity. The
// email-scoped variant narrows the ceremony to a known account's
// passkeys.
type LoginFlow struct {
	Config   *Config
	Identity LoginIdentity
	Clock    clockwork.Clock
}

// Begin starts a discoverable login ceremony: no account is named, the
// allow list stays empty and the authenticator is free to answer with any
// resident credential scoped to our relying party.
func (f *LoginFlow) Begin(ctx context.Context) (string, *protocol.CredentialAssertion, error) {
	web, err := newWebAuthn(f.Config)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	assertion, sessionData, err := web.BeginDiscoverableLogin(wan.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return "", nil, trace.Wrap(err)
	}

	challenge, err := challengeFromSessionData(sessionData, types.ChallengeKindAuthentication, "" /* userID */, f.Clock.Now(), f.Config.ChallengeTTL)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if err := f.Identity.CreateChallenge(ctx, challenge); err != nil {
		return "", nil, trace.Wrap(err)
	}

	log.DebugContext(ctx, "Login ceremony started.", "challenge", challenge.ID)
	return challenge.ID, assertion, nil
}

// BeginForUser starts a login ceremony scoped to the passkeys of a known
// email. An unknown account and an account without passkeys answer
// identically, so the endpoint cannot be used to probe for accounts.
func (f *LoginFlow) BeginForUser(ctx context.Context, email string) (string, *protocol.CredentialAssertion, error) {
	email, err := checkAndNormalizeEmail(email)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	user, err := f.Identity.GetUserByEmail(ctx, email)
	if err != nil {
		if trace.IsNotFound(err) {
			return "", nil, trace.BadParameter("no passkey registered")
		}
		return "", nil, trace.Wrap(err)
	}
	credentials, err := f.Identity.ListUserCredentials(ctx, user.ID)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if len(credentials) == 0 {
		return "", nil, trace.BadParameter("no passkey registered")
	}

	u, err := newWebUser(webUserOpts{user: user, credentials: credentials})
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	web, err := newWebAuthn(f.Config)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	assertion, sessionData, err := web.BeginLogin(u, wan.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return "", nil, trace.Wrap(err)
	}

	challenge, err := challengeFromSessionData(sessionData, types.ChallengeKindAuthentication, user.ID, f.Clock.Now(), f.Config.ChallengeTTL)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if err := f.Identity.CreateChallenge(ctx, challenge); err != nil {
		return "", nil, trace.Wrap(err)
	}

	log.DebugContext(ctx, "Login ceremony started.", "user", user.ID, "challenge", challenge.ID)
	return challenge.ID, assertion, nil
}

// AssertionResponse is the client's answer to a login challenge.
type AssertionResponse struct {
	// ChallengeID identifies the ceremony being finished.
	ChallengeID string `json:"challengeId"`
	// AssertionResponse is the authenticator's response, as produced by
	// navigator.credentials.get.
	AssertionResponse json.RawMessage `json:"assertionResponse"`
}

// LoginResult is the outcome of a verified authentication ceremony.
type LoginResult struct {
	// User is the authenticated account.
	User *types.User
	// Credential is the asserting passkey as currently stored. Its
	// SignCount is the value observed during verification; the commit is
	// conditional on it being unchanged.
	Credential *types.Credential
	// NewSignCount is the counter value to persist on completion.
	NewSignCount uint32
}

// Finish is the second and last step of the login ceremony. It verifies
// the assertion signature, the user verification flag and the signature
// counter against the stored credential. Finish writes nothing: the
// caller commits the counter update atomically with the challenge
// consumption.
func (f *LoginFlow) Finish(ctx context.Context, req *AssertionResponse) (*LoginResult, error) {
	switch {
	case req == nil:
		return nil, trace.BadParameter("assertion response required")
	case req.ChallengeID == "":
		return nil, trace.BadParameter("challenge ID required")
	case len(req.AssertionResponse) == 0:
		return nil, trace.BadParameter("assertion response required")
	}

	challenge, err := f.Identity.GetChallenge(ctx, req.ChallengeID, types.ChallengeKindAuthentication)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.BadParameter("challenge not found")
		}
		return nil, trace.Wrap(err)
	}

	parsedResp, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.AssertionResponse))
	if err != nil {
		return nil, trace.BadParameter("invalid assertion response: %v", err)
	}

	credential, err := f.Identity.GetCredential(ctx, codec.Encode(parsedResp.RawID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.BadParameter("credential not recognized")
		}
		return nil, trace.Wrap(err)
	}
	user, err := f.Identity.GetUser(ctx, credential.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !user.Active {
		return nil, trace.AccessDenied("user is disabled")
	}

	u, err := newWebUser(webUserOpts{user: user, credentials: []*types.Credential{credential}})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	web, err := newWebAuthn(f.Config)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sessionData := wan.SessionData{
		Challenge:        codec.Encode(challenge.Nonce),
		UserVerification: protocol.VerificationRequired,
	}
	if challenge.UserID == "" {
		// Discoverable ceremony: the authenticator names the account
		// through the asserted user handle.
		handler := func(rawID, userHandle []byte) (wan.User, error) {
			if !bytes.Equal(userHandle, u.WebAuthnID()) {
				return nil, trace.BadParameter("user handle does not match the credential owner")
			}
			return u, nil
		}
		_, err = web.ValidateDiscoverableLogin(handler, sessionData, parsedResp)
	} else {
		if challenge.UserID != user.ID {
			return nil, trace.BadParameter("credential not recognized")
		}
		sessionData.UserID = u.WebAuthnID()
		_, err = web.ValidateLogin(u, sessionData, parsedResp)
	}
	if err != nil {
		log.DebugContext(ctx, "Login ceremony failed verification.", "error", err)
		return nil, trace.BadParameter("login verification failed: %v", err)
	}

	// The library only flags counter anomalies; the policy is ours. A
	// counter at or below the stored value while both are nonzero means a
	// second authenticator is signing with the same credential.
	received := parsedResp.Response.AuthenticatorData.Counter
	stored := credential.SignCount
	if received != 0 && stored != 0 && received <= stored {
		log.WarnContext(ctx, "Assertion signature counter regressed.",
			"credential", credential.ID, "stored", stored, "received", received)
		return nil, trace.BadParameter("cloned authenticator suspected")
	}
	newSignCount := stored
	if received > stored {
		newSignCount = received
	}

	log.DebugContext(ctx, "Login ceremony verified.", "user", user.ID, "credential", credential.ID)
	return &LoginResult{
		User:         user,
		Credential:   credential,
		NewSignCount: newSignCount,
	}, nil
}

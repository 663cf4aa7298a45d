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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/auth/webauthntest"
	"github.com/gravitational/authgate/lib/defaults"
)

func TestRegisterFirstPasskey(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	device, err := webauthntest.NewDevice()
	require.NoError(t, err)

	challengeID, cc, err := p.BeginRegistration(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)

	resp, err := device.SignCredentialCreation(testOrigin, cc)
	require.NoError(t, err)

	meta := &ClientMeta{IPAddress: "203.0.113.7", UserAgent: "authgate-tests"}
	result, err := p.FinishRegistration(ctx, &webauthn.RegisterResponse{
		ChallengeID:      challengeID,
		DeviceName:       "yubikey",
		CreationResponse: resp,
	}, meta)
	require.NoError(t, err)

	require.Equal(t, "alice@example.com", result.User.Email)
	require.Equal(t, "Alice", result.User.DisplayName)
	require.True(t, result.User.Active)

	credential, err := p.GetCredential(ctx, result.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, credential.UserID)
	require.Equal(t, "yubikey", credential.DeviceName)
	require.Zero(t, credential.SignCount)

	session, err := p.GetSession(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, session.UserID)
	require.Equal(t, credential.ID, session.CredentialID)
	require.Equal(t, meta.IPAddress, session.IPAddress)
	require.Equal(t, meta.UserAgent, session.UserAgent)
	require.Equal(t, p.clock.Now().UTC().Add(defaults.SessionTTL), session.ExpiresAt)

	// The token is bound to the freshly minted session and carries the
	// built-in user role granted on account creation.
	identity, err := p.ValidateSession(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, identity.UserID)
	require.Equal(t, "alice@example.com", identity.Email)
	require.Equal(t, []string{authgate.UserRoleName}, identity.Roles)
	require.Equal(t, session.ID, identity.SessionID)
	require.Equal(t, session.ExpiresAt, identity.Expires)

	// Registering the first passkey counts as a login.
	user, err := p.GetUser(ctx, result.User.ID)
	require.NoError(t, err)
	require.Equal(t, p.clock.Now().UTC(), user.LastLoginAt)
}

func TestRegisterChallengeSingleUse(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	device, err := webauthntest.NewDevice()
	require.NoError(t, err)

	challengeID, cc, err := p.BeginRegistration(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	resp, err := device.SignCredentialCreation(testOrigin, cc)
	require.NoError(t, err)

	req := &webauthn.RegisterResponse{ChallengeID: challengeID, CreationResponse: resp}
	_, err = p.FinishRegistration(ctx, req, nil)
	require.NoError(t, err)

	// The first completion consumed the challenge.
	_, err = p.FinishRegistration(ctx, req, nil)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "challenge not found")
}

func TestRegisterSecondPasskey(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	first, _ := p.registerPasskey(t, "alice@example.com")
	second, _ := p.registerPasskey(t, "alice@example.com")
	require.Equal(t, first.User.ID, second.User.ID)

	credentials, err := p.ListUserCredentials(ctx, first.User.ID)
	require.NoError(t, err)
	require.Len(t, credentials, 2)
}

func TestLoginWithPasskey(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	registered, device := p.registerPasskey(t, "alice@example.com")
	p.clock.Advance(10 * time.Minute)

	challengeID, assertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)

	meta := &ClientMeta{IPAddress: "198.51.100.4", UserAgent: "authgate-tests"}
	result, err := p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: resp,
	}, meta)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, result.User.ID)
	require.NotEqual(t, registered.Session.ID, result.Session.ID)

	// The commit advanced the signature counter.
	credential, err := p.GetCredential(ctx, registered.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), credential.SignCount)
	require.Equal(t, p.clock.Now().UTC(), credential.LastUsedAt)

	session, err := p.GetSession(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, meta.IPAddress, session.IPAddress)

	user, err := p.GetUser(ctx, result.User.ID)
	require.NoError(t, err)
	require.Equal(t, p.clock.Now().UTC(), user.LastLoginAt)

	identity, err := p.ValidateSession(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, result.Session.ID, identity.SessionID)
}

func TestLoginScopedToEmail(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	_, device := p.registerPasskey(t, "alice@example.com")

	challengeID, assertion, err := p.BeginLoginForUser(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, assertion.Response.AllowedCredentials)

	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)
	result, err := p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: resp,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.User.Email)
}

func TestLoginChallengeSingleUse(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	_, device := p.registerPasskey(t, "alice@example.com")

	challengeID, assertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)

	req := &webauthn.AssertionResponse{ChallengeID: challengeID, AssertionResponse: resp}
	_, err = p.FinishLogin(ctx, req, nil)
	require.NoError(t, err)

	_, err = p.FinishLogin(ctx, req, nil)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "challenge not found")
}

func TestLoginExpiredChallenge(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	_, device := p.registerPasskey(t, "alice@example.com")

	challengeID, assertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)

	p.clock.Advance(defaults.ChallengeTTL + time.Second)

	_, err = p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: resp,
	}, nil)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "challenge not found")
}

func TestLoginReplayedAssertion(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	_, device := p.registerPasskey(t, "alice@example.com")

	// Two ceremonies signed by the same device, finished out of order:
	// the later signature lands first, so the earlier one arrives with a
	// counter at or below the stored value and is treated as a clone.
	firstID, firstAssertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	firstResp, err := device.SignAssertion(testOrigin, firstAssertion)
	require.NoError(t, err)

	secondID, secondAssertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	secondResp, err := device.SignAssertion(testOrigin, secondAssertion)
	require.NoError(t, err)

	_, err = p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       secondID,
		AssertionResponse: secondResp,
	}, nil)
	require.NoError(t, err)

	_, err = p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       firstID,
		AssertionResponse: firstResp,
	}, nil)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "cloned authenticator suspected")
}

func TestLoginVerificationFailureKeepsChallenge(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	_, device := p.registerPasskey(t, "alice@example.com")

	challengeID, assertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)

	// A response signed for the wrong origin fails verification and must
	// not consume the challenge.
	badResp, err := device.SignAssertion("https://evil.example.com", assertion)
	require.NoError(t, err)
	_, err = p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: badResp,
	}, nil)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)
	_, err = p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: resp,
	}, nil)
	require.NoError(t, err)
}

func TestRenameCredential(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	result, _ := p.registerPasskey(t, "alice@example.com")

	err := p.RenameCredential(ctx, result.User.ID, result.Credential.ID, "  work laptop  ")
	require.NoError(t, err)

	credential, err := p.GetCredential(ctx, result.Credential.ID)
	require.NoError(t, err)
	require.Equal(t, "work laptop", credential.DeviceName)

	err = p.RenameCredential(ctx, result.User.ID, result.Credential.ID, "   ")
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

func TestDeleteLastCredentialRefused(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	result, _ := p.registerPasskey(t, "alice@example.com")
	second, _ := p.registerPasskey(t, "alice@example.com")

	require.NoError(t, p.DeleteCredential(ctx, result.User.ID, second.Credential.ID))

	err := p.DeleteCredential(ctx, result.User.ID, result.Credential.ID)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

func TestUpdateProfile(t *testing.T) {
	p := newTestPack(t)
	ctx := context.Background()

	result, _ := p.registerPasskey(t, "alice@example.com")

	user, err := p.UpdateProfile(ctx, result.User.ID, "Alice Liddell")
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", user.DisplayName)

	stored, err := p.GetUser(ctx, result.User.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", stored.DisplayName)

	_, err = p.UpdateProfile(ctx, result.User.ID, "")
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

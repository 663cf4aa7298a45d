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
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate/lib/auth/webauthntest"
	"github.com/gravitational/authgate/lib/types"
	"github.com/gravitational/authgate/lib/utils"
)

func TestMain(m *testing.M) {
	utils.InitLoggerForTests()
	os.Exit(m.Run())
}

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

type testEnv struct {
	clock        *clockwork.FakeClock
	identity     *fakeIdentity
	registration *RegistrationFlow
	login        *LoginFlow
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &Config{
		RPID:      testRPID,
		RPOrigins: []string{testOrigin},
	}
	require.NoError(t, cfg.CheckAndSetDefaults())

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	identity := newFakeIdentity(clock)
	return &testEnv{
		clock:        clock,
		identity:     identity,
		registration: &RegistrationFlow{Config: cfg, Identity: identity, Clock: clock},
		login:        &LoginFlow{Config: cfg, Identity: identity, Clock: clock},
	}
}

// registerPasskey runs a full registration ceremony and commits the
// resulting credential, leaving the device ready to assert logins.
func (e *testEnv) registerPasskey(t *testing.T, email string) (*types.User, *webauthntest.Device, *types.Credential) {
	t.Helper()
	ctx := context.Background()

	device, err := webauthntest.NewDevice()
	require.NoError(t, err)

	challengeID, cc, err := e.registration.Begin(ctx, email, "" /* displayName */)
	require.NoError(t, err)
	ccr, err := device.SignCredentialCreation(testOrigin, cc)
	require.NoError(t, err)

	user, credential, err := e.registration.Finish(ctx, &RegisterResponse{
		ChallengeID:      challengeID,
		CreationResponse: ccr,
	})
	require.NoError(t, err)

	e.identity.commitCredential(credential)
	e.identity.consumeChallenge(challengeID)
	return user, device, credential
}

// loginPasskey runs a full discoverable login ceremony without committing
// the counter update.
func (e *testEnv) loginPasskey(t *testing.T, device *webauthntest.Device) *LoginResult {
	t.Helper()
	ctx := context.Background()

	challengeID, assertion, err := e.login.Begin(ctx)
	require.NoError(t, err)
	car, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)

	result, err := e.login.Finish(ctx, &AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: car,
	})
	require.NoError(t, err)
	e.identity.consumeChallenge(challengeID)
	return result
}

// fakeIdentity is an in-memory stand-in for the storage layer. Unlike the
// real thing it never consumes challenges on its own; tests do that
// explicitly, the way the auth server commits ceremonies.
type fakeIdentity struct {
	clock clockwork.Clock

	users       map[string]*types.User
	credentials map[string]*types.Credential
	challenges  map[string]*types.Challenge
}

func newFakeIdentity(clock clockwork.Clock) *fakeIdentity {
	return &fakeIdentity{
		clock:       clock,
		users:       make(map[string]*types.User),
		credentials: make(map[string]*types.Credential),
		challenges:  make(map[string]*types.Challenge),
	}
}

func (f *fakeIdentity) UpsertUserByEmail(ctx context.Context, email, displayName string) (*types.User, error) {
	if user, err := f.GetUserByEmail(ctx, email); err == nil {
		return user, nil
	}
	user := &types.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   f.clock.Now().UTC(),
		Active:      true,
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeIdentity) GetUser(ctx context.Context, userID string) (*types.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, trace.NotFound("user %q not found", userID)
	}
	return user, nil
}

func (f *fakeIdentity) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, trace.NotFound("user %q not found", email)
}

func (f *fakeIdentity) GetCredential(ctx context.Context, credentialID string) (*types.Credential, error) {
	credential, ok := f.credentials[credentialID]
	if !ok {
		return nil, trace.NotFound("credential %q not found", credentialID)
	}
	return credential, nil
}

func (f *fakeIdentity) ListUserCredentials(ctx context.Context, userID string) ([]*types.Credential, error) {
	var credentials []*types.Credential
	for _, credential := range f.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (f *fakeIdentity) CreateChallenge(ctx context.Context, challenge *types.Challenge) error {
	if _, ok := f.challenges[challenge.ID]; ok {
		return trace.AlreadyExists("challenge %q already exists", challenge.ID)
	}
	f.challenges[challenge.ID] = challenge
	return nil
}

func (f *fakeIdentity) GetChallenge(ctx context.Context, challengeID string, kind types.ChallengeKind) (*types.Challenge, error) {
	challenge, ok := f.challenges[challengeID]
	if !ok || challenge.Kind != kind || challenge.Expired(f.clock.Now()) {
		return nil, trace.NotFound("challenge %q not found", challengeID)
	}
	return challenge, nil
}

func (f *fakeIdentity) commitCredential(credential *types.Credential) {
	f.credentials[credential.ID] = credential
}

func (f *fakeIdentity) consumeChallenge(challengeID string) {
	delete(f.challenges, challengeID)
}

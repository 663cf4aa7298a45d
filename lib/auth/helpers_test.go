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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/auth/webauthntest"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/jwt"
	"github.com/gravitational/authgate/lib/storage"
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

// testPack is an auth server wired to a throwaway sqlite store and a fake
// clock, seeded with the built-in roles and permissions.
type testPack struct {
	*Server

	clock  *clockwork.FakeClock
	tokens *jwt.Key
}

func newTestPack(t *testing.T) *testPack {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	store, err := storage.New(ctx, storage.Config{
		Path:  filepath.Join(t.TempDir(), defaults.DBFileName),
		Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	require.NoError(t, Init(ctx, InitConfig{Storage: store}))

	tokens, err := jwt.New(&jwt.Config{
		Clock:      clock,
		SigningKey: bytes.Repeat([]byte{0x42}, defaults.SigningKeyLength),
	})
	require.NoError(t, err)

	server, err := NewServer(&Config{
		Storage: store,
		Tokens:  tokens,
		Webauthn: &webauthn.Config{
			RPID:      testRPID,
			RPOrigins: []string{testOrigin},
		},
		Clock: clock,
	})
	require.NoError(t, err)

	return &testPack{Server: server, clock: clock, tokens: tokens}
}

// registerPasskey runs a full registration ceremony for email and returns
// the outcome together with the device now holding the passkey.
func (p *testPack) registerPasskey(t *testing.T, email string) (*AuthResult, *webauthntest.Device) {
	t.Helper()
	ctx := context.Background()

	device, err := webauthntest.NewDevice()
	require.NoError(t, err)

	challengeID, cc, err := p.BeginRegistration(ctx, email, "")
	require.NoError(t, err)
	resp, err := device.SignCredentialCreation(testOrigin, cc)
	require.NoError(t, err)

	result, err := p.FinishRegistration(ctx, &webauthn.RegisterResponse{
		ChallengeID:      challengeID,
		CreationResponse: resp,
	}, nil)
	require.NoError(t, err)
	return result, device
}

// loginPasskey runs a discoverable login ceremony with the device.
func (p *testPack) loginPasskey(t *testing.T, device *webauthntest.Device) *AuthResult {
	t.Helper()
	ctx := context.Background()

	challengeID, assertion, err := p.BeginLogin(ctx)
	require.NoError(t, err)
	resp, err := device.SignAssertion(testOrigin, assertion)
	require.NoError(t, err)

	result, err := p.FinishLogin(ctx, &webauthn.AssertionResponse{
		ChallengeID:       challengeID,
		AssertionResponse: resp,
	}, nil)
	require.NoError(t, err)
	return result
}

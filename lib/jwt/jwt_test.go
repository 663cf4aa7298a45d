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

package jwt

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/utils"
)

func TestMain(m *testing.M) {
	utils.InitLoggerForTests()
	os.Exit(m.Run())
}

var testSigningKey = bytes.Repeat([]byte{0x42}, 32)

func newTestKey(t *testing.T, clock clockwork.Clock) *Key {
	t.Helper()
	key, err := New(&Config{
		Clock:      clock,
		SigningKey: testSigningKey,
	})
	require.NoError(t, err)
	return key
}

func TestSignAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	sessionID := uuid.NewString()
	token, err := key.Sign(SignParams{
		Subject:     "user-1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Roles:       []string{"admin", "user"},
		SessionID:   sessionID,
		Expires:     clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 3, len(strings.Split(token, ".")))

	claims, err := key.Verify(VerifyParams{RawToken: token})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "Alice", claims.DisplayName)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, []string{"admin", "user"}, claims.Roles)
	require.Equal(t, sessionID, claims.SessionID())
	require.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
	require.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		assertErr require.ErrorAssertionFunc
	}{
		{
			name:      "missing key",
			config:    Config{},
			assertErr: require.Error,
		}, {
			name:      "short key",
			config:    Config{SigningKey: []byte("too short")},
			assertErr: require.Error,
		}, {
			name:      "negative drift",
			config:    Config{SigningKey: testSigningKey, DriftTolerance: -time.Second},
			assertErr: require.Error,
		}, {
			name:      "ok",
			config:    Config{SigningKey: testSigningKey},
			assertErr: require.NoError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.CheckAndSetDefaults()
			tt.assertErr(t, err)
			if err == nil {
				require.NotNil(t, tt.config.Clock)
				require.Equal(t, defaults.TimestampDriftTolerance, tt.config.DriftTolerance)
			}
		})
	}
}

func TestSignParamsCheck(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)
	valid := SignParams{
		Subject:   "user-1",
		SessionID: uuid.NewString(),
		Expires:   clock.Now().Add(time.Hour),
	}

	p := valid
	p.Subject = ""
	_, err := key.Sign(p)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	p = valid
	p.SessionID = ""
	_, err = key.Sign(p)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	p = valid
	p.Expires = time.Time{}
	_, err = key.Sign(p)
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

func TestVerifyExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	token, err := key.Sign(SignParams{
		Subject:   "user-1",
		SessionID: uuid.NewString(),
		Expires:   clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = key.Verify(VerifyParams{RawToken: token})
	require.NoError(t, err)

	// Expiry has no grace period: a token is dead the moment its
	// expiration time arrives.
	clock.Advance(time.Second)
	_, err = key.Verify(VerifyParams{RawToken: token})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "token expired")
}

func TestVerifyRejectsTampering(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	otherKey, err := New(&Config{
		Clock:      clock,
		SigningKey: bytes.Repeat([]byte{0x13}, 32),
	})
	require.NoError(t, err)
	foreign, err := otherKey.Sign(SignParams{
		Subject:   "user-1",
		SessionID: uuid.NewString(),
		Expires:   clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = key.Verify(VerifyParams{RawToken: foreign})
	require.ErrorContains(t, err, "invalid signature")

	// Splicing another token's payload under a genuine signature fails
	// the same way.
	genuine, err := key.Sign(SignParams{
		Subject:   "user-1",
		SessionID: uuid.NewString(),
		Expires:   clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	genuineParts := strings.Split(genuine, ".")
	foreignParts := strings.Split(foreign, ".")
	spliced := strings.Join([]string{genuineParts[0], foreignParts[1], genuineParts[2]}, ".")
	_, err = key.Verify(VerifyParams{RawToken: spliced})
	require.ErrorContains(t, err, "invalid signature")
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	claims := gojwt.MapClaims{
		"sub": "user-1",
		"jti": uuid.NewString(),
		"iat": clock.Now().Unix(),
		"exp": clock.Now().Add(time.Hour).Unix(),
	}

	// HMAC with a different hash, even under the right key, is not
	// accepted.
	hs384, err := gojwt.NewWithClaims(gojwt.SigningMethodHS384, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	_, err = key.Verify(VerifyParams{RawToken: hs384})
	require.ErrorContains(t, err, "invalid signature")

	none, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = key.Verify(VerifyParams{RawToken: none})
	require.ErrorContains(t, err, "invalid signature")
}

func TestVerifyRejectsMalformed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	for _, token := range []string{
		"",
		"garbage",
		"only.two",
		"!!!.###.$$$",
	} {
		_, err := key.Verify(VerifyParams{RawToken: token})
		require.True(t, trace.IsAccessDenied(err), "token %q: expected AccessDenied, got %v", token, err)
		require.ErrorContains(t, err, "invalid token format")
	}
}

func TestVerifyRequiresClaims(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	base := gojwt.MapClaims{
		"sub": "user-1",
		"jti": uuid.NewString(),
		"iat": clock.Now().Unix(),
		"exp": clock.Now().Add(time.Hour).Unix(),
	}
	for _, missing := range []string{"sub", "jti", "iat", "exp"} {
		claims := gojwt.MapClaims{}
		for k, v := range base {
			if k != missing {
				claims[k] = v
			}
		}
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(testSigningKey)
		require.NoError(t, err)
		_, err = key.Verify(VerifyParams{RawToken: token})
		require.ErrorContains(t, err, "invalid token format", "claim %q missing", missing)
	}
}

func TestVerifyRejectsFutureIssueTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	key := newTestKey(t, clock)

	sign := func(iat time.Time) string {
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
			"sub": "user-1",
			"jti": uuid.NewString(),
			"iat": iat.Unix(),
			"exp": iat.Add(time.Hour).Unix(),
		}).SignedString(testSigningKey)
		require.NoError(t, err)
		return token
	}

	// Ordinary clock skew within the drift tolerance is accepted.
	_, err := key.Verify(VerifyParams{RawToken: sign(clock.Now().Add(defaults.TimestampDriftTolerance - time.Minute))})
	require.NoError(t, err)

	_, err = key.Verify(VerifyParams{RawToken: sign(clock.Now().Add(defaults.TimestampDriftTolerance + time.Minute))})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "token issued in the future")
}

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

// Package jwt is used to mint and verify the short-lived bearer tokens
// issued after a successful passkey ceremony. Tokens are HMAC-SHA256
// signed compact JWTs; revocation is layered above in lib/auth, which
// owns the session store.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/authgate/lib/defaults"
)

// Config defines the clock and key material used to sign and verify
// tokens.
type Config struct {
	// Clock is used to control time.
	Clock clockwork.Clock

	// SigningKey is the symmetric HMAC-SHA256 key. Both minting and
	// verification use the same key, so it never leaves this service.
	SigningKey []byte

	// DriftTolerance bounds how far in the future a token's issue time
	// may lie before verification rejects it.
	DriftTolerance time.Duration
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.SigningKey) == 0 {
		return trace.BadParameter("missing parameter SigningKey")
	}
	if len(c.SigningKey) < defaults.SigningKeyLength {
		return trace.BadParameter("signing key must be at least %v bytes", defaults.SigningKeyLength)
	}
	if c.DriftTolerance < 0 {
		return trace.BadParameter("drift tolerance cannot be negative")
	}
	if c.DriftTolerance == 0 {
		c.DriftTolerance = defaults.TimestampDriftTolerance
	}
	return nil
}

// Key issues and verifies tokens with a single symmetric key.
type Key struct {
	config *Config
	parser *jwt.Parser
}

// New creates a JWT key that can sign and verify tokens.
func New(config *Config) (*Key, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(config.Clock.Now),
		jwt.WithExpirationRequired(),
	)
	return &Key{config: config, parser: parser}, nil
}

// Claims represents the claims minted into an issued token.
type Claims struct {
	jwt.RegisteredClaims

	// DisplayName is the subject's human-friendly name.
	DisplayName string `json:"displayName,omitempty"`

	// Email is the subject's email address.
	Email string `json:"email,omitempty"`

	// Roles are the role names held by the subject at issue time. The
	// list is advisory surface data: authorization decisions always read
	// the current assignments.
	Roles []string `json:"roles,omitempty"`
}

// SessionID returns the session the token is bound to. Revoking that
// session invalidates the token for the rest of its lifetime.
func (c *Claims) SessionID() string {
	return c.ID
}

// SignParams are the claims to be embedded within the JWT.
type SignParams struct {
	// Subject is the user ID the token is issued to.
	Subject string

	// DisplayName is the subject's human-friendly name.
	DisplayName string

	// Email is the subject's email address.
	Email string

	// Roles are the role names held by the subject at issue time.
	Roles []string

	// SessionID becomes the token's jti claim and must match the
	// session row minted for the login.
	SessionID string

	// Expires is the absolute expiration time.
	Expires time.Time
}

// Check verifies all the values are valid.
func (p *SignParams) Check() error {
	if p.Subject == "" {
		return trace.BadParameter("missing parameter Subject")
	}
	if p.SessionID == "" {
		return trace.BadParameter("missing parameter SessionID")
	}
	if p.Expires.IsZero() {
		return trace.BadParameter("missing parameter Expires")
	}
	return nil
}

// Sign returns a signed compact token carrying p.
func (k *Key) Sign(p SignParams) (string, error) {
	if err := p.Check(); err != nil {
		return "", trace.Wrap(err)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			ID:        p.SessionID,
			IssuedAt:  jwt.NewNumericDate(k.config.Clock.Now()),
			ExpiresAt: jwt.NewNumericDate(p.Expires),
		},
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Roles:       p.Roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.config.SigningKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return token, nil
}

// VerifyParams are the expected values for a JWT.
type VerifyParams struct {
	// RawToken is the compact token to verify.
	RawToken string
}

// Verify checks the token's structure, signature and validity window, in
// that order, and returns its claims. Failures come back as AccessDenied
// with one of a small set of reasons so that callers never leak more
// than necessary.
func (k *Key) Verify(p VerifyParams) (*Claims, error) {
	if p.RawToken == "" {
		return nil, trace.AccessDenied("invalid token format")
	}
	var claims Claims
	_, err := k.parser.ParseWithClaims(p.RawToken, &claims, func(token *jwt.Token) (any, error) {
		return k.config.SigningKey, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// Also covers tokens signed with an unexpected algorithm.
		return nil, trace.AccessDenied("invalid signature")
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, trace.AccessDenied("token expired")
	default:
		return nil, trace.AccessDenied("invalid token format")
	}
	if claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, trace.AccessDenied("invalid token format")
	}
	// The library only checks expiry; issue times too far ahead of this
	// server's clock are rejected here, with a bounded tolerance for
	// ordinary skew.
	if claims.IssuedAt.After(k.config.Clock.Now().Add(k.config.DriftTolerance)) {
		return nil, trace.AccessDenied("token issued in the future")
	}
	return &claims, nil
}

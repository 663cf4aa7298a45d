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
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/jwt"
)

const (
	resultOK      = "ok"
	resultDenied  = "denied"
	resultRevoked = "revoked"
)

// Identity is the validated principal behind a bearer token.
type Identity struct {
	// UserID is the authenticated user's ID.
	UserID string
	// DisplayName is the user's human-friendly name at issue time.
	DisplayName string
	// Email is the user's email address at issue time.
	Email string
	// Roles are the role names held at issue time. They are advisory:
	// authorization decisions read the current assignments.
	Roles []string
	// SessionID is the session the token is bound to.
	SessionID string
	// Expires is when the token stops validating.
	Expires time.Time
}

type validateSessionOptions struct {
	skipRevocationCheck bool
}

// ValidateSessionOption customizes ValidateSession.
type ValidateSessionOption func(*validateSessionOptions)

// WithoutRevocationCheck validates the token on signature and lifetime
// alone, without consulting the session store. Revoked tokens still pass;
// callers accept that trade for not touching the database.
func WithoutRevocationCheck() ValidateSessionOption {
	return func(o *validateSessionOptions) {
		o.skipRevocationCheck = true
	}
}

// ValidateSession checks a bearer token and returns the identity behind
// it. The token must carry a valid signature and lifetime, its session
// must not be revoked, and the user behind it must still exist and be
// active. Denials come back as AccessDenied with a reason from a small
// fixed set.
func (s *Server) ValidateSession(ctx context.Context, rawToken string, opts ...ValidateSessionOption) (*Identity, error) {
	var options validateSessionOptions
	for _, opt := range opts {
		opt(&options)
	}

	claims, err := s.cfg.Tokens.Verify(jwt.VerifyParams{RawToken: rawToken})
	if err != nil {
		tokensVerified.WithLabelValues(resultDenied).Inc()
		return nil, trace.Wrap(err)
	}

	if !options.skipRevocationCheck {
		session, err := s.GetSession(ctx, claims.SessionID())
		switch {
		case trace.IsNotFound(err):
			// No session row, nothing to be revoked. The token's own
			// lifetime was already checked above.
		case err != nil:
			return nil, trace.Wrap(err)
		case session.Revoked:
			tokensVerified.WithLabelValues(resultRevoked).Inc()
			return nil, trace.AccessDenied("token revoked")
		case session.Expired(s.clock.Now()):
			tokensVerified.WithLabelValues(resultDenied).Inc()
			return nil, trace.AccessDenied("token expired")
		default:
			// Best effort: the token stays valid if the touch fails.
			if err := s.TouchSessionActivity(ctx, session.ID, s.clock.Now().UTC()); err != nil && !trace.IsNotFound(err) {
				log.WarnContext(ctx, "Failed to record session activity.", "session", session.ID, "error", err)
			}
		}
	}

	// Disabling a user invalidates every outstanding token immediately,
	// whether or not the revocation check ran.
	user, err := s.GetUser(ctx, claims.Subject)
	switch {
	case trace.IsNotFound(err):
		tokensVerified.WithLabelValues(resultDenied).Inc()
		return nil, trace.AccessDenied("user is disabled")
	case err != nil:
		return nil, trace.Wrap(err)
	case !user.Active:
		tokensVerified.WithLabelValues(resultDenied).Inc()
		return nil, trace.AccessDenied("user is disabled")
	}

	tokensVerified.WithLabelValues(resultOK).Inc()
	return &Identity{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		Roles:       claims.Roles,
		SessionID:   claims.SessionID(),
		Expires:     claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Logout revokes the session, invalidating its token for the rest of the
// token's lifetime. Logging out an already revoked or swept session
// succeeds.
func (s *Server) Logout(ctx context.Context, sessionID string) error {
	err := s.RevokeSession(ctx, sessionID)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	log.InfoContext(ctx, "Session revoked.", "session", sessionID)
	return nil
}

// ParseBearerToken extracts the compact token from an Authorization
// header value. Anything other than a well-formed "Bearer <token>"
// header comes back as NotFound so that callers treat malformed and
// missing headers alike.
func ParseBearerToken(header string) (string, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" || strings.Contains(token, " ") {
		return "", trace.NotFound("no bearer token")
	}
	return token, nil
}

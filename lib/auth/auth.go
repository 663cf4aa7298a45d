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

// Package auth implements the authentication server: it orchestrates the
// WebAuthn ceremonies, mints and validates the bearer tokens issued after
// a successful ceremony, and owns the session store that makes those
// tokens revocable.
//
// The ceremony flows in lib/auth/webauthn verify but never write; this
// package commits their outcomes atomically through the storage
// composites, so a challenge can only ever be consumed once and a login
// either fully lands (counter update, session row, login timestamp) or
// not at all.
package auth

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/jwt"
	"github.com/gravitational/authgate/lib/storage"
	"github.com/gravitational/authgate/lib/types"
	"github.com/gravitational/authgate/lib/utils"
	logutils "github.com/gravitational/authgate/lib/utils/log"

	"github.com/google/uuid"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentAuth)

const (
	ceremonyRegistration = "registration"
	ceremonyLogin        = "login"
)

var (
	ceremoniesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricCeremoniesStarted,
			Help: "Number of WebAuthn ceremonies that issued a challenge",
		},
		[]string{authgate.TagCeremony},
	)
	ceremoniesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricCeremoniesCompleted,
			Help: "Number of WebAuthn ceremonies that finished successfully",
		},
		[]string{authgate.TagCeremony},
	)
	ceremoniesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricCeremoniesFailed,
			Help: "Number of WebAuthn ceremonies rejected during verification",
		},
		[]string{authgate.TagCeremony},
	)
	tokensVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricTokensVerified,
			Help: "Number of bearer token validations by result",
		},
		[]string{authgate.TagResult},
	)
	expiredRecordsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricExpiredRecordsSwept,
			Help: "Number of expired records removed by the periodic sweeper",
		},
		[]string{authgate.TagRecord},
	)

	prometheusCollectors = []prometheus.Collector{
		ceremoniesStarted, ceremoniesCompleted, ceremoniesFailed,
		tokensVerified, expiredRecordsSwept,
	}
)

// Config holds the dependencies of the authentication server.
type Config struct {
	// Storage persists users, credentials, challenges and sessions.
	Storage *storage.Storage

	// Tokens signs and verifies the issued bearer tokens.
	Tokens *jwt.Key

	// Webauthn configures the relying party for passkey ceremonies.
	Webauthn *webauthn.Config

	// SessionTTL is the lifetime of sessions and of the tokens bound to
	// them.
	SessionTTL time.Duration

	// SweepInterval is how often expired challenges and sessions are
	// removed.
	SweepInterval time.Duration

	// Clock is used to control time.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Storage == nil {
		return trace.BadParameter("missing parameter Storage")
	}
	if cfg.Tokens == nil {
		return trace.BadParameter("missing parameter Tokens")
	}
	if cfg.Webauthn == nil {
		return trace.BadParameter("missing parameter Webauthn")
	}
	if err := cfg.Webauthn.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Server is the authentication server. It is safe for concurrent use.
type Server struct {
	// Storage is the persistence layer, embedded so that administrative
	// CRUD promotes straight through the server.
	*storage.Storage

	cfg *Config

	registration *webauthn.RegistrationFlow
	login        *webauthn.LoginFlow

	clock clockwork.Clock
}

// NewServer creates a Server from the supplied config.
func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(prometheusCollectors...); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{
		Storage: cfg.Storage,
		cfg:     cfg,
		registration: &webauthn.RegistrationFlow{
			Config:   cfg.Webauthn,
			Identity: cfg.Storage,
			Clock:    cfg.Clock,
		},
		login: &webauthn.LoginFlow{
			Config:   cfg.Webauthn,
			Identity: cfg.Storage,
			Clock:    cfg.Clock,
		},
		clock: cfg.Clock,
	}, nil
}

// ClientMeta carries request attribution recorded on the minted session.
type ClientMeta struct {
	// IPAddress is the client's remote address.
	IPAddress string
	// UserAgent is the client's User-Agent header.
	UserAgent string
}

// AuthResult is the outcome of a completed ceremony: the authenticated
// account, the passkey used, the minted session and the signed token
// bound to it.
type AuthResult struct {
	User       *types.User
	Credential *types.Credential
	Session    *types.Session
	Token      string
}

// BeginRegistration starts a passkey registration ceremony for the given
// email, creating the account on first contact. It returns the challenge
// ID and the creation options to relay to the client.
func (s *Server) BeginRegistration(ctx context.Context, email, displayName string) (string, *protocol.CredentialCreation, error) {
	challengeID, cc, err := s.registration.Begin(ctx, email, displayName)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	ceremoniesStarted.WithLabelValues(ceremonyRegistration).Inc()
	return challengeID, cc, nil
}

// FinishRegistration verifies the attestation response and, on success,
// atomically consumes the challenge, stores the new passkey and mints a
// session. Registering a passkey logs the user in.
func (s *Server) FinishRegistration(ctx context.Context, req *webauthn.RegisterResponse, meta *ClientMeta) (*AuthResult, error) {
	user, credential, err := s.registration.Finish(ctx, req)
	if err != nil {
		ceremoniesFailed.WithLabelValues(ceremonyRegistration).Inc()
		return nil, trace.Wrap(err)
	}

	session, token, err := s.mintSession(ctx, user, credential.ID, meta)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.CompleteRegistration(ctx, storage.CompleteRegistrationParams{
		ChallengeID: req.ChallengeID,
		Credential:  credential,
		Session:     session,
	})
	switch {
	case trace.IsNotFound(err):
		// The challenge was consumed by a concurrent completion or swept
		// between verification and commit.
		ceremoniesFailed.WithLabelValues(ceremonyRegistration).Inc()
		return nil, trace.BadParameter("challenge not found")
	case err != nil:
		return nil, trace.Wrap(err)
	}

	ceremoniesCompleted.WithLabelValues(ceremonyRegistration).Inc()
	log.InfoContext(ctx, "Passkey registered.",
		"user", user.ID, "credential", credential.ID, "device_name", credential.DeviceName)
	return &AuthResult{User: user, Credential: credential, Session: session, Token: token}, nil
}

// BeginLogin starts a discoverable login ceremony: no account is named
// and the authenticator answers with any resident passkey scoped to this
// relying party.
func (s *Server) BeginLogin(ctx context.Context) (string, *protocol.CredentialAssertion, error) {
	challengeID, assertion, err := s.login.Begin(ctx)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	ceremoniesStarted.WithLabelValues(ceremonyLogin).Inc()
	return challengeID, assertion, nil
}

// BeginLoginForUser starts a login ceremony scoped to the given account's
// registered passkeys.
func (s *Server) BeginLoginForUser(ctx context.Context, email string) (string, *protocol.CredentialAssertion, error) {
	challengeID, assertion, err := s.login.BeginForUser(ctx, email)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	ceremoniesStarted.WithLabelValues(ceremonyLogin).Inc()
	return challengeID, assertion, nil
}

// FinishLogin verifies the assertion response and, on success, atomically
// consumes the challenge, advances the signature counter and mints a
// session.
func (s *Server) FinishLogin(ctx context.Context, req *webauthn.AssertionResponse, meta *ClientMeta) (*AuthResult, error) {
	result, err := s.login.Finish(ctx, req)
	if err != nil {
		ceremoniesFailed.WithLabelValues(ceremonyLogin).Inc()
		return nil, trace.Wrap(err)
	}

	session, token, err := s.mintSession(ctx, result.User, result.Credential.ID, meta)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.CompleteLogin(ctx, storage.CompleteLoginParams{
		ChallengeID:  req.ChallengeID,
		CredentialID: result.Credential.ID,
		OldSignCount: result.Credential.SignCount,
		NewSignCount: result.NewSignCount,
		Session:      session,
	})
	switch {
	case trace.IsNotFound(err):
		ceremoniesFailed.WithLabelValues(ceremonyLogin).Inc()
		return nil, trace.BadParameter("challenge not found")
	case trace.IsCompareFailed(err):
		// The stored counter moved between verification and commit:
		// another assertion from the same credential landed first. Treat
		// it the same as a counter regression.
		ceremoniesFailed.WithLabelValues(ceremonyLogin).Inc()
		return nil, trace.BadParameter("cloned authenticator suspected")
	case err != nil:
		return nil, trace.Wrap(err)
	}

	ceremoniesCompleted.WithLabelValues(ceremonyLogin).Inc()
	log.InfoContext(ctx, "Passkey login succeeded.",
		"user", result.User.ID, "credential", result.Credential.ID)
	return &AuthResult{
		User:       result.User,
		Credential: result.Credential,
		Session:    session,
		Token:      token,
	}, nil
}

// mintSession builds a session row and the signed token bound to it. The
// session is not persisted here: ceremony completions write it inside the
// same transaction that consumes the challenge.
func (s *Server) mintSession(ctx context.Context, user *types.User, credentialID string, meta *ClientMeta) (*types.Session, string, error) {
	roles, err := s.currentRoleNames(ctx, user.ID)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}

	now := s.clock.Now().UTC()
	session := &types.Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		CredentialID:   credentialID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		LastActivityAt: now,
	}
	if meta != nil {
		session.IPAddress = meta.IPAddress
		session.UserAgent = meta.UserAgent
	}

	token, err := s.cfg.Tokens.Sign(jwt.SignParams{
		Subject:     user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Roles:       roles,
		SessionID:   session.ID,
		Expires:     session.ExpiresAt,
	})
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	return session, token, nil
}

// currentRoleNames returns the names of the user's unexpired role
// assignments, for the advisory roles claim.
func (s *Server) currentRoleNames(ctx context.Context, userID string) ([]string, error) {
	bindings, err := s.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.clock.Now()
	var roles []string
	for _, binding := range bindings {
		if binding.Expired(now) {
			continue
		}
		roles = append(roles, binding.RoleName)
	}
	return roles, nil
}

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

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/authgate/lib/auth"
	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/httplib"
	"github.com/gravitational/authgate/lib/types"
)

// CeremonyOptions is the first half of a WebAuthn ceremony: the
// challenge to name on completion, and the options document for the
// browser credentials API. OptionsJSON is a string holding the nested
// JSON so clients can pass it on verbatim without re-encoding.
type CeremonyOptions struct {
	ChallengeID string `json:"challengeId"`
	OptionsJSON string `json:"optionsJson"`
}

// SessionInfo carries a freshly minted bearer token.
type SessionInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RegisterReply is the response to a completed registration ceremony.
type RegisterReply struct {
	UserID       string      `json:"userId"`
	CredentialID string      `json:"credentialId"`
	Session      SessionInfo `json:"session"`
}

// LoginReply is the response to a completed login ceremony.
type LoginReply struct {
	UserID      string      `json:"userId"`
	DisplayName string      `json:"displayName"`
	Session     SessionInfo `json:"session"`
}

// SessionReply describes the authenticated subject of a bearer token.
type SessionReply struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// CredentialsReply lists a user's registered passkeys.
type CredentialsReply struct {
	Credentials []*types.Credential `json:"credentials"`
}

type registerBeginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type loginBeginRequest struct {
	Email string `json:"email"`
}

type renameCredentialRequest struct {
	DeviceName string `json:"deviceName"`
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
}

func (h *Handler) registerBegin(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req registerBeginRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	challengeID, options, err := h.cfg.AuthServer.BeginRegistration(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return ceremonyOptions(challengeID, options)
}

func (h *Handler) registerComplete(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req webauthn.RegisterResponse
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.AuthServer.FinishRegistration(r.Context(), &req, clientMeta(r))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &RegisterReply{
		UserID:       result.User.ID,
		CredentialID: result.Credential.ID,
		Session:      sessionInfo(result),
	}, nil
}

// loginBegin starts an authentication ceremony. Without a body or an
// email the ceremony is discoverable: the authenticator offers any
// resident passkey for our relying party. With an email it is scoped to
// that account's passkeys and fails when there are none.
func (h *Handler) loginBegin(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req loginBeginRequest
	if r.ContentLength > 0 {
		if err := httplib.ReadJSON(r, &req); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	var challengeID string
	var options any
	var err error
	if req.Email != "" {
		challengeID, options, err = h.cfg.AuthServer.BeginLoginForUser(r.Context(), req.Email)
	} else {
		challengeID, options, err = h.cfg.AuthServer.BeginLogin(r.Context())
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return ceremonyOptions(challengeID, options)
}

func (h *Handler) loginComplete(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req webauthn.AssertionResponse
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.AuthServer.FinishLogin(r.Context(), &req, clientMeta(r))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &LoginReply{
		UserID:      result.User.ID,
		DisplayName: result.User.DisplayName,
		Session:     sessionInfo(result),
	}, nil
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	roles := sctx.Roles
	if roles == nil {
		roles = []string{}
	}
	return &SessionReply{
		UserID:      sctx.UserID,
		DisplayName: sctx.DisplayName,
		Email:       sctx.Email,
		Roles:       roles,
		ExpiresAt:   sctx.Expires,
	}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	if err := h.cfg.AuthServer.Logout(r.Context(), sctx.SessionID); err != nil {
		return nil, trace.Wrap(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

func (h *Handler) getCredentials(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	credentials, err := h.cfg.AuthServer.ListUserCredentials(r.Context(), sctx.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if credentials == nil {
		credentials = []*types.Credential{}
	}
	return &CredentialsReply{Credentials: credentials}, nil
}

func (h *Handler) renameCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req renameCredentialRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.AuthServer.RenameCredential(r.Context(), sctx.UserID, p.ByName("id"), req.DeviceName); err != nil {
		return nil, trace.Wrap(err)
	}
	return ok(), nil
}

func (h *Handler) deleteCredential(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	if err := h.cfg.AuthServer.DeleteCredential(r.Context(), sctx.UserID, p.ByName("id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return ok(), nil
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req updateProfileRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := h.cfg.AuthServer.UpdateProfile(r.Context(), sctx.UserID, req.DisplayName)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

func sessionInfo(result *auth.AuthResult) SessionInfo {
	return SessionInfo{Token: result.Token, ExpiresAt: result.Session.ExpiresAt}
}

// ceremonyOptions flattens the ceremony options into the wire shape.
func ceremonyOptions(challengeID string, options any) (*CeremonyOptions, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &CeremonyOptions{ChallengeID: challengeID, OptionsJSON: string(raw)}, nil
}

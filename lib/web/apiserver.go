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

// Package web implements the HTTP API: passkey ceremonies, session
// introspection and revocation, credential and profile self-service,
// permission decisions, and the administrative surface.
package web

import (
	"net"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/auth"
	"github.com/gravitational/authgate/lib/authz"
	"github.com/gravitational/authgate/lib/httplib"
	logutils "github.com/gravitational/authgate/lib/utils/log"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentWeb)

// Config holds the dependencies of the web handler.
type Config struct {
	// AuthServer runs ceremonies, mints and validates tokens, and owns
	// the store.
	AuthServer *auth.Server

	// Authz decides permission checks.
	Authz *authz.Engine

	// Clock is used for time operations, real time if unset.
	Clock clockwork.Clock
}

// Handler serves the HTTP API.
type Handler struct {
	httprouter.Router

	cfg   Config
	clock clockwork.Clock
}

// NewHandler returns a handler with all routes bound.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.AuthServer == nil {
		return nil, trace.BadParameter("missing parameter AuthServer")
	}
	if cfg.Authz == nil {
		return nil, trace.BadParameter("missing parameter Authz")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	h := &Handler{cfg: cfg, clock: cfg.Clock}

	// Passkey ceremonies. No bearer token: these mint it.
	h.POST("/auth/register/begin", httplib.MakeHandler(h.registerBegin))
	h.POST("/auth/register/complete", httplib.MakeHandler(h.registerComplete))
	h.POST("/auth/login/begin", httplib.MakeHandler(h.loginBegin))
	h.POST("/auth/login/complete", httplib.MakeHandler(h.loginComplete))

	// Session introspection and revocation.
	h.GET("/auth/session", h.WithAuth(h.getSession))
	h.POST("/auth/logout", h.WithAuth(h.logout))

	// Credential and profile self-service.
	h.GET("/auth/credentials", h.WithPermission(authgate.UserCredentialsPermission, h.getCredentials))
	h.PUT("/auth/credentials/:id", h.WithPermission(authgate.UserCredentialsPermission, h.renameCredential))
	h.DELETE("/auth/credentials/:id", h.WithPermission(authgate.UserCredentialsPermission, h.deleteCredential))
	h.PUT("/auth/profile", h.WithPermission(authgate.UserProfilePermission, h.updateProfile))

	// Permission decisions. Denials are data here, not errors.
	h.GET("/authz/check", h.WithAuth(h.checkPermission))
	h.GET("/authz/permissions", h.WithAuth(h.getPermissions))
	h.POST("/authz/evaluate", h.WithAuth(h.evaluatePermissions))

	// Administration, authorized through the decision engine itself.
	h.GET("/admin/users", h.WithPermission(authgate.AdminUsersPermission, h.adminListUsers))
	h.POST("/admin/users/:user/roles", h.WithPermission(authgate.AdminRolesPermission, h.adminAssignRole))
	h.DELETE("/admin/users/:user/roles/:role", h.WithPermission(authgate.AdminRolesPermission, h.adminUnassignRole))
	h.GET("/admin/roles", h.WithPermission(authgate.AdminRolesPermission, h.adminListRoles))
	h.POST("/admin/roles", h.WithPermission(authgate.AdminRolesPermission, h.adminCreateRole))
	h.POST("/admin/roles/:role/permissions", h.WithPermission(authgate.AdminRolesPermission, h.adminAttachPermission))
	h.GET("/admin/permissions", h.WithPermission(authgate.AdminRolesPermission, h.adminListPermissions))
	h.POST("/admin/permissions", h.WithPermission(authgate.AdminRolesPermission, h.adminCreatePermission))
	h.POST("/admin/grants", h.WithPermission(authgate.AdminGrantsPermission, h.adminGrantPermission))
	h.POST("/admin/resource-grants", h.WithPermission(authgate.AdminGrantsPermission, h.adminCreateResourceGrant))

	// Health.
	h.GET("/healthz", httplib.MakeHandler(h.healthz))
	h.GET("/readyz", httplib.MakeHandler(h.readyz))

	// Serve the versioned form of every route as well, so clients built
	// on a versioned endpoint prefix route to the same handlers:
	// /v1/auth/session is /auth/session.
	const apiPrefix = "/" + authgate.WebAPIVersion
	h.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, apiPrefix+"/") {
			http.StripPrefix(apiPrefix, &h.Router).ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})

	return h, nil
}

// SessionContext is the verified subject of a bearer token, attached to
// a request for the duration of one call.
type SessionContext struct {
	*auth.Identity
}

// ContextHandler is a handler called with the session context of an
// authenticated request.
type ContextHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error)

// WithAuth ensures that a request is authenticated before the handler
// runs.
func (h *Handler) WithAuth(fn ContextHandler) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		sctx, err := h.authenticateRequest(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return fn(w, r, p, sctx)
	})
}

// WithPermission ensures that a request is authenticated and that its
// subject currently holds the given permission. The decision comes from
// the live grant store, never from token claims.
func (h *Handler) WithPermission(permission string, fn ContextHandler) httprouter.Handle {
	return h.WithAuth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
		decision, err := h.cfg.Authz.Check(r.Context(), sctx.UserID, authz.Check{Permission: permission})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !decision.Allowed {
			return nil, trace.AccessDenied("access denied")
		}
		return fn(w, r, p, sctx)
	})
}

func (h *Handler) authenticateRequest(r *http.Request) (*SessionContext, error) {
	token, err := auth.ParseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		// An absent credential is an authentication failure, not a
		// missing resource.
		return nil, trace.AccessDenied("no bearer token")
	}
	identity, err := h.cfg.AuthServer.ValidateSession(r.Context(), token)
	if err != nil {
		log.DebugContext(r.Context(), "Request authentication failed.",
			"path", r.URL.Path, "error", err)
		return nil, trace.Wrap(err)
	}
	return &SessionContext{Identity: identity}, nil
}

func clientMeta(r *http.Request) *auth.ClientMeta {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return &auth.ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

func message(msg string) any {
	return map[string]any{"message": msg}
}

func ok() any {
	return message("ok")
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return ok(), nil
}

// readyz reports whether the process can serve: a handler that cannot
// reach its database answers 503 so load balancers drain it.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if err := h.cfg.AuthServer.Ping(r.Context()); err != nil {
		return nil, trace.Wrap(err)
	}
	return ok(), nil
}

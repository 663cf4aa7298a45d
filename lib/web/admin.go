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
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/authgate/lib/httplib"
	"github.com/gravitational/authgate/lib/storage"
	"github.com/gravitational/authgate/lib/types"
)

type responseData struct {
	Items any `json:"items"`
}

func makeResponse(items any) (any, error) {
	return responseData{Items: items}, nil
}

type assignRoleRequest struct {
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type attachPermissionRequest struct {
	Code string `json:"code"`
}

type createPermissionRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type grantPermissionRequest struct {
	UserID     string           `json:"userId"`
	Code       string           `json:"code"`
	Scope      types.GrantScope `json:"scope,omitempty"`
	ScopeValue string           `json:"scopeValue,omitempty"`
	ExpiresAt  time.Time        `json:"expiresAt,omitzero"`
	Reason     string           `json:"reason,omitempty"`
}

type resourceGrantRequest struct {
	UserID       string    `json:"userId"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

func (h *Handler) adminListUsers(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	users, err := h.cfg.AuthServer.ListUsers(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return makeResponse(users)
}

func (h *Handler) adminAssignRole(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req assignRoleRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Role == "" {
		return nil, trace.BadParameter("missing role name")
	}
	userID := p.ByName("user")
	// Resolve the account first so an unknown user reads as a missing
	// record, not a constraint violation.
	if _, err := h.cfg.AuthServer.GetUser(r.Context(), userID); err != nil {
		return nil, trace.Wrap(err)
	}
	err := h.cfg.AuthServer.GrantUserRole(r.Context(), userID, req.Role, storage.GrantParams{
		GrantedBy: sctx.UserID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Role assigned.",
		"user", userID, "role", req.Role, "assigned_by", sctx.UserID)
	return ok(), nil
}

func (h *Handler) adminUnassignRole(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	userID, role := p.ByName("user"), p.ByName("role")
	if err := h.cfg.AuthServer.RevokeUserRole(r.Context(), userID, role); err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Role unassigned.",
		"user", userID, "role", role, "unassigned_by", sctx.UserID)
	return ok(), nil
}

func (h *Handler) adminListRoles(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	roles, err := h.cfg.AuthServer.ListRoles(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return makeResponse(roles)
}

func (h *Handler) adminCreateRole(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req createRoleRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	role := &types.Role{Name: req.Name, Description: req.Description}
	if err := h.cfg.AuthServer.CreateRole(r.Context(), role); err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Role created.", "role", role.Name, "created_by", sctx.UserID)
	return role, nil
}

func (h *Handler) adminAttachPermission(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req attachPermissionRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Code == "" {
		return nil, trace.BadParameter("missing permission code")
	}
	if err := h.cfg.AuthServer.AttachRolePermission(r.Context(), p.ByName("role"), req.Code); err != nil {
		return nil, trace.Wrap(err)
	}
	return ok(), nil
}

func (h *Handler) adminListPermissions(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	permissions, err := h.cfg.AuthServer.ListPermissions(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return makeResponse(permissions)
}

func (h *Handler) adminCreatePermission(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req createPermissionRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	permission, err := types.NewPermission(req.Code, req.Description)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.AuthServer.CreatePermission(r.Context(), permission); err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Permission registered.",
		"code", permission.Code, "created_by", sctx.UserID)
	return permission, nil
}

func (h *Handler) adminGrantPermission(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req grantPermissionRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.UserID == "" {
		return nil, trace.BadParameter("missing user id")
	}
	if req.Code == "" {
		return nil, trace.BadParameter("missing permission code")
	}
	if _, err := h.cfg.AuthServer.GetUser(r.Context(), req.UserID); err != nil {
		return nil, trace.Wrap(err)
	}
	err := h.cfg.AuthServer.GrantUserPermission(r.Context(), req.UserID, req.Code, storage.PermissionGrantParams{
		Scope:      req.Scope,
		ScopeValue: req.ScopeValue,
		GrantedBy:  sctx.UserID,
		ExpiresAt:  req.ExpiresAt,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Permission granted.",
		"user", req.UserID, "code", req.Code, "granted_by", sctx.UserID)
	return ok(), nil
}

func (h *Handler) adminCreateResourceGrant(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req resourceGrantRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.UserID == "" || req.ResourceType == "" || req.ResourceID == "" || req.Code == "" {
		return nil, trace.BadParameter("missing resource grant parameters")
	}
	if _, err := h.cfg.AuthServer.GetUser(r.Context(), req.UserID); err != nil {
		return nil, trace.Wrap(err)
	}
	grant := &types.ResourceGrant{
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Code:         req.Code,
		GrantedBy:    sctx.UserID,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := h.cfg.AuthServer.CreateResourceGrant(r.Context(), grant); err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(r.Context(), "Resource grant created.",
		"user", req.UserID, "resource", req.ResourceType+"/"+req.ResourceID,
		"code", req.Code, "granted_by", sctx.UserID)
	return grant, nil
}

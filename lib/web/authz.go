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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/authgate/lib/authz"
	"github.com/gravitational/authgate/lib/httplib"
)

// PermissionsReply is a user's resolved permission set.
type PermissionsReply struct {
	Permissions []authz.EffectivePermission `json:"permissions"`
}

// EvaluationResult pairs one submitted check with its verdict.
type EvaluationResult struct {
	Permission   string `json:"permission"`
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	Allowed      bool   `json:"allowed"`
}

// EvaluateReply answers a bulk permission evaluation, in submission
// order.
type EvaluateReply struct {
	Results []EvaluationResult `json:"results"`
}

type evaluateRequest struct {
	Checks []authz.Check `json:"checks"`
}

// checkPermission answers a single permission check from the query
// string. A denial is a 200 with allowed=false: the check itself
// succeeded.
func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	query := r.URL.Query()
	permission := query.Get("permission")
	if permission == "" {
		return nil, trace.BadParameter("missing permission query parameter")
	}
	decision, err := h.cfg.Authz.Check(r.Context(), sctx.UserID, authz.Check{
		Permission:   permission,
		ResourceType: query.Get("resourceType"),
		ResourceID:   query.Get("resourceId"),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return decision, nil
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	permissions, err := h.cfg.Authz.EffectivePermissions(r.Context(), sctx.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &PermissionsReply{Permissions: permissions}, nil
}

func (h *Handler) evaluatePermissions(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (any, error) {
	var req evaluateRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	decisions, err := h.cfg.Authz.Evaluate(r.Context(), sctx.UserID, req.Checks)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	results := make([]EvaluationResult, 0, len(decisions))
	for i, decision := range decisions {
		check := req.Checks[i]
		results = append(results, EvaluationResult{
			Permission:   check.Permission,
			ResourceType: check.ResourceType,
			ResourceID:   check.ResourceID,
			Allowed:      decision.Allowed,
		})
	}
	return &EvaluateReply{Results: results}, nil
}

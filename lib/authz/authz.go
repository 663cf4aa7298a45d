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

// Package authz implements the authorization decision engine.
//
// Decisions combine three kinds of authority, evaluated in a fixed
// order: per-resource grants, direct user grants, and role-held
// permissions, with a trailing-wildcard match on permission codes.
// Every decision reads the current grant store; the role list minted
// into a token is advisory surface data and plays no part here.
package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/types"
	"github.com/gravitational/authgate/lib/utils"
	logutils "github.com/gravitational/authgate/lib/utils/log"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentAuthz)

var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: authgate.MetricAuthzDecisions,
			Help: "Number of authorization decisions by result",
		},
		[]string{authgate.TagResult},
	)

	prometheusCollectors = []prometheus.Collector{authzDecisions}
)

const (
	decisionAllow = "allow"
	decisionDeny  = "deny"
)

// DenyReason is the single reason attached to every denial. Decisions
// never reveal which part of the grant store almost matched.
const DenyReason = "no matching permission"

const (
	// SourceDirectGrant tags effective permissions held through a direct
	// user grant.
	SourceDirectGrant = "direct-grant"
	// SourceResourceGrant tags effective permissions held through a
	// per-resource grant.
	SourceResourceGrant = "resource-grant"

	sourceRolePrefix = "role:"
)

// Matches reports whether a stored permission code satisfies a requested
// one. Codes are colon-separated segments; a stored code ending in ":*"
// matches its own prefix and everything nested beneath it, so "admin:*"
// matches "admin", "admin:users" and "admin:users:create", but never
// "administrator". A wildcard anywhere else matches nothing.
func Matches(stored, requested string) bool {
	if stored == requested {
		return true
	}
	prefix, ok := strings.CutSuffix(stored, ":*")
	if !ok {
		return false
	}
	return requested == prefix || strings.HasPrefix(requested, prefix+":")
}

// AccessPoint is the subset of the grant store the engine reads.
type AccessPoint interface {
	ListUserRoles(ctx context.Context, userID string) ([]types.RoleBinding, error)
	ListRolePermissions(ctx context.Context, roleNames []string) ([]types.RolePermissionBinding, error)
	ListUserPermissions(ctx context.Context, userID string) ([]types.PermissionBinding, error)
	ListUserResourceGrants(ctx context.Context, userID string) ([]*types.ResourceGrant, error)
	GetResourceGrant(ctx context.Context, userID, resourceType, resourceID, code string) (*types.ResourceGrant, error)
}

// Config holds the dependencies of the decision engine.
type Config struct {
	// AccessPoint reads the grant store.
	AccessPoint AccessPoint

	// Clock is used to filter expired grants.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.AccessPoint == nil {
		return trace.BadParameter("missing parameter AccessPoint")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine answers permission checks. It is stateless and safe for
// concurrent use.
type Engine struct {
	cfg   *Config
	clock clockwork.Clock
}

// NewEngine creates an Engine from the supplied config.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(prometheusCollectors...); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg, clock: cfg.Clock}, nil
}

// Check is a single permission question.
type Check struct {
	// Permission is the required permission code.
	Permission string `json:"permission"`
	// ResourceType and ResourceID optionally name a concrete resource
	// instance, unlocking per-resource grants.
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
}

// Decision is the outcome of a permission check.
type Decision struct {
	// Allowed reports whether the permission is held.
	Allowed bool `json:"allowed"`
	// Reason names the authority behind an allow, or DenyReason.
	Reason string `json:"reason"`
}

// Check answers a single permission question for the user. Denials are
// decisions, not errors; the error return is reserved for malformed
// checks and grant store failures.
func (e *Engine) Check(ctx context.Context, userID string, check Check) (*Decision, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}
	if check.Permission == "" {
		return nil, trace.BadParameter("missing parameter permission")
	}

	decision, err := e.check(ctx, userID, check)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := decisionDeny
	if decision.Allowed {
		result = decisionAllow
	}
	authzDecisions.WithLabelValues(result).Inc()
	log.DebugContext(ctx, "Authorization decision.",
		"user", userID, "permission", check.Permission, "allowed", decision.Allowed, "reason", decision.Reason)
	return decision, nil
}

// check runs the ordered evaluation: resource grants, then direct
// grants, then role permissions. First match wins.
func (e *Engine) check(ctx context.Context, userID string, check Check) (*Decision, error) {
	now := e.clock.Now()

	if check.ResourceType != "" && check.ResourceID != "" {
		grant, err := e.cfg.AccessPoint.GetResourceGrant(ctx, userID, check.ResourceType, check.ResourceID, check.Permission)
		switch {
		case trace.IsNotFound(err):
		case err != nil:
			return nil, trace.Wrap(err)
		case !grant.Expired(now):
			return &Decision{
				Allowed: true,
				Reason:  fmt.Sprintf("resource-grant for %v/%v", check.ResourceType, check.ResourceID),
			}, nil
		}
	}

	grants, err := e.cfg.AccessPoint.ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, grant := range grants {
		if grant.Expired(now) || !Matches(grant.Code, check.Permission) {
			continue
		}
		switch grant.Scope {
		case types.GrantScopeAll:
		case types.GrantScopeRecord:
			if check.ResourceID == "" || grant.ScopeValue != check.ResourceID {
				continue
			}
		default:
			// Query-scoped grants are evaluated by the systems that own
			// the data, never here.
			continue
		}
		return &Decision{Allowed: true, Reason: "direct grant: " + grant.Code}, nil
	}

	roles, err := e.currentRoleNames(ctx, userID, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	bindings, err := e.cfg.AccessPoint.ListRolePermissions(ctx, roles)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, binding := range bindings {
		if Matches(binding.Code, check.Permission) {
			return &Decision{
				Allowed: true,
				Reason:  fmt.Sprintf("role:%v grants %v", binding.RoleName, binding.Code),
			}, nil
		}
	}

	return &Decision{Allowed: false, Reason: DenyReason}, nil
}

// Evaluate answers a list of checks independently, preserving order. An
// empty list yields an empty result.
func (e *Engine) Evaluate(ctx context.Context, userID string, checks []Check) ([]Decision, error) {
	decisions := make([]Decision, 0, len(checks))
	for _, check := range checks {
		decision, err := e.Check(ctx, userID, check)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		decisions = append(decisions, *decision)
	}
	return decisions, nil
}

// EffectivePermission is one entry of a user's resolved permission set.
type EffectivePermission struct {
	// Code is the held permission code.
	Code string `json:"code"`
	// Source names the authority: "role:<name>", "direct-grant" or
	// "resource-grant".
	Source string `json:"source"`
	// Scope bounds what the entry applies to.
	Scope types.GrantScope `json:"scope"`
	// ScopeValue names the record or query the scope refers to; for
	// resource grants it is "<type>/<id>".
	ScopeValue string `json:"scopeValue,omitempty"`
}

// EffectivePermissions resolves the user's full permission set: role
// permissions, direct grants and resource grants, expired authority
// omitted. Entries identical in code, source, scope and scope value are
// deduplicated.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]EffectivePermission, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}
	now := e.clock.Now()

	out := make([]EffectivePermission, 0)
	seen := make(map[EffectivePermission]struct{})
	add := func(p EffectivePermission) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	roles, err := e.currentRoleNames(ctx, userID, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	bindings, err := e.cfg.AccessPoint.ListRolePermissions(ctx, roles)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, binding := range bindings {
		add(EffectivePermission{
			Code:   binding.Code,
			Source: sourceRolePrefix + binding.RoleName,
			Scope:  types.GrantScopeAll,
		})
	}

	grants, err := e.cfg.AccessPoint.ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, grant := range grants {
		if grant.Expired(now) {
			continue
		}
		add(EffectivePermission{
			Code:       grant.Code,
			Source:     SourceDirectGrant,
			Scope:      grant.Scope,
			ScopeValue: grant.ScopeValue,
		})
	}

	resourceGrants, err := e.cfg.AccessPoint.ListUserResourceGrants(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, grant := range resourceGrants {
		if grant.Expired(now) {
			continue
		}
		add(EffectivePermission{
			Code:       grant.Code,
			Source:     SourceResourceGrant,
			Scope:      types.GrantScopeRecord,
			ScopeValue: grant.ResourceType + "/" + grant.ResourceID,
		})
	}
	return out, nil
}

// currentRoleNames returns the user's unexpired role assignments as of
// now.
func (e *Engine) currentRoleNames(ctx context.Context, userID string, now time.Time) ([]string, error) {
	bindings, err := e.cfg.AccessPoint.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var names []string
	for _, binding := range bindings {
		if binding.Expired(now) {
			continue
		}
		names = append(names, binding.RoleName)
	}
	return names, nil
}

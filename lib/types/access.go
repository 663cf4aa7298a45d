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

package types

import (
	"regexp"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Role is a named bundle of permissions.
type Role struct {
	// ID is an opaque version-4 UUID.
	ID string `json:"id"`
	// Name is the unique role name, e.g. "admin".
	Name string `json:"name"`
	// Description explains what the role is for.
	Description string `json:"description,omitempty"`
	// System marks built-in roles that cannot be deleted.
	System bool `json:"system"`
	// CreatedAt is when the role was created.
	CreatedAt time.Time `json:"createdAt"`
	// ParentRoleID optionally points at a parent role. The decision
	// engine does not traverse the hierarchy; the field is carried for
	// administrative tooling.
	ParentRoleID string `json:"parentRoleId,omitempty"`
}

// Permission is a named capability identified by a colon-separated code,
// e.g. "user:profile" or "admin:*".
type Permission struct {
	// ID is an opaque version-4 UUID.
	ID string `json:"id"`
	// Code is the unique permission code.
	Code string `json:"code"`
	// ResourceType is the first segment of the code, denormalized for
	// queries.
	ResourceType string `json:"resourceType"`
	// Action is the remainder of the code after the first segment.
	Action string `json:"action"`
	// Description explains what the permission allows.
	Description string `json:"description,omitempty"`
	// CreatedAt is when the permission was created.
	CreatedAt time.Time `json:"createdAt"`
}

// NewPermission builds a Permission from its code, validating and
// splitting it into the denormalized resource type and action parts.
func NewPermission(code, description string) (*Permission, error) {
	if err := ValidatePermissionCode(code); err != nil {
		return nil, trace.Wrap(err)
	}
	resource, action, _ := strings.Cut(code, ":")
	return &Permission{
		Code:         code,
		ResourceType: resource,
		Action:       action,
		Description:  description,
	}, nil
}

// permissionSegment matches a single non-wildcard segment of a permission
// code.
var permissionSegment = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidatePermissionCode checks that a stored permission code has the
// form <resource>:<action> with optional deeper nesting. The wildcard "*"
// is only valid as the final segment; a standalone "*" is not a valid
// code.
func ValidatePermissionCode(code string) error {
	segments := strings.Split(code, ":")
	if len(segments) < 2 {
		return trace.BadParameter("permission code %q must have the form <resource>:<action>", code)
	}
	for i, segment := range segments {
		if segment == "*" {
			if i != len(segments)-1 {
				return trace.BadParameter("permission code %q: wildcard is only valid as the final segment", code)
			}
			continue
		}
		if !permissionSegment.MatchString(segment) {
			return trace.BadParameter("permission code %q contains invalid segment %q", code, segment)
		}
	}
	return nil
}

// GrantScope bounds what a direct permission grant applies to.
type GrantScope string

const (
	// GrantScopeAll applies the grant to every resource.
	GrantScopeAll GrantScope = "all"
	// GrantScopeRecord restricts the grant to a single resource record
	// named by the grant's scope value.
	GrantScopeRecord GrantScope = "record"
	// GrantScopeQuery restricts the grant by a stored query expression.
	// The decision engine treats query-scoped grants as never matching;
	// evaluation happens in the systems that own the data.
	GrantScopeQuery GrantScope = "query"
)

// Check validates the grant scope.
func (s GrantScope) Check() error {
	switch s {
	case GrantScopeAll, GrantScopeRecord, GrantScopeQuery:
		return nil
	}
	return trace.BadParameter("grant scope %q is not supported", s)
}

// RoleBinding is a user's assignment to a role, joined with the role
// name.
type RoleBinding struct {
	// RoleName is the assigned role's name.
	RoleName string `json:"role"`
	// GrantedAt is when the role was assigned.
	GrantedAt time.Time `json:"grantedAt"`
	// GrantedBy is the user ID of the administrator who assigned the
	// role, when recorded.
	GrantedBy string `json:"grantedBy,omitempty"`
	// ExpiresAt bounds the assignment in time. Zero means it never
	// expires.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the assignment is inert at the given time.
func (b RoleBinding) Expired(now time.Time) bool {
	return expired(b.ExpiresAt, now)
}

// RolePermissionBinding is a permission attached to a role, joined with
// both names.
type RolePermissionBinding struct {
	// RoleName is the role holding the permission.
	RoleName string `json:"role"`
	// Code is the held permission's code.
	Code string `json:"code"`
}

// PermissionBinding is a permission granted directly to a user, joined
// with the permission code.
type PermissionBinding struct {
	// Code is the granted permission's code.
	Code string `json:"code"`
	// Scope bounds what the grant applies to.
	Scope GrantScope `json:"scope"`
	// ScopeValue names the record or query the scope refers to.
	ScopeValue string `json:"scopeValue,omitempty"`
	// GrantedAt is when the grant was made.
	GrantedAt time.Time `json:"grantedAt"`
	// GrantedBy is the user ID of the granting administrator, when
	// recorded.
	GrantedBy string `json:"grantedBy,omitempty"`
	// ExpiresAt bounds the grant in time. Zero means it never expires.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	// Reason records why the grant was made.
	Reason string `json:"reason,omitempty"`
}

// Expired reports whether the grant is inert at the given time.
func (b PermissionBinding) Expired(now time.Time) bool {
	return expired(b.ExpiresAt, now)
}

// ResourceGrant allows one user one permission on one concrete resource
// instance, e.g. permission "document:read" on document 42.
type ResourceGrant struct {
	// ID is an opaque version-4 UUID.
	ID string `json:"id"`
	// UserID is the grantee.
	UserID string `json:"userId"`
	// ResourceType names the kind of resource, e.g. "document".
	ResourceType string `json:"resourceType"`
	// ResourceID names the concrete resource instance.
	ResourceID string `json:"resourceId"`
	// PermissionID is the granted permission.
	PermissionID string `json:"permissionId"`
	// Code is the granted permission's code, joined on reads.
	Code string `json:"code,omitempty"`
	// GrantedAt is when the grant was made.
	GrantedAt time.Time `json:"grantedAt"`
	// GrantedBy is the user ID of the granting administrator, when
	// recorded.
	GrantedBy string `json:"grantedBy,omitempty"`
	// ExpiresAt bounds the grant in time. Zero means it never expires.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the grant is inert at the given time.
func (g *ResourceGrant) Expired(now time.Time) bool {
	return expired(g.ExpiresAt, now)
}

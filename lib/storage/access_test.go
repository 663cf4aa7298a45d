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

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate/lib/types"
)

func createTestPermission(t *testing.T, s *Storage, code string) *types.Permission {
	t.Helper()
	permission, err := types.NewPermission(code, "")
	require.NoError(t, err)
	require.NoError(t, s.CreatePermission(context.Background(), permission))
	return permission
}

func TestRoleCRUD(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, testClock(t))

	require.NoError(t, s.CreateRole(ctx, &types.Role{Name: "admin", System: true}))
	require.NoError(t, s.CreateRole(ctx, &types.Role{Name: "viewer", Description: "read only"}))

	err := s.CreateRole(ctx, &types.Role{Name: "viewer"})
	require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

	role, err := s.GetRoleByName(ctx, "viewer")
	require.NoError(t, err)
	require.Equal(t, "read only", role.Description)
	require.False(t, role.System)

	_, err = s.GetRoleByName(ctx, "missing")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)
	require.Equal(t, "viewer", roles[1].Name)

	// Built-in roles cannot be deleted, custom ones can.
	err = s.DeleteRole(ctx, "admin")
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.NoError(t, s.DeleteRole(ctx, "viewer"))
	err = s.DeleteRole(ctx, "viewer")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}

func TestPermissionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, testClock(t))

	err := s.CreatePermission(ctx, &types.Permission{Code: "*"})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	createTestPermission(t, s, "document:read")
	createTestPermission(t, s, "admin:*")

	err = s.CreatePermission(ctx, &types.Permission{Code: "document:read", ResourceType: "document", Action: "read"})
	require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

	permission, err := s.GetPermissionByCode(ctx, "document:read")
	require.NoError(t, err)
	require.Equal(t, "document", permission.ResourceType)
	require.Equal(t, "read", permission.Action)

	_, err = s.GetPermissionByCode(ctx, "document:write")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	permissions, err := s.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, permissions, 2)
	require.Equal(t, "admin:*", permissions[0].Code)
	require.Equal(t, "document:read", permissions[1].Code)
}

func TestRolePermissions(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, testClock(t))

	require.NoError(t, s.CreateRole(ctx, &types.Role{Name: "editor"}))
	require.NoError(t, s.CreateRole(ctx, &types.Role{Name: "viewer"}))
	createTestPermission(t, s, "document:read")
	createTestPermission(t, s, "document:write")

	err := s.AttachRolePermission(ctx, "missing", "document:read")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
	err = s.AttachRolePermission(ctx, "editor", "document:delete")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	require.NoError(t, s.AttachRolePermission(ctx, "editor", "document:write"))
	require.NoError(t, s.AttachRolePermission(ctx, "editor", "document:read"))
	require.NoError(t, s.AttachRolePermission(ctx, "viewer", "document:read"))

	err = s.AttachRolePermission(ctx, "editor", "document:read")
	require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

	bindings, err := s.ListRolePermissions(ctx, []string{"editor", "viewer"})
	require.NoError(t, err)
	require.Equal(t, []types.RolePermissionBinding{
		{RoleName: "editor", Code: "document:read"},
		{RoleName: "editor", Code: "document:write"},
		{RoleName: "viewer", Code: "document:read"},
	}, bindings)

	bindings, err = s.ListRolePermissions(ctx, []string{"viewer"})
	require.NoError(t, err)
	require.Equal(t, []types.RolePermissionBinding{
		{RoleName: "viewer", Code: "document:read"},
	}, bindings)

	bindings, err = s.ListRolePermissions(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, bindings)
}

func TestUserRoleGrants(t *testing.T) {
	ctx := context.Background()
	clock := testClock(t)
	s := newStorage(t, clock)

	admin := createTestUser(t, s, "admin@example.com")
	user := createTestUser(t, s, "alice@example.com")
	require.NoError(t, s.CreateRole(ctx, &types.Role{Name: "editor"}))

	err := s.GrantUserRole(ctx, user.ID, "missing", GrantParams{})
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	expires := clock.Now().UTC().Add(time.Hour)
	require.NoError(t, s.GrantUserRole(ctx, user.ID, "editor", GrantParams{
		GrantedBy: admin.ID,
		ExpiresAt: expires,
	}))
	err = s.GrantUserRole(ctx, user.ID, "editor", GrantParams{})
	require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

	bindings, err := s.ListUserRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, "editor", bindings[0].RoleName)
	require.Equal(t, admin.ID, bindings[0].GrantedBy)
	require.Equal(t, expires, bindings[0].ExpiresAt)

	// Expired assignments are still listed; the decision engine filters
	// with its own clock.
	clock.Advance(2 * time.Hour)
	bindings, err = s.ListUserRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	require.NoError(t, s.RevokeUserRole(ctx, user.ID, "editor"))
	err = s.RevokeUserRole(ctx, user.ID, "editor")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}

func TestUserPermissionGrants(t *testing.T) {
	ctx := context.Background()
	clock := testClock(t)
	s := newStorage(t, clock)

	user := createTestUser(t, s, "alice@example.com")
	createTestPermission(t, s, "report:export")
	createTestPermission(t, s, "document:read")

	err := s.GrantUserPermission(ctx, user.ID, "missing:code", PermissionGrantParams{})
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	err = s.GrantUserPermission(ctx, user.ID, "report:export", PermissionGrantParams{Scope: "sometimes"})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	err = s.GrantUserPermission(ctx, user.ID, "report:export", PermissionGrantParams{Scope: types.GrantScopeRecord})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)

	require.NoError(t, s.GrantUserPermission(ctx, user.ID, "report:export", PermissionGrantParams{
		Reason: "q3 audit",
	}))
	require.NoError(t, s.GrantUserPermission(ctx, user.ID, "document:read", PermissionGrantParams{
		Scope:      types.GrantScopeRecord,
		ScopeValue: "42",
	}))

	bindings, err := s.ListUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	require.Equal(t, "document:read", bindings[0].Code)
	require.Equal(t, types.GrantScopeRecord, bindings[0].Scope)
	require.Equal(t, "42", bindings[0].ScopeValue)
	require.Equal(t, "report:export", bindings[1].Code)
	require.Equal(t, types.GrantScopeAll, bindings[1].Scope)
	require.Equal(t, "q3 audit", bindings[1].Reason)
	require.True(t, bindings[1].ExpiresAt.IsZero())
}

func TestResourceGrants(t *testing.T) {
	ctx := context.Background()
	clock := testClock(t)
	s := newStorage(t, clock)

	user := createTestUser(t, s, "alice@example.com")
	createTestPermission(t, s, "document:read")
	createTestPermission(t, s, "document:write")

	err := s.CreateResourceGrant(ctx, &types.ResourceGrant{
		UserID: user.ID, ResourceType: "document", ResourceID: "42", Code: "missing:code",
	})
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	require.NoError(t, s.CreateResourceGrant(ctx, &types.ResourceGrant{
		UserID: user.ID, ResourceType: "document", ResourceID: "42", Code: "document:read",
	}))
	require.NoError(t, s.CreateResourceGrant(ctx, &types.ResourceGrant{
		UserID: user.ID, ResourceType: "document", ResourceID: "42", Code: "document:write",
	}))

	err = s.CreateResourceGrant(ctx, &types.ResourceGrant{
		UserID: user.ID, ResourceType: "document", ResourceID: "42", Code: "document:read",
	})
	require.True(t, trace.IsAlreadyExists(err), "expected AlreadyExists, got %v", err)

	grant, err := s.GetResourceGrant(ctx, user.ID, "document", "42", "document:read")
	require.NoError(t, err)
	require.Equal(t, "document:read", grant.Code)

	// The code must match exactly; a grant never answers for another
	// permission on the same resource.
	_, err = s.GetResourceGrant(ctx, user.ID, "document", "42", "document:delete")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
	_, err = s.GetResourceGrant(ctx, user.ID, "document", "7", "document:read")
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)

	grants, err := s.ListUserResourceGrants(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	require.Equal(t, "document:read", grants[0].Code)
	require.Equal(t, "document:write", grants[1].Code)
}

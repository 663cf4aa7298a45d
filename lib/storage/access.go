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
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/types"
)

const roleColumns = "id, name, description, system, created_at, parent_role_id"

// CreateRole inserts a new role, filling in the ID and creation time when
// unset.
func (s *Storage) CreateRole(ctx context.Context, role *types.Role) error {
	if role.Name == "" {
		return trace.BadParameter("missing parameter role name")
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = s.Clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO roles (id, name, description, system, created_at, parent_role_id) VALUES (?, ?, ?, ?, ?, ?)",
		role.ID, role.Name, nullableString(role.Description), role.System,
		encodeTime(role.CreatedAt), nullableString(role.ParentRoleID))
	if err != nil {
		err = convertError(err)
		if trace.IsAlreadyExists(err) {
			return trace.AlreadyExists("role %q already exists", role.Name)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetRoleByName returns a role by its unique name.
func (s *Storage) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE name = ?", name)
	role, err := scanRole(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("role %q not found", name)
		}
		return nil, trace.Wrap(err)
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (s *Storage) ListRoles(ctx context.Context) ([]*types.Role, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY name")
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var roles []*types.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		roles = append(roles, role)
	}
	return roles, trace.Wrap(convertError(rows.Err()))
}

// DeleteRole removes a custom role. Built-in system roles cannot be
// deleted.
func (s *Storage) DeleteRole(ctx context.Context, name string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByNameTx(ctx, tx, name)
		if err != nil {
			return trace.Wrap(err)
		}
		if role.System {
			return trace.BadParameter("system role %q cannot be deleted", name)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", role.ID); err != nil {
			err = convertError(err)
			if trace.IsAlreadyExists(err) {
				return trace.BadParameter("role %q is still referenced and cannot be deleted", name)
			}
			return trace.Wrap(err)
		}
		return nil
	})
	return trace.Wrap(err)
}

func getRoleByNameTx(ctx context.Context, tx *sql.Tx, name string) (*types.Role, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE name = ?", name)
	role, err := scanRole(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("role %q not found", name)
		}
		return nil, trace.Wrap(err)
	}
	return role, nil
}

func scanRole(sc scanner) (*types.Role, error) {
	var role types.Role
	var description, parentRoleID sql.NullString
	var createdAt string
	if err := sc.Scan(&role.ID, &role.Name, &description, &role.System, &createdAt, &parentRoleID); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	role.Description = description.String
	role.ParentRoleID = parentRoleID.String

	var err error
	if role.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	return &role, nil
}

const permissionColumns = "id, code, resource_type, action, description, created_at"

// CreatePermission inserts a new permission, filling in the ID and
// creation time when unset.
func (s *Storage) CreatePermission(ctx context.Context, permission *types.Permission) error {
	if err := types.ValidatePermissionCode(permission.Code); err != nil {
		return trace.Wrap(err)
	}
	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}
	if permission.CreatedAt.IsZero() {
		permission.CreatedAt = s.Clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO permissions (id, code, resource_type, action, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		permission.ID, permission.Code, permission.ResourceType, permission.Action,
		nullableString(permission.Description), encodeTime(permission.CreatedAt))
	if err != nil {
		err = convertError(err)
		if trace.IsAlreadyExists(err) {
			return trace.AlreadyExists("permission %q already exists", permission.Code)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetPermissionByCode returns a permission by its unique code.
func (s *Storage) GetPermissionByCode(ctx context.Context, code string) (*types.Permission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permissions WHERE code = ?", code)
	permission, err := scanPermission(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("permission %q not found", code)
		}
		return nil, trace.Wrap(err)
	}
	return permission, nil
}

// ListPermissions returns all permissions ordered by code.
func (s *Storage) ListPermissions(ctx context.Context) ([]*types.Permission, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+permissionColumns+" FROM permissions ORDER BY code")
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var permissions []*types.Permission
	for rows.Next() {
		permission, err := scanPermission(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		permissions = append(permissions, permission)
	}
	return permissions, trace.Wrap(convertError(rows.Err()))
}

func getPermissionByCodeTx(ctx context.Context, tx *sql.Tx, code string) (*types.Permission, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permissions WHERE code = ?", code)
	permission, err := scanPermission(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("permission %q not found", code)
		}
		return nil, trace.Wrap(err)
	}
	return permission, nil
}

func scanPermission(sc scanner) (*types.Permission, error) {
	var permission types.Permission
	var description sql.NullString
	var createdAt string
	if err := sc.Scan(&permission.ID, &permission.Code, &permission.ResourceType,
		&permission.Action, &description, &createdAt); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	permission.Description = description.String

	var err error
	if permission.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, trace.Wrap(err)
	}
	return &permission, nil
}

// AttachRolePermission adds a permission to a role, both referenced by
// name.
func (s *Storage) AttachRolePermission(ctx context.Context, roleName, code string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByNameTx(ctx, tx, roleName)
		if err != nil {
			return trace.Wrap(err)
		}
		permission, err := getPermissionByCodeTx(ctx, tx, code)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO role_permissions (role_id, permission_id, granted_at) VALUES (?, ?, ?)",
			role.ID, permission.ID, encodeTime(s.Clock.Now().UTC())); err != nil {
			err = convertError(err)
			if trace.IsAlreadyExists(err) {
				return trace.AlreadyExists("role %q already holds permission %q", roleName, code)
			}
			return trace.Wrap(err)
		}
		return nil
	})
	return trace.Wrap(err)
}

// ListRolePermissions returns the permissions held by the named roles,
// ordered by role name then permission code. The deterministic order is
// what makes authorization decisions reproducible.
func (s *Storage) ListRolePermissions(ctx context.Context, roleNames []string) ([]types.RolePermissionBinding, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roleNames)), ",")
	args := make([]any, 0, len(roleNames))
	for _, name := range roleNames {
		args = append(args, name)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.name, p.code FROM role_permissions rp
			JOIN roles r ON r.id = rp.role_id
			JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name IN (`+placeholders+`) ORDER BY r.name, p.code`, args...)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var bindings []types.RolePermissionBinding
	for rows.Next() {
		var b types.RolePermissionBinding
		if err := rows.Scan(&b.RoleName, &b.Code); err != nil {
			return nil, trace.Wrap(convertError(err))
		}
		bindings = append(bindings, b)
	}
	return bindings, trace.Wrap(convertError(rows.Err()))
}

// GrantParams carries the optional attributes of a grant.
type GrantParams struct {
	// GrantedBy is the user ID of the granting administrator.
	GrantedBy string
	// ExpiresAt bounds the grant in time. Zero means it never expires.
	ExpiresAt time.Time
}

// GrantUserRole assigns a role, referenced by name, to a user.
func (s *Storage) GrantUserRole(ctx context.Context, userID, roleName string, params GrantParams) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByNameTx(ctx, tx, roleName)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id, granted_at, granted_by, expires_at) VALUES (?, ?, ?, ?, ?)",
			userID, role.ID, encodeTime(s.Clock.Now().UTC()),
			nullableString(params.GrantedBy), encodeNullableTime(params.ExpiresAt)); err != nil {
			err = convertError(err)
			if trace.IsAlreadyExists(err) {
				return trace.AlreadyExists("user %q already holds role %q", userID, roleName)
			}
			return trace.Wrap(err)
		}
		return nil
	})
	return trace.Wrap(err)
}

// RevokeUserRole removes a user's role assignment.
func (s *Storage) RevokeUserRole(ctx context.Context, userID, roleName string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		role, err := getRoleByNameTx(ctx, tx, roleName)
		if err != nil {
			return trace.Wrap(err)
		}
		result, err := tx.ExecContext(ctx,
			"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, role.ID)
		if err != nil {
			return trace.Wrap(convertError(err))
		}
		return oneAffected(result, "user %q does not hold role %q", userID, roleName)
	})
	return trace.Wrap(err)
}

// ListUserRoles returns a user's role assignments, joined with role
// names, ordered by name. Expired assignments are included; callers
// filter with their own clock.
func (s *Storage) ListUserRoles(ctx context.Context, userID string) ([]types.RoleBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.name, ur.granted_at, ur.granted_by, ur.expires_at FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ? ORDER BY r.name`, userID)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var bindings []types.RoleBinding
	for rows.Next() {
		var b types.RoleBinding
		var grantedAt string
		var grantedBy, expiresAt sql.NullString
		if err := rows.Scan(&b.RoleName, &grantedAt, &grantedBy, &expiresAt); err != nil {
			return nil, trace.Wrap(convertError(err))
		}
		b.GrantedBy = grantedBy.String
		if b.GrantedAt, err = decodeTime(grantedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		if b.ExpiresAt, err = decodeNullableTime(expiresAt); err != nil {
			return nil, trace.Wrap(err)
		}
		bindings = append(bindings, b)
	}
	return bindings, trace.Wrap(convertError(rows.Err()))
}

// PermissionGrantParams carries the attributes of a direct permission
// grant.
type PermissionGrantParams struct {
	// Scope bounds what the grant applies to. Defaults to all.
	Scope types.GrantScope
	// ScopeValue names the record or query the scope refers to.
	ScopeValue string
	// GrantedBy is the user ID of the granting administrator.
	GrantedBy string
	// ExpiresAt bounds the grant in time. Zero means it never expires.
	ExpiresAt time.Time
	// Reason records why the grant was made.
	Reason string
}

// GrantUserPermission grants a permission, referenced by code, directly
// to a user.
func (s *Storage) GrantUserPermission(ctx context.Context, userID, code string, params PermissionGrantParams) error {
	if params.Scope == "" {
		params.Scope = types.GrantScopeAll
	}
	if err := params.Scope.Check(); err != nil {
		return trace.Wrap(err)
	}
	if params.Scope != types.GrantScopeAll && params.ScopeValue == "" {
		return trace.BadParameter("scope %q requires a scope value", params.Scope)
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		permission, err := getPermissionByCodeTx(ctx, tx, code)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_permissions (id, user_id, permission_id, scope_type, scope_value,
				granted_at, granted_by, expires_at, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, permission.ID, string(params.Scope), nullableString(params.ScopeValue),
			encodeTime(s.Clock.Now().UTC()), nullableString(params.GrantedBy),
			encodeNullableTime(params.ExpiresAt), nullableString(params.Reason))
		return trace.Wrap(convertError(err))
	})
	return trace.Wrap(err)
}

// ListUserPermissions returns a user's direct permission grants, joined
// with permission codes, ordered by code. Expired grants are included;
// callers filter with their own clock.
func (s *Storage) ListUserPermissions(ctx context.Context, userID string) ([]types.PermissionBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.code, up.scope_type, up.scope_value, up.granted_at, up.granted_by, up.expires_at, up.reason
		FROM user_permissions up
			JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = ? ORDER BY p.code, up.id`, userID)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var bindings []types.PermissionBinding
	for rows.Next() {
		var b types.PermissionBinding
		var scope, grantedAt string
		var scopeValue, grantedBy, expiresAt, reason sql.NullString
		if err := rows.Scan(&b.Code, &scope, &scopeValue, &grantedAt, &grantedBy, &expiresAt, &reason); err != nil {
			return nil, trace.Wrap(convertError(err))
		}
		b.Scope = types.GrantScope(scope)
		b.ScopeValue = scopeValue.String
		b.GrantedBy = grantedBy.String
		b.Reason = reason.String
		if b.GrantedAt, err = decodeTime(grantedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		if b.ExpiresAt, err = decodeNullableTime(expiresAt); err != nil {
			return nil, trace.Wrap(err)
		}
		bindings = append(bindings, b)
	}
	return bindings, trace.Wrap(convertError(rows.Err()))
}

// CreateResourceGrant grants a permission on one concrete resource
// instance. The permission is resolved by grant.Code when PermissionID is
// unset. A duplicate (user, type, id, permission) grant fails with
// AlreadyExists.
func (s *Storage) CreateResourceGrant(ctx context.Context, grant *types.ResourceGrant) error {
	if grant.UserID == "" || grant.ResourceType == "" || grant.ResourceID == "" {
		return trace.BadParameter("missing resource grant parameters")
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = s.Clock.Now().UTC()
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		if grant.PermissionID == "" {
			permission, err := getPermissionByCodeTx(ctx, tx, grant.Code)
			if err != nil {
				return trace.Wrap(err)
			}
			grant.PermissionID = permission.ID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO resource_grants (id, user_id, resource_type, resource_id, permission_id,
				granted_at, granted_by, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			grant.ID, grant.UserID, grant.ResourceType, grant.ResourceID, grant.PermissionID,
			encodeTime(grant.GrantedAt), nullableString(grant.GrantedBy), encodeNullableTime(grant.ExpiresAt))
		if err != nil {
			err = convertError(err)
			if trace.IsAlreadyExists(err) {
				return trace.AlreadyExists("resource grant for %v/%v already exists", grant.ResourceType, grant.ResourceID)
			}
			return trace.Wrap(err)
		}
		return nil
	})
	return trace.Wrap(err)
}

// GetResourceGrant looks up a grant by its full key: user, resource type,
// resource instance and permission code. The code must match exactly;
// wildcards play no part in resource grants.
func (s *Storage) GetResourceGrant(ctx context.Context, userID, resourceType, resourceID, code string) (*types.ResourceGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rg.id, rg.user_id, rg.resource_type, rg.resource_id, rg.permission_id, p.code,
			rg.granted_at, rg.granted_by, rg.expires_at
		FROM resource_grants rg
			JOIN permissions p ON p.id = rg.permission_id
		WHERE rg.user_id = ? AND rg.resource_type = ? AND rg.resource_id = ? AND p.code = ?`,
		userID, resourceType, resourceID, code)
	grant, err := scanResourceGrant(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no resource grant for %v/%v", resourceType, resourceID)
		}
		return nil, trace.Wrap(err)
	}
	return grant, nil
}

// ListUserResourceGrants returns a user's per-resource grants with
// permission codes, in deterministic order. Expired grants are included;
// callers filter with their own clock.
func (s *Storage) ListUserResourceGrants(ctx context.Context, userID string) ([]*types.ResourceGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rg.id, rg.user_id, rg.resource_type, rg.resource_id, rg.permission_id, p.code,
			rg.granted_at, rg.granted_by, rg.expires_at
		FROM resource_grants rg
			JOIN permissions p ON p.id = rg.permission_id
		WHERE rg.user_id = ? ORDER BY rg.resource_type, rg.resource_id, p.code`, userID)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var grants []*types.ResourceGrant
	for rows.Next() {
		grant, err := scanResourceGrant(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		grants = append(grants, grant)
	}
	return grants, trace.Wrap(convertError(rows.Err()))
}

func scanResourceGrant(sc scanner) (*types.ResourceGrant, error) {
	var grant types.ResourceGrant
	var grantedAt string
	var grantedBy, expiresAt sql.NullString
	if err := sc.Scan(&grant.ID, &grant.UserID, &grant.ResourceType, &grant.ResourceID,
		&grant.PermissionID, &grant.Code, &grantedAt, &grantedBy, &expiresAt); err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	grant.GrantedBy = grantedBy.String

	var err error
	if grant.GrantedAt, err = decodeTime(grantedAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if grant.ExpiresAt, err = decodeNullableTime(expiresAt); err != nil {
		return nil, trace.Wrap(err)
	}
	return &grant, nil
}

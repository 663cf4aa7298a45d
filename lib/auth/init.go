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

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/storage"
	"github.com/gravitational/authgate/lib/types"
)

// InitConfig are the settings for the initial seeding of a fresh data
// directory.
type InitConfig struct {
	// Storage is the persistence layer to seed.
	Storage *storage.Storage
}

// Init seeds the built-in roles and permissions. It runs on every start
// and is idempotent: records that already exist are left alone, so
// operators can delete custom additions without them reappearing while
// the built-ins always converge to a working state.
func Init(ctx context.Context, cfg InitConfig) error {
	if cfg.Storage == nil {
		return trace.BadParameter("missing parameter Storage")
	}

	if _, err := cfg.Storage.GetRoleByName(ctx, authgate.AdminRoleName); err != nil {
		if !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
		log.InfoContext(ctx, "First start: creating built-in roles and permissions.")
	}

	roles := []*types.Role{
		{
			Name:        authgate.AdminRoleName,
			Description: "Full administrative access",
			System:      true,
		},
		{
			Name:        authgate.UserRoleName,
			Description: "Default access for registered users",
			System:      true,
		},
	}
	for _, role := range roles {
		if err := createRoleIfMissing(ctx, cfg.Storage, role); err != nil {
			return trace.Wrap(err)
		}
	}

	permissions := []struct {
		code        string
		description string
	}{
		{authgate.AdminWildcardPermission, "Every administrative action"},
		{authgate.UserProfilePermission, "Manage own profile"},
		{authgate.UserCredentialsPermission, "Manage own passkeys"},
	}
	for _, p := range permissions {
		if err := createPermissionIfMissing(ctx, cfg.Storage, p.code, p.description); err != nil {
			return trace.Wrap(err)
		}
	}

	attachments := []struct {
		role string
		code string
	}{
		{authgate.AdminRoleName, authgate.AdminWildcardPermission},
		{authgate.UserRoleName, authgate.UserProfilePermission},
		{authgate.UserRoleName, authgate.UserCredentialsPermission},
	}
	for _, a := range attachments {
		err := cfg.Storage.AttachRolePermission(ctx, a.role, a.code)
		if err != nil && !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

func createRoleIfMissing(ctx context.Context, s *storage.Storage, role *types.Role) error {
	err := s.CreateRole(ctx, role)
	switch {
	case trace.IsAlreadyExists(err):
		return nil
	case err != nil:
		return trace.Wrap(err)
	}
	log.InfoContext(ctx, "Created role.", "role", role.Name)
	return nil
}

func createPermissionIfMissing(ctx context.Context, s *storage.Storage, code, description string) error {
	permission, err := types.NewPermission(code, description)
	if err != nil {
		return trace.Wrap(err)
	}
	err = s.CreatePermission(ctx, permission)
	switch {
	case trace.IsAlreadyExists(err):
		return nil
	case err != nil:
		return trace.Wrap(err)
	}
	log.InfoContext(ctx, "Created permission.", "permission", code)
	return nil
}

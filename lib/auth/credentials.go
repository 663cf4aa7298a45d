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
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/types"
)

// RenameCredential sets the friendly device name on one of the user's
// passkeys.
func (s *Server) RenameCredential(ctx context.Context, userID, credentialID, deviceName string) error {
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return trace.BadParameter("device name required")
	}
	return trace.Wrap(s.UpdateCredentialName(ctx, userID, credentialID, deviceName))
}

// UpdateProfile changes the user's display name and returns the updated
// account.
func (s *Server) UpdateProfile(ctx context.Context, userID, displayName string) (*types.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, trace.BadParameter("display name required")
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user.DisplayName = displayName
	if err := s.UpdateUser(ctx, user); err != nil {
		return nil, trace.Wrap(err)
	}
	log.InfoContext(ctx, "User profile updated.", "user", userID)
	return user, nil
}

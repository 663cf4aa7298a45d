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

// Package authgate contains constants shared across the authgate codebase.
package authgate

import (
	"strings"
	"time"
)

// WebAPIVersion is the current web API version.
const WebAPIVersion = "v1"

// ComponentKey is the log field that carries the name of the component
// that emitted the entry, e.g. a service or a subsystem.
const ComponentKey = "component"

const (
	// ComponentAuthGate is the component name of the authgate daemon itself.
	ComponentAuthGate = "authgate"

	// ComponentAuth is the authentication server: ceremony orchestration,
	// session minting and validation.
	ComponentAuth = "auth"

	// ComponentWebAuthn is the WebAuthn registration and login ceremony
	// verifier.
	ComponentWebAuthn = "webauthn"

	// ComponentAuthz is the authorization decision engine.
	ComponentAuthz = "authz"

	// ComponentStorage is the persistence layer.
	ComponentStorage = "storage"

	// ComponentWeb is the HTTP API frontend.
	ComponentWeb = "web"

	// ComponentJWT is the token signing and verification subsystem.
	ComponentJWT = "jwt"

	// ComponentProcess is the supervisor that assembles and runs the
	// individual services.
	ComponentProcess = "process"

	// ComponentDiagnostic is the diagnostic service: health checks,
	// metrics and profiling endpoints.
	ComponentDiagnostic = "diag"
)

// Component joins component names into a single log-friendly identifier,
// e.g. Component("auth", "webauthn") returns "auth:webauthn".
func Component(components ...string) string {
	return strings.Join(components, ":")
}

const (
	// AdminRoleName is the name of the built-in administrative role.
	AdminRoleName = "admin"

	// UserRoleName is the name of the built-in role granted to every user
	// at first registration.
	UserRoleName = "user"
)

const (
	// AdminWildcardPermission grants every administrative action.
	AdminWildcardPermission = "admin:*"

	// AdminUsersPermission allows listing and managing user accounts.
	AdminUsersPermission = "admin:users"

	// AdminRolesPermission allows managing roles, permissions and role
	// assignments.
	AdminRolesPermission = "admin:roles"

	// AdminGrantsPermission allows issuing direct and per-resource grants.
	AdminGrantsPermission = "admin:grants"

	// UserProfilePermission allows a user to manage their own profile.
	UserProfilePermission = "user:profile"

	// UserCredentialsPermission allows a user to manage their own passkeys.
	UserCredentialsPermission = "user:credentials"
)

const (
	// MetricCeremoniesStarted counts WebAuthn ceremonies that issued a
	// challenge, partitioned by ceremony kind.
	MetricCeremoniesStarted = "authgate_ceremonies_started_total"

	// MetricCeremoniesCompleted counts WebAuthn ceremonies that finished
	// with a minted session, partitioned by ceremony kind.
	MetricCeremoniesCompleted = "authgate_ceremonies_completed_total"

	// MetricCeremoniesFailed counts WebAuthn ceremonies rejected during
	// completion, partitioned by ceremony kind.
	MetricCeremoniesFailed = "authgate_ceremonies_failed_total"

	// MetricTokensVerified counts bearer token validations by result.
	MetricTokensVerified = "authgate_tokens_verified_total"

	// MetricAuthzDecisions counts authorization decisions by outcome.
	MetricAuthzDecisions = "authgate_authz_decisions_total"

	// MetricExpiredRecordsSwept counts expired challenges and sessions
	// removed by the periodic sweeper, partitioned by record kind.
	MetricExpiredRecordsSwept = "authgate_expired_records_swept_total"

	// TagCeremony partitions ceremony metrics by kind.
	TagCeremony = "ceremony"

	// TagResult partitions outcome metrics by result.
	TagResult = "result"

	// TagRecord partitions sweeper metrics by record kind.
	TagRecord = "record"
)

// MaxHTTPRequestSize is the maximum accepted size of an API request body.
// WebAuthn attestation payloads are the largest legitimate requests and
// stay well under this limit.
const MaxHTTPRequestSize int64 = 1024 * 1024

// DefaultIOTimeout is the default timeout for short storage operations
// performed outside of a request context.
const DefaultIOTimeout = 30 * time.Second

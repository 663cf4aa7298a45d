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

// Package defaults contains default constants used across the authgate
// codebase.
package defaults

import "time"

// Default addresses and ports used by authgate tools.
const (
	// HTTPListenPort is the port the web API listens on.
	HTTPListenPort = 3580

	// DiagnosticPort is the port the diagnostic service (metrics, health
	// checks and profiling) listens on.
	DiagnosticPort = 3590

	// BindIP is the IP the web API binds to by default.
	BindIP = "0.0.0.0"

	// Localhost is the address of localhost.
	Localhost = "127.0.0.1"
)

const (
	// ChallengeTTL is how long a pending WebAuthn challenge stays valid.
	// Ceremonies completing after this window fail and must restart.
	ChallengeTTL = 5 * time.Minute

	// ChallengeNonceLength is the size in bytes of a challenge nonce.
	ChallengeNonceLength = 32

	// CeremonyTimeout is the client-side ceremony timeout advertised to
	// authenticators in credential creation and request options.
	CeremonyTimeout = 60 * time.Second

	// SessionTTL is the default lifetime of a minted session and of the
	// bearer token that references it.
	SessionTTL = time.Hour

	// TimestampDriftTolerance is the permitted clock skew when checking
	// token issue timestamps.
	TimestampDriftTolerance = 5 * time.Minute

	// SigningKeyLength is the required size in bytes of the token
	// signing key.
	SigningKeyLength = 32

	// SweepInterval is how often expired challenges and sessions are
	// removed from storage.
	SweepInterval = time.Minute
)

const (
	// ConfigFilePath is the default path the daemon reads its
	// configuration from when --config is not given.
	ConfigFilePath = "/etc/authgate.yaml"

	// SigningKeyEnvVar is the environment variable that overrides the
	// configured token signing key. Keeping the key out of the config
	// file keeps it out of config management systems.
	SigningKeyEnvVar = "AUTHGATE_SIGNING_KEY"
)

const (
	// DBFileName is the name of the sqlite database file.
	DBFileName = "authgate.db"

	// DataDir is the default directory authgate keeps its state in.
	DataDir = "/var/lib/authgate"

	// BusyTimeout is how long sqlite waits on a locked database before
	// returning SQLITE_BUSY, in milliseconds.
	BusyTimeout = 10000
)

const (
	// ReadHeadersTimeout is a default TCP timeout when we wait
	// for the response headers to arrive.
	ReadHeadersTimeout = 10 * time.Second

	// IdleTimeout is the timeout for idle keep-alive HTTP connections.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is how long the servers get to drain in-flight
	// requests on graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

const (
	// RPDisplayName is the relying party display name presented to
	// authenticators during ceremonies.
	RPDisplayName = "AuthGate"
)

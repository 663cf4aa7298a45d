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

// Package config parses the authgate YAML configuration file and turns it
// into a service configuration.
//
// The signing key may live in the file or in the AUTHGATE_SIGNING_KEY
// environment variable; the environment wins, so deployments can keep the
// key out of configuration management.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/service"
)

// FileConfig is the on-disk YAML configuration, usually
// /etc/authgate.yaml.
type FileConfig struct {
	// DBPath is the sqlite database file path.
	DBPath string `yaml:"db_path,omitempty"`

	// ListenAddr is the web API listen address.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// DiagAddr is the diagnostic service listen address.
	DiagAddr string `yaml:"diag_addr,omitempty"`

	// JWT configures the token signing key.
	JWT JWT `yaml:"jwt,omitempty"`

	// Fido2 configures the WebAuthn relying party.
	Fido2 Fido2 `yaml:"fido2"`

	// Session configures minted sessions.
	Session Session `yaml:"session,omitempty"`

	// Challenge configures ceremony challenges.
	Challenge Challenge `yaml:"challenge,omitempty"`
}

// JWT is the token signing section.
type JWT struct {
	// SigningKey is the base64-encoded 32-byte HMAC key. Overridden by
	// the AUTHGATE_SIGNING_KEY environment variable when set.
	SigningKey string `yaml:"signing_key,omitempty"`
}

// Fido2 is the WebAuthn relying party section.
type Fido2 struct {
	// ServerDomain is the relying party ID, e.g. "example.com".
	ServerDomain string `yaml:"server_domain"`

	// Origins are the permitted full web origins, scheme and host
	// included, e.g. "https://example.com".
	Origins []string `yaml:"origins"`

	// TimestampDriftTolerance is the accepted clock skew in
	// milliseconds.
	TimestampDriftTolerance int64 `yaml:"timestamp_drift_tolerance,omitempty"`
}

// Session is the session lifetime section.
type Session struct {
	// DefaultLifetime is the token and session TTL, in Go duration
	// syntax, e.g. "1h".
	DefaultLifetime string `yaml:"default_lifetime,omitempty"`
}

// Challenge is the ceremony challenge section.
type Challenge struct {
	// Lifetime is the challenge TTL, in Go duration syntax, e.g. "5m".
	Lifetime string `yaml:"lifetime,omitempty"`
}

// ReadFromFile reads a FileConfig from the YAML file at path.
func ReadFromFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse config file %v", path)
	}
	return fc, nil
}

// ReadConfig parses a FileConfig from r. Unknown keys are rejected: a
// misspelled setting silently falling back to its default is how
// misconfigured security software ships.
func ReadConfig(r io.Reader) (*FileConfig, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var fc FileConfig
	if err := decoder.Decode(&fc); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, trace.BadParameter("failed to parse YAML configuration: %v", err)
	}
	return &fc, nil
}

// ApplyFileConfig validates fc and fills cfg from it, applying the
// environment signing key override and the defaults for everything left
// unset.
func ApplyFileConfig(fc *FileConfig, cfg *service.Config) error {
	cfg.DBPath = fc.DBPath
	cfg.ListenAddr = fc.ListenAddr
	cfg.DiagAddr = fc.DiagAddr
	cfg.RPID = fc.Fido2.ServerDomain
	cfg.Origins = fc.Fido2.Origins

	encodedKey := fc.JWT.SigningKey
	if env := os.Getenv(defaults.SigningKeyEnvVar); env != "" {
		encodedKey = env
	}
	if encodedKey == "" {
		return trace.BadParameter(
			"no signing key: set jwt.signing_key or the %v environment variable", defaults.SigningKeyEnvVar)
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return trace.BadParameter("signing key is not valid base64: %v", err)
	}
	if len(key) != defaults.SigningKeyLength {
		return trace.BadParameter(
			"signing key must decode to %v bytes, got %v", defaults.SigningKeyLength, len(key))
	}
	cfg.SigningKey = key

	if fc.Fido2.TimestampDriftTolerance < 0 {
		return trace.BadParameter("fido2.timestamp_drift_tolerance cannot be negative")
	}
	cfg.DriftTolerance = time.Duration(fc.Fido2.TimestampDriftTolerance) * time.Millisecond

	cfg.SessionTTL, err = parseDuration("session.default_lifetime", fc.Session.DefaultLifetime)
	if err != nil {
		return trace.Wrap(err)
	}
	cfg.ChallengeTTL, err = parseDuration("challenge.lifetime", fc.Challenge.Lifetime)
	if err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// parseDuration parses an optional duration setting, mapping the empty
// string to zero so downstream defaulting applies.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, trace.BadParameter("%v is not a valid duration: %v", name, err)
	}
	if d < 0 {
		return 0, trace.BadParameter("%v cannot be negative", name)
	}
	return d, nil
}

// MakeSampleFileConfig returns a starter configuration with a freshly
// generated signing key, for `authgate configure`.
func MakeSampleFileConfig() (*FileConfig, error) {
	key := make([]byte, defaults.SigningKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, trace.Wrap(err)
	}
	return &FileConfig{
		DBPath: defaults.DataDir + "/" + defaults.DBFileName,
		JWT: JWT{
			SigningKey: base64.StdEncoding.EncodeToString(key),
		},
		Fido2: Fido2{
			ServerDomain:            "example.com",
			Origins:                 []string{"https://example.com"},
			TimestampDriftTolerance: defaults.TimestampDriftTolerance.Milliseconds(),
		},
		Session: Session{
			DefaultLifetime: defaults.SessionTTL.String(),
		},
		Challenge: Challenge{
			Lifetime: defaults.ChallengeTTL.String(),
		},
	}, nil
}

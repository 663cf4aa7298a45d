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

// Package codec implements the URL-safe base64 encoding used for binary
// identifiers on the wire: credential IDs, challenge nonces and user
// handles. Values are encoded without padding, matching the WebAuthn
// base64url convention.
package codec

import (
	"encoding/base64"
	"strings"

	"github.com/gravitational/trace"
)

// Encode returns the URL-safe base64 encoding of src without padding.
func Encode(src []byte) string {
	return base64.RawURLEncoding.EncodeToString(src)
}

// Decode parses a URL-safe base64 value. Trailing padding is accepted for
// interoperability with encoders that emit it, but characters outside the
// URL-safe alphabet are rejected.
func Decode(s string) ([]byte, error) {
	out, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, trace.BadParameter("invalid base64url value: %v", err)
	}
	return out, nil
}

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

package webauthn

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	wan "github.com/go-webauthn/webauthn/webauthn"
	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/codec"
	"github.com/gravitational/authgate/lib/types"
)

// webUser adapts an account and its passkeys to the webauthn.User
// interface consumed by the ceremony library.
type webUser struct {
	id          []byte
	name        string
	displayName string
	credentials []wan.Credential
}

type webUserOpts struct {
	user *types.User
	// credentials are carried into the ceremony when set. Login
	// verification resolves the asserting credential among them.
	credentials []*types.Credential
}

func newWebUser(opts webUserOpts) (*webUser, error) {
	u := &webUser{
		id:          []byte(opts.user.ID),
		name:        opts.user.Email,
		displayName: opts.user.DisplayName,
	}
	for _, credential := range opts.credentials {
		wanCredential, err := credentialToLibrary(credential)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		u.credentials = append(u.credentials, *wanCredential)
	}
	return u, nil
}

func (u *webUser) WebAuthnID() []byte {
	return u.id
}

func (u *webUser) WebAuthnName() string {
	return u.name
}

func (u *webUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *webUser) WebAuthnCredentials() []wan.Credential {
	return u.credentials
}

// credentialToLibrary converts a stored credential to its library form,
// replaying the flags recorded at registration so the library's
// flag-consistency checks hold at login.
func credentialToLibrary(credential *types.Credential) (*wan.Credential, error) {
	id, err := codec.Decode(credential.ID)
	if err != nil {
		return nil, trace.Wrap(err, "credential %q has a malformed ID", credential.ID)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(credential.Transports))
	for _, transport := range credential.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return &wan.Credential{
		ID:              id,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationFormat,
		Transport:       transports,
		Flags: wan.CredentialFlags{
			UserPresent:    true,
			UserVerified:   true,
			BackupEligible: credential.BackupEligible,
			BackupState:    credential.BackedUp,
		},
		Authenticator: wan.Authenticator{
			AAGUID:    credential.AAGUID,
			SignCount: credential.SignCount,
		},
	}, nil
}

// libraryToCredential converts a freshly verified library credential into
// the stored form committed by the auth server.
func libraryToCredential(userID, deviceName string, credential *wan.Credential, createdAt time.Time) *types.Credential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return &types.Credential{
		ID:                codec.Encode(credential.ID),
		UserID:            userID,
		PublicKey:         credential.PublicKey,
		SignCount:         credential.Authenticator.SignCount,
		AAGUID:            credential.Authenticator.AAGUID,
		Transports:        transports,
		AttestationFormat: credential.AttestationType,
		CreatedAt:         createdAt,
		DeviceName:        deviceName,
		BackupEligible:    credential.Flags.BackupEligible,
		BackedUp:          credential.Flags.BackupState,
	}
}

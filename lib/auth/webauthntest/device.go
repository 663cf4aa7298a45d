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

// Package webauthntest implements a software FIDO2 authenticator for
// ceremony tests. The device answers credential creation and assertion
// options the way a platform authenticator would: ES256 keys, attestation
// format "none", discoverable credentials and a monotonic signature
// counter.
package webauthntest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gravitational/trace"

	"github.com/gravitational/authgate/lib/codec"
)

// Device is a fake authenticator holding a single credential.
type Device struct {
	// Key is the credential's ES256 private key.
	Key *ecdsa.PrivateKey
	// CredentialID is the raw credential ID reported at registration.
	CredentialID []byte
	// AAGUID identifies the fake authenticator model.
	AAGUID []byte
	// UserHandle is the user ID captured at registration and asserted
	// back on logins.
	UserHandle []byte
	// Counter is the signature counter. It advances by one before every
	// assertion; registration always reports zero.
	Counter uint32
	// SkipUserVerification makes the device omit the UV flag, imitating
	// an authenticator without a PIN or biometric.
	SkipUserVerification bool
}

// NewDevice creates a fake authenticator with a fresh key and credential
// ID.
func NewDevice() (*Device, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	credentialID := make([]byte, 16)
	if _, err := rand.Read(credentialID); err != nil {
		return nil, trace.Wrap(err)
	}
	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Device{
		Key:          key,
		CredentialID: credentialID,
		AAGUID:       aaguid,
	}, nil
}

// attestationObject is the CBOR layout of a WebAuthn attestation object.
type attestationObject struct {
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
	AuthData []byte         `cbor:"authData"`
}

// coseEC2Key is the CBOR layout of a COSE_Key holding an EC2 ES256 public
// key.
type coseEC2Key struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

type collectedClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// SignCredentialCreation answers a registration ceremony. It captures the
// user handle from the options and returns the JSON body a browser would
// deliver from navigator.credentials.create.
func (d *Device) SignCredentialCreation(origin string, cc *protocol.CredentialCreation) (json.RawMessage, error) {
	switch {
	case origin == "":
		return nil, trace.BadParameter("origin required")
	case cc == nil:
		return nil, trace.BadParameter("credential creation required")
	case len(cc.Response.Challenge) == 0:
		return nil, trace.BadParameter("credential creation challenge required")
	case cc.Response.RelyingParty.ID == "":
		return nil, trace.BadParameter("credential creation relying party ID required")
	}

	// The library hands the user ID out as URLEncodedBase64 under our
	// configuration, but it is capable of producing strings too.
	switch uid := cc.Response.User.ID.(type) {
	case protocol.URLEncodedBase64:
		d.UserHandle = uid
	case string:
		// A JSON round-trip delivers the handle as base64url text, the
		// same way a browser would receive it.
		handle, err := codec.Decode(uid)
		if err != nil {
			return nil, trace.BadParameter("invalid user ID encoding: %v", err)
		}
		d.UserHandle = handle
	default:
		return nil, trace.BadParameter("unexpected user ID type %T", cc.Response.User.ID)
	}

	ccdJSON, err := json.Marshal(&collectedClientData{
		Type:      string(protocol.CreateCeremony),
		Challenge: cc.Response.Challenge.String(),
		Origin:    origin,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	pubKeyCBOR, err := d.marshalPublicKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	authData := &bytes.Buffer{}
	authData.Write(rpIDHash(cc.Response.RelyingParty.ID))
	authData.WriteByte(d.flags() | byte(protocol.FlagAttestedCredentialData))
	binary.Write(authData, binary.BigEndian, uint32(0)) // signature counter
	// Attested credential data begins here.
	authData.Write(d.AAGUID)
	binary.Write(authData, binary.BigEndian, uint16(len(d.CredentialID)))
	authData.Write(d.CredentialID)
	authData.Write(pubKeyCBOR)

	attObj, err := cbor.Marshal(&attestationObject{
		Fmt:      "none",
		AttStmt:  map[string]any{},
		AuthData: authData.Bytes(),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp, err := json.Marshal(map[string]any{
		"id":    codec.Encode(d.CredentialID),
		"rawId": codec.Encode(d.CredentialID),
		"type":  string(protocol.PublicKeyCredentialType),
		"response": map[string]any{
			"clientDataJSON":    codec.Encode(ccdJSON),
			"attestationObject": codec.Encode(attObj),
			"transports":        []string{"internal"},
		},
	})
	return resp, trace.Wrap(err)
}

// SignAssertion answers a login ceremony, advancing the signature counter
// by one. It returns the JSON body a browser would deliver from
// navigator.credentials.get.
func (d *Device) SignAssertion(origin string, assertion *protocol.CredentialAssertion) (json.RawMessage, error) {
	switch {
	case origin == "":
		return nil, trace.BadParameter("origin required")
	case assertion == nil:
		return nil, trace.BadParameter("assertion required")
	case len(assertion.Response.Challenge) == 0:
		return nil, trace.BadParameter("assertion challenge required")
	case assertion.Response.RelyingPartyID == "":
		return nil, trace.BadParameter("assertion relying party ID required")
	}
	d.Counter++

	ccdJSON, err := json.Marshal(&collectedClientData{
		Type:      string(protocol.AssertCeremony),
		Challenge: assertion.Response.Challenge.String(),
		Origin:    origin,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ccdHash := sha256.Sum256(ccdJSON)

	authData := &bytes.Buffer{}
	authData.Write(rpIDHash(assertion.Response.RelyingPartyID))
	authData.WriteByte(d.flags())
	binary.Write(authData, binary.BigEndian, d.Counter)
	rawAuthData := authData.Bytes()

	// Assertion signatures cover the authenticator data followed by the
	// client data hash.
	dataToSign := append(rawAuthData[:len(rawAuthData):len(rawAuthData)], ccdHash[:]...)
	digest := sha256.Sum256(dataToSign)
	sig, err := ecdsa.SignASN1(rand.Reader, d.Key, digest[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp, err := json.Marshal(map[string]any{
		"id":    codec.Encode(d.CredentialID),
		"rawId": codec.Encode(d.CredentialID),
		"type":  string(protocol.PublicKeyCredentialType),
		"response": map[string]any{
			"clientDataJSON":    codec.Encode(ccdJSON),
			"authenticatorData": codec.Encode(rawAuthData),
			"signature":         codec.Encode(sig),
			"userHandle":        codec.Encode(d.UserHandle),
		},
	})
	return resp, trace.Wrap(err)
}

func (d *Device) flags() byte {
	flags := byte(protocol.FlagUserPresent)
	if !d.SkipUserVerification {
		flags |= byte(protocol.FlagUserVerified)
	}
	return flags
}

func (d *Device) marshalPublicKey() ([]byte, error) {
	pub := d.Key.PublicKey
	key, err := cbor.Marshal(&coseEC2Key{
		KeyType:   2,  // EC2
		Algorithm: -7, // ES256
		Curve:     1,  // P-256
		X:         pub.X.FillBytes(make([]byte, 32)),
		Y:         pub.Y.FillBytes(make([]byte, 32)),
	})
	return key, trace.Wrap(err)
}

func rpIDHash(rpID string) []byte {
	h := sha256.Sum256([]byte(rpID))
	return h[:]
}

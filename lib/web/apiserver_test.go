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

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/auth"
	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/auth/webauthntest"
	"github.com/gravitational/authgate/lib/authz"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/httplib"
	"github.com/gravitational/authgate/lib/jwt"
	"github.com/gravitational/authgate/lib/storage"
	"github.com/gravitational/authgate/lib/types"
	"github.com/gravitational/authgate/lib/utils"
)

func TestMain(m *testing.M) {
	utils.InitLoggerForTests()
	os.Exit(m.Run())
}

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

type webPack struct {
	auth   *auth.Server
	clock  *clockwork.FakeClock
	server *httptest.Server
}

func newWebPack(t *testing.T) *webPack {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	store, err := storage.New(ctx, storage.Config{
		Path:  filepath.Join(t.TempDir(), defaults.DBFileName),
		Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	require.NoError(t, auth.Init(ctx, auth.InitConfig{Storage: store}))

	tokens, err := jwt.New(&jwt.Config{
		Clock:      clock,
		SigningKey: bytes.Repeat([]byte{0x42}, defaults.SigningKeyLength),
	})
	require.NoError(t, err)

	authServer, err := auth.NewServer(&auth.Config{
		Storage:  store,
		Tokens:   tokens,
		Webauthn: &webauthn.Config{RPID: testRPID, RPOrigins: []string{testOrigin}},
		Clock:    clock,
	})
	require.NoError(t, err)

	engine, err := authz.NewEngine(&authz.Config{AccessPoint: store, Clock: clock})
	require.NoError(t, err)

	handler, err := NewHandler(Config{AuthServer: authServer, Authz: engine, Clock: clock})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &webPack{auth: authServer, clock: clock, server: server}
}

// webClient wraps roundtrip so error replies surface as the error kinds
// the server sent.
type webClient struct {
	*roundtrip.Client
}

func (p *webPack) client(t *testing.T, opts ...roundtrip.ClientParam) *webClient {
	t.Helper()
	clt, err := roundtrip.NewClient(p.server.URL, authgate.WebAPIVersion, opts...)
	require.NoError(t, err)
	return &webClient{clt}
}

func (c *webClient) PostJSON(ctx context.Context, endpoint string, val any) (*roundtrip.Response, error) {
	return httplib.ConvertResponse(c.Client.PostJSON(ctx, endpoint, val))
}

func (c *webClient) PutJSON(ctx context.Context, endpoint string, val any) (*roundtrip.Response, error) {
	return httplib.ConvertResponse(c.Client.PutJSON(ctx, endpoint, val))
}

func (c *webClient) Get(ctx context.Context, endpoint string, params url.Values) (*roundtrip.Response, error) {
	return httplib.ConvertResponse(c.Client.Get(ctx, endpoint, params))
}

func (c *webClient) Delete(ctx context.Context, endpoint string) (*roundtrip.Response, error) {
	return httplib.ConvertResponse(c.Client.Delete(ctx, endpoint))
}

// registerPasskey runs a full registration ceremony through the API and
// returns the reply together with the simulated authenticator.
func (p *webPack) registerPasskey(t *testing.T, email string) (*RegisterReply, *webauthntest.Device) {
	t.Helper()
	ctx := context.Background()
	clt := p.client(t)

	re, err := clt.PostJSON(ctx, clt.Endpoint("auth", "register", "begin"), registerBeginRequest{
		Email:       email,
		DisplayName: strings.Split(email, "@")[0],
	})
	require.NoError(t, err)
	var options CeremonyOptions
	require.NoError(t, json.Unmarshal(re.Bytes(), &options))
	require.NotEmpty(t, options.ChallengeID)

	var cc protocol.CredentialCreation
	require.NoError(t, json.Unmarshal([]byte(options.OptionsJSON), &cc))

	device, err := webauthntest.NewDevice()
	require.NoError(t, err)
	ccr, err := device.SignCredentialCreation(testOrigin, &cc)
	require.NoError(t, err)

	re, err = clt.PostJSON(ctx, clt.Endpoint("auth", "register", "complete"), webauthn.RegisterResponse{
		ChallengeID:      options.ChallengeID,
		DeviceName:       "test device",
		CreationResponse: ccr,
	})
	require.NoError(t, err)
	var reply RegisterReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &reply))
	require.NotEmpty(t, reply.Session.Token)
	return &reply, device
}

// loginPasskey runs a discoverable login ceremony with a previously
// registered device.
func (p *webPack) loginPasskey(t *testing.T, device *webauthntest.Device) *LoginReply {
	t.Helper()
	ctx := context.Background()
	clt := p.client(t)

	re, err := clt.PostJSON(ctx, clt.Endpoint("auth", "login", "begin"), nil)
	require.NoError(t, err)
	var options CeremonyOptions
	require.NoError(t, json.Unmarshal(re.Bytes(), &options))

	var assertion protocol.CredentialAssertion
	require.NoError(t, json.Unmarshal([]byte(options.OptionsJSON), &assertion))

	ar, err := device.SignAssertion(testOrigin, &assertion)
	require.NoError(t, err)

	re, err = clt.PostJSON(ctx, clt.Endpoint("auth", "login", "complete"), webauthn.AssertionResponse{
		ChallengeID:       options.ChallengeID,
		AssertionResponse: ar,
	})
	require.NoError(t, err)
	var reply LoginReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &reply))
	require.NotEmpty(t, reply.Session.Token)
	return &reply
}

func TestRegisterLoginSession(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, device := p.registerPasskey(t, "alice@example.com")
	require.NotEmpty(t, reply.UserID)
	require.NotEmpty(t, reply.CredentialID)
	require.Equal(t, p.clock.Now().UTC().Add(defaults.SessionTTL), reply.Session.ExpiresAt)

	// The session row records where the token was minted from.
	session, err := p.auth.GetSession(ctx, sessionID(t, p, reply.Session.Token))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", session.IPAddress)
	require.NotEmpty(t, session.UserAgent)

	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))
	re, err := clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.NoError(t, err)
	var sess SessionReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &sess))
	require.Equal(t, reply.UserID, sess.UserID)
	require.Equal(t, "alice@example.com", sess.Email)
	require.Equal(t, []string{authgate.UserRoleName}, sess.Roles)
	require.Equal(t, reply.Session.ExpiresAt, sess.ExpiresAt)

	// Log in again later with the same authenticator.
	p.clock.Advance(10 * time.Minute)
	login := p.loginPasskey(t, device)
	require.Equal(t, reply.UserID, login.UserID)
	require.Equal(t, "alice", login.DisplayName)
	require.Equal(t, p.clock.Now().UTC().Add(defaults.SessionTTL), login.Session.ExpiresAt)

	clt = p.client(t, roundtrip.BearerAuth(login.Session.Token))
	_, err = clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.NoError(t, err)
}

// sessionID extracts the session identifier of a minted token by
// validating it directly against the auth server.
func sessionID(t *testing.T, p *webPack, token string) string {
	t.Helper()
	identity, err := p.auth.ValidateSession(context.Background(), token)
	require.NoError(t, err)
	return identity.SessionID
}

func TestLoginBeginScopedToEmail(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()
	clt := p.client(t)

	p.registerPasskey(t, "alice@example.com")

	re, err := clt.PostJSON(ctx, clt.Endpoint("auth", "login", "begin"), loginBeginRequest{
		Email: "alice@example.com",
	})
	require.NoError(t, err)
	var options CeremonyOptions
	require.NoError(t, json.Unmarshal(re.Bytes(), &options))
	var assertion protocol.CredentialAssertion
	require.NoError(t, json.Unmarshal([]byte(options.OptionsJSON), &assertion))
	require.NotEmpty(t, assertion.Response.AllowedCredentials)

	// Unknown accounts and accounts without passkeys answer identically.
	_, err = clt.PostJSON(ctx, clt.Endpoint("auth", "login", "begin"), loginBeginRequest{
		Email: "ghost@example.com",
	})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "no passkey registered")
}

func TestAuthenticationRequired(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	clt := p.client(t)
	_, err := clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "no bearer token")

	clt = p.client(t, roundtrip.BasicAuth("alice", "hunter2"))
	_, err = clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "no bearer token")

	clt = p.client(t, roundtrip.BearerAuth("not-a-token"))
	_, err = clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
}

func TestLogout(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	re, err := clt.PostJSON(ctx, clt.Endpoint("auth", "logout"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, re.Code())

	// The token is dead from here on, including for another logout.
	_, err = clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "token revoked")

	_, err = clt.PostJSON(ctx, clt.Endpoint("auth", "logout"), nil)
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
}

func TestExpiredTokenRejected(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	p.clock.Advance(defaults.SessionTTL + time.Second)
	_, err := clt.Get(ctx, clt.Endpoint("auth", "session"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "token expired")
}

func TestCredentialLifecycle(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	first, _ := p.registerPasskey(t, "alice@example.com")
	second, _ := p.registerPasskey(t, "alice@example.com")
	require.Equal(t, first.UserID, second.UserID)

	clt := p.client(t, roundtrip.BearerAuth(second.Session.Token))

	re, err := clt.Get(ctx, clt.Endpoint("auth", "credentials"), url.Values{})
	require.NoError(t, err)
	var list CredentialsReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &list))
	require.Len(t, list.Credentials, 2)

	_, err = clt.PutJSON(ctx, clt.Endpoint("auth", "credentials", first.CredentialID), renameCredentialRequest{
		DeviceName: "old yubikey",
	})
	require.NoError(t, err)

	re, err = clt.Get(ctx, clt.Endpoint("auth", "credentials"), url.Values{})
	require.NoError(t, err)
	list = CredentialsReply{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &list))
	names := make([]string, 0, len(list.Credentials))
	for _, credential := range list.Credentials {
		names = append(names, credential.DeviceName)
	}
	require.Contains(t, names, "old yubikey")

	_, err = clt.Delete(ctx, clt.Endpoint("auth", "credentials", first.CredentialID))
	require.NoError(t, err)

	// The last passkey cannot be removed: that would lock the account.
	_, err = clt.Delete(ctx, clt.Endpoint("auth", "credentials", second.CredentialID))
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "cannot delete the last passkey")
}

func TestUpdateProfile(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	re, err := clt.PutJSON(ctx, clt.Endpoint("auth", "profile"), updateProfileRequest{
		DisplayName: "Alice Prime",
	})
	require.NoError(t, err)
	var user types.User
	require.NoError(t, json.Unmarshal(re.Bytes(), &user))
	require.Equal(t, "Alice Prime", user.DisplayName)

	_, err = clt.PutJSON(ctx, clt.Endpoint("auth", "profile"), updateProfileRequest{
		DisplayName: "   ",
	})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

func TestCheckPermission(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	// A new user holds the built-in user role.
	re, err := clt.Get(ctx, clt.Endpoint("authz", "check"), url.Values{"permission": {"user:profile"}})
	require.NoError(t, err)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "role:user grants user:profile", decision.Reason)

	// Denials are still 200: the check succeeded, the answer is no.
	re, err = clt.Get(ctx, clt.Endpoint("authz", "check"), url.Values{"permission": {"admin:users"}})
	require.NoError(t, err)
	decision = authz.Decision{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.False(t, decision.Allowed)
	require.Equal(t, authz.DenyReason, decision.Reason)

	_, err = clt.Get(ctx, clt.Endpoint("authz", "check"), url.Values{})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.ErrorContains(t, err, "permission")
}

func TestCheckPermissionAdminWildcard(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "root@example.com")
	require.NoError(t, p.auth.GrantUserRole(ctx, reply.UserID, authgate.AdminRoleName, storage.GrantParams{}))

	// The token predates the role assignment; decisions read the store.
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))
	re, err := clt.Get(ctx, clt.Endpoint("authz", "check"), url.Values{"permission": {"admin:users:create"}})
	require.NoError(t, err)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "role:admin grants admin:*", decision.Reason)
}

func TestCheckPermissionResourceGrant(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	permission, err := types.NewPermission("patient:read", "Read patient records")
	require.NoError(t, err)
	require.NoError(t, p.auth.CreatePermission(ctx, permission))
	require.NoError(t, p.auth.CreateResourceGrant(ctx, &types.ResourceGrant{
		UserID:       reply.UserID,
		ResourceType: "patient",
		ResourceID:   "patient-123",
		PermissionID: permission.ID,
	}))

	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))
	query := url.Values{
		"permission":   {"patient:read"},
		"resourceType": {"patient"},
		"resourceId":   {"patient-123"},
	}
	re, err := clt.Get(ctx, clt.Endpoint("authz", "check"), query)
	require.NoError(t, err)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "resource-grant for patient/patient-123", decision.Reason)

	query.Set("resourceId", "patient-456")
	re, err = clt.Get(ctx, clt.Endpoint("authz", "check"), query)
	require.NoError(t, err)
	decision = authz.Decision{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.False(t, decision.Allowed)
}

func TestEffectivePermissions(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	re, err := clt.Get(ctx, clt.Endpoint("authz", "permissions"), url.Values{})
	require.NoError(t, err)
	var perms PermissionsReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &perms))
	require.Equal(t, []authz.EffectivePermission{
		{Code: authgate.UserCredentialsPermission, Source: "role:user", Scope: types.GrantScopeAll},
		{Code: authgate.UserProfilePermission, Source: "role:user", Scope: types.GrantScopeAll},
	}, perms.Permissions)
}

func TestEvaluatePermissions(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	reply, _ := p.registerPasskey(t, "alice@example.com")
	clt := p.client(t, roundtrip.BearerAuth(reply.Session.Token))

	re, err := clt.PostJSON(ctx, clt.Endpoint("authz", "evaluate"), evaluateRequest{
		Checks: []authz.Check{
			{Permission: "user:profile"},
			{Permission: "admin:users"},
			{Permission: "user:credentials"},
		},
	})
	require.NoError(t, err)
	var evaluation EvaluateReply
	require.NoError(t, json.Unmarshal(re.Bytes(), &evaluation))
	require.Len(t, evaluation.Results, 3)
	require.Equal(t, "user:profile", evaluation.Results[0].Permission)
	require.True(t, evaluation.Results[0].Allowed)
	require.Equal(t, "admin:users", evaluation.Results[1].Permission)
	require.False(t, evaluation.Results[1].Allowed)
	require.Equal(t, "user:credentials", evaluation.Results[2].Permission)
	require.True(t, evaluation.Results[2].Allowed)

	// Empty input answers an empty list, not null.
	re, err = clt.PostJSON(ctx, clt.Endpoint("authz", "evaluate"), evaluateRequest{})
	require.NoError(t, err)
	evaluation = EvaluateReply{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &evaluation))
	require.NotNil(t, evaluation.Results)
	require.Empty(t, evaluation.Results)
}

func TestAdminFlow(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	root, _ := p.registerPasskey(t, "root@example.com")
	require.NoError(t, p.auth.GrantUserRole(ctx, root.UserID, authgate.AdminRoleName, storage.GrantParams{}))
	bob, _ := p.registerPasskey(t, "bob@example.com")

	admin := p.client(t, roundtrip.BearerAuth(root.Session.Token))
	user := p.client(t, roundtrip.BearerAuth(bob.Session.Token))

	// Plain users are turned away from the admin surface.
	_, err := user.Get(ctx, user.Endpoint("admin", "users"), url.Values{})
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
	require.ErrorContains(t, err, "access denied")

	re, err := admin.Get(ctx, admin.Endpoint("admin", "users"), url.Values{})
	require.NoError(t, err)
	var users struct {
		Items []*types.User `json:"items"`
	}
	require.NoError(t, json.Unmarshal(re.Bytes(), &users))
	require.Len(t, users.Items, 2)

	// Build an auditor role and put bob in it.
	re, err = admin.PostJSON(ctx, admin.Endpoint("admin", "roles"), createRoleRequest{
		Name:        "auditor",
		Description: "Read-only audit access",
	})
	require.NoError(t, err)
	var role types.Role
	require.NoError(t, json.Unmarshal(re.Bytes(), &role))
	require.NotEmpty(t, role.ID)
	require.False(t, role.System)

	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "permissions"), createPermissionRequest{
		Code:        "audit:read",
		Description: "Read audit events",
	})
	require.NoError(t, err)
	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "roles", "auditor", "permissions"), attachPermissionRequest{
		Code: "audit:read",
	})
	require.NoError(t, err)
	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "users", bob.UserID, "roles"), assignRoleRequest{
		Role: "auditor",
	})
	require.NoError(t, err)

	re, err = user.Get(ctx, user.Endpoint("authz", "check"), url.Values{"permission": {"audit:read"}})
	require.NoError(t, err)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "role:auditor grants audit:read", decision.Reason)

	// Unassigning takes effect on the next decision.
	_, err = admin.Delete(ctx, admin.Endpoint("admin", "users", bob.UserID, "roles", "auditor"))
	require.NoError(t, err)
	re, err = user.Get(ctx, user.Endpoint("authz", "check"), url.Values{"permission": {"audit:read"}})
	require.NoError(t, err)
	decision = authz.Decision{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.False(t, decision.Allowed)
}

func TestAdminGrants(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	root, _ := p.registerPasskey(t, "root@example.com")
	require.NoError(t, p.auth.GrantUserRole(ctx, root.UserID, authgate.AdminRoleName, storage.GrantParams{}))
	bob, _ := p.registerPasskey(t, "bob@example.com")

	admin := p.client(t, roundtrip.BearerAuth(root.Session.Token))
	user := p.client(t, roundtrip.BearerAuth(bob.Session.Token))

	_, err := admin.PostJSON(ctx, admin.Endpoint("admin", "permissions"), createPermissionRequest{
		Code: "report:print",
	})
	require.NoError(t, err)
	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "grants"), grantPermissionRequest{
		UserID: bob.UserID,
		Code:   "report:print",
		Reason: "quarterly reporting",
	})
	require.NoError(t, err)

	re, err := user.Get(ctx, user.Endpoint("authz", "check"), url.Values{"permission": {"report:print"}})
	require.NoError(t, err)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "direct grant: report:print", decision.Reason)

	// Per-resource grant via the API.
	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "permissions"), createPermissionRequest{
		Code: "patient:read",
	})
	require.NoError(t, err)
	re, err = admin.PostJSON(ctx, admin.Endpoint("admin", "resource-grants"), resourceGrantRequest{
		UserID:       bob.UserID,
		ResourceType: "patient",
		ResourceID:   "patient-123",
		Code:         "patient:read",
	})
	require.NoError(t, err)
	var grant types.ResourceGrant
	require.NoError(t, json.Unmarshal(re.Bytes(), &grant))
	require.NotEmpty(t, grant.ID)
	require.Equal(t, root.UserID, grant.GrantedBy)

	re, err = user.Get(ctx, user.Endpoint("authz", "check"), url.Values{
		"permission":   {"patient:read"},
		"resourceType": {"patient"},
		"resourceId":   {"patient-123"},
	})
	require.NoError(t, err)
	decision = authz.Decision{}
	require.NoError(t, json.Unmarshal(re.Bytes(), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "resource-grant for patient/patient-123", decision.Reason)

	// Unknown grantees read as missing records.
	_, err = admin.PostJSON(ctx, admin.Endpoint("admin", "grants"), grantPermissionRequest{
		UserID: "00000000-0000-0000-0000-000000000000",
		Code:   "report:print",
	})
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}

func TestHealthEndpoints(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()
	clt := p.client(t)

	// The versioned prefix routes to the same handlers.
	re, err := clt.Get(ctx, clt.Endpoint("healthz"), url.Values{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, re.Code())

	re, err = clt.Get(ctx, clt.Endpoint("readyz"), url.Values{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, re.Code())

	// Bare paths work without the version segment.
	resp, err := http.Get(p.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(p.server.URL + "/no/such/route")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

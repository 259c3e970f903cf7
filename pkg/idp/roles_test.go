package idp

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedAccessToken builds an HS256-signed token carrying Keycloak-style
// role claims. The role parser never verifies signatures, so any key works.
func signedAccessToken(t *testing.T, realmRoles []string, resourceRoles map[string][]string) string {
	t.Helper()

	resourceAccess := make(map[string]interface{}, len(resourceRoles))
	for resource, roles := range resourceRoles {
		resourceAccess[resource] = map[string]interface{}{"roles": roles}
	}

	claims := jwt.MapClaims{
		"sub":             "user-1",
		"exp":             time.Now().Add(time.Hour).Unix(),
		"realm_access":    map[string]interface{}{"roles": realmRoles},
		"resource_access": resourceAccess,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// authenticatedClient returns a client holding the given access token, as if
// a callback had completed.
func authenticatedClient(t *testing.T, accessToken string) *Client {
	t.Helper()

	client, err := New(validConfig(), testLogger(), nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.authenticated = true
	client.tokens = tokenPair{accessToken: accessToken}
	client.mu.Unlock()
	return client
}

func TestRolesRealmAndResource(t *testing.T) {
	token := signedAccessToken(t,
		[]string{"admin", "user"},
		map[string][]string{
			"portal-frontend": {"editor"},
			"reporting":       {"viewer"},
		},
	)
	client := authenticatedClient(t, token)

	assert.ElementsMatch(t, []string{"admin", "user"}, client.Roles(""))
	assert.Equal(t, []string{"editor"}, client.Roles("portal-frontend"))
	assert.Equal(t, []string{"viewer"}, client.Roles("reporting"))
	assert.Nil(t, client.Roles("unknown-resource"))

	// ClientRoles selects this client's own resource.
	assert.Equal(t, []string{"editor"}, client.ClientRoles())

	all := client.ResourceRoles()
	require.Len(t, all, 2)
	assert.Equal(t, []string{"editor"}, all["portal-frontend"])
	assert.Equal(t, []string{"viewer"}, all["reporting"])
}

func TestRolesUnauthenticated(t *testing.T) {
	client, err := New(validConfig(), testLogger(), nil)
	require.NoError(t, err)

	assert.Nil(t, client.Roles(""))
	assert.Nil(t, client.ClientRoles())
	assert.Nil(t, client.ResourceRoles())
}

func TestRolesMalformedToken(t *testing.T) {
	client := authenticatedClient(t, "not-a-jwt")

	assert.Nil(t, client.Roles(""))
	assert.Nil(t, client.ResourceRoles())
}

func TestRolesTokenWithoutRoleClaims(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	client := authenticatedClient(t, token)
	assert.Empty(t, client.Roles(""))
	assert.Nil(t, client.ResourceRoles())
}

package idp

import (
	"github.com/golang-jwt/jwt/v5"
)

// accessTokenClaims carries the Keycloak-style role claims the gateway
// reads from its own access token. The token is treated as opaque for every
// other purpose.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// Roles returns the role claims carried by the current access token.
// An empty resource selects realm-level roles; otherwise the roles granted
// for that resource (client) are returned. Unauthenticated sessions and
// malformed tokens yield an empty set; this never fails.
//
// The parse is deliberately unverified: the token was issued to this client
// by the provider whose ID token was verified at login, and the backend
// re-verifies the signature on every request.
func (c *Client) Roles(resource string) []string {
	token, ok := c.AccessToken()
	if !ok {
		return nil
	}

	claims := &accessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		c.logger.WithError(err).Warn("Failed to parse role claims from access token")
		return nil
	}

	if resource == "" {
		return append([]string(nil), claims.RealmAccess.Roles...)
	}
	if access, ok := claims.ResourceAccess[resource]; ok {
		return append([]string(nil), access.Roles...)
	}
	return nil
}

// ClientRoles returns the roles granted for this client's own resource
func (c *Client) ClientRoles() []string {
	return c.Roles(c.config.ClientID)
}

// ResourceRoles returns every resource-scoped role set on the current
// access token, keyed by resource identifier.
func (c *Client) ResourceRoles() map[string][]string {
	token, ok := c.AccessToken()
	if !ok {
		return nil
	}

	claims := &accessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	if len(claims.ResourceAccess) == 0 {
		return nil
	}
	out := make(map[string][]string, len(claims.ResourceAccess))
	for resource, access := range claims.ResourceAccess {
		out[resource] = append([]string(nil), access.Roles...)
	}
	return out
}

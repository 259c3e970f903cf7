package idp

import (
	"fmt"
	"time"
)

// Config holds identity provider client configuration
type Config struct {
	IssuerURL    string   `json:"issuer_url"` // Discovery endpoint
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"` // Never expose secret in JSON
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`

	// RefreshInterval is the fixed period of the background refresher. It
	// must be shorter than MinTokenValidity so the token is renewed before
	// the validity margin is consumed.
	RefreshInterval time.Duration `json:"refresh_interval"`

	// MinTokenValidity is the validity margin below which a refresh is
	// actually performed; above it Refresh is a no-op.
	MinTokenValidity time.Duration `json:"min_token_validity"`
}

// Validate validates the identity provider configuration
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required")
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	if c.MinTokenValidity <= 0 {
		return fmt.Errorf("min_token_validity must be positive")
	}
	if c.RefreshInterval >= c.MinTokenValidity {
		return fmt.Errorf("refresh_interval must be shorter than min_token_validity")
	}

	return nil
}

// Profile is the identity snapshot fetched from the provider's userinfo
// endpoint at the time of the last derivation.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// tokenPair is the raw token pair owned exclusively by the Client. Callers
// only ever receive copies of the token strings.
type tokenPair struct {
	accessToken  string
	refreshToken string
	expiry       time.Time
}

func (t tokenPair) empty() bool {
	return t.accessToken == ""
}

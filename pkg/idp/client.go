package idp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/portalgate/portalgate/pkg/observability"
)

// stateTTL bounds how long a pending login state is honored
const stateTTL = 10 * time.Minute

// Client is the identity provider adapter. It owns the token pair and the
// raw handshake with the provider; the session layer derives application
// state from it and registers for authenticated-state change notifications.
type Client struct {
	config  *Config
	logger  *observability.Logger
	metrics *observability.Metrics

	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth2Config  *oauth2.Config
	endSessionURL string

	mu            sync.RWMutex
	authenticated bool
	tokens        tokenPair
	onChange      func(authenticated bool)
	states        map[string]pendingState

	refresherMu sync.Mutex
	refresher   *refresher

	refreshFlight singleflight.Group

	now func() time.Time
}

// pendingState tracks an outstanding login/registration state parameter
type pendingState struct {
	returnTarget string
	createdAt    time.Time
}

// New creates a new identity provider client. No network calls happen until
// Initialize.
func New(config *Config, logger *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("identity config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Client{
		config:  config,
		logger:  logger,
		metrics: metrics,
		states:  make(map[string]pendingState),
		now:     time.Now,
	}, nil
}

// SetOnChange registers the authenticated-state change callback. It must be
// registered before Initialize; only one consumer (the session manager) is
// supported.
func (c *Client) SetOnChange(fn func(authenticated bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Initialize performs OIDC discovery against the configured issuer. On
// failure it returns a wrapped ErrInitialization; the caller is expected to
// proceed in an unauthenticated state rather than fail the application.
func (c *Client) Initialize(ctx context.Context) (bool, error) {
	provider, err := oidc.NewProvider(ctx, c.config.IssuerURL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	c.provider = provider
	c.verifier = provider.Verifier(&oidc.Config{ClientID: c.config.ClientID})
	c.oauth2Config = &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  c.config.RedirectURL,
		Scopes:       c.config.Scopes,
	}

	// end_session_endpoint is not part of the minimal discovery set go-oidc
	// maps, so pull it out of the raw discovery document.
	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err == nil {
		c.endSessionURL = discovery.EndSessionEndpoint
	}

	c.logger.WithField("issuer", c.config.IssuerURL).Info("Identity provider discovery complete")
	return c.IsAuthenticated(), nil
}

// IsAuthenticated reports the last-known authentication state. It never
// performs a network call.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// AccessToken returns a copy of the current access token string
func (c *Client) AccessToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated || c.tokens.empty() {
		return "", false
	}
	return c.tokens.accessToken, true
}

// RefreshTokenValue returns a copy of the current refresh token string
func (c *Client) RefreshTokenValue() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.authenticated || c.tokens.refreshToken == "" {
		return "", false
	}
	return c.tokens.refreshToken, true
}

// Ready reports whether provider discovery has completed. Until then the
// login, registration, and callback operations fail with ErrInitialization.
func (c *Client) Ready() bool {
	return c.oauth2Config != nil
}

// LoginURL builds the authorization-code login URL for the user agent,
// recording the return target against a fresh state parameter.
func (c *Client) LoginURL(returnTarget string) (string, error) {
	if !c.Ready() {
		return "", ErrInitialization
	}
	state := c.newState(returnTarget)
	return c.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// RegisterURL builds the provider registration URL. Keycloak exposes
// registration beside the authorization endpoint.
func (c *Client) RegisterURL(returnTarget string) (string, error) {
	if !c.Ready() {
		return "", ErrInitialization
	}
	state := c.newState(returnTarget)
	cfg := *c.oauth2Config
	if strings.HasSuffix(cfg.Endpoint.AuthURL, "/auth") {
		cfg.Endpoint.AuthURL = strings.TrimSuffix(cfg.Endpoint.AuthURL, "/auth") + "/registrations"
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// HandleCallback completes the authorization-code flow: it validates the
// state, exchanges the code, verifies the ID token, stores the token pair,
// flips the authenticated state, and starts the background refresher. It
// returns the original return target recorded at login time.
//
// The change notification fires on every successful callback, not just the
// unauthenticated-to-authenticated transition: a second code flow (for
// example through the registration route) replaces the token pair, and the
// session must be re-derived against it.
func (c *Client) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if !c.Ready() {
		return "", ErrInitialization
	}
	returnTarget, ok := c.consumeState(state)
	if !ok {
		return "", ErrInvalidState
	}
	if code == "" {
		return "", fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("missing id_token in response")
	}
	if _, err := c.verifier.Verify(ctx, rawIDToken); err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	c.mu.Lock()
	c.tokens = tokenPair{
		accessToken:  oauth2Token.AccessToken,
		refreshToken: oauth2Token.RefreshToken,
		expiry:       oauth2Token.Expiry,
	}
	c.authenticated = true
	onChange := c.onChange
	c.mu.Unlock()

	c.startRefresher()
	c.setAuthenticatedGauge(true)
	if onChange != nil {
		onChange(true)
	}

	c.logger.Info("Authentication complete")
	return returnTarget, nil
}

// Logout clears the token pair, fires the unauthenticated notification
// before any redirect can happen, and stops the background refresher. A
// second logout is a no-op apart from returning the redirect URL again.
func (c *Client) Logout(redirectTarget string) string {
	c.mu.Lock()
	wasAuthenticated := c.authenticated
	c.authenticated = false
	c.tokens = tokenPair{}
	onChange := c.onChange
	c.mu.Unlock()

	c.stopRefresher()

	if wasAuthenticated {
		c.setAuthenticatedGauge(false)
		if onChange != nil {
			onChange(false)
		}
		c.logger.Info("Logged out")
	}

	return c.logoutURL(redirectTarget)
}

// Refresh renews the access token when it is within minValidity of expiry.
// A zero minValidity forces the refresh. When the remote call fails the
// adapter takes the same path as an explicit logout and returns a wrapped
// ErrRefresh.
//
// Concurrent callers collapse into a single grant: providers that rotate
// the refresh token on use would otherwise invalidate parallel grants and
// force a spurious logout.
func (c *Client) Refresh(ctx context.Context, minValidity time.Duration) (bool, error) {
	c.mu.RLock()
	authenticated := c.authenticated
	tokens := c.tokens
	c.mu.RUnlock()

	if !authenticated || tokens.empty() {
		return false, nil
	}

	if minValidity > 0 && !tokens.expiry.IsZero() && c.now().Add(minValidity).Before(tokens.expiry) {
		c.recordRefresh("skipped")
		return false, nil
	}

	result, err, _ := c.refreshFlight.Do("refresh", func() (interface{}, error) {
		return c.refreshGrant(ctx, tokens.accessToken)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// refreshGrant runs the refresh-token grant. staleToken is the access token
// the caller observed; when it no longer matches, an earlier flight already
// rotated the pair and no grant is needed.
func (c *Client) refreshGrant(ctx context.Context, staleToken string) (bool, error) {
	c.mu.RLock()
	authenticated := c.authenticated
	tokens := c.tokens
	c.mu.RUnlock()

	if !authenticated || tokens.empty() {
		return false, nil
	}
	if tokens.accessToken != staleToken {
		return true, nil
	}

	if tokens.refreshToken == "" {
		c.recordRefresh("failed")
		c.Logout("")
		return false, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	src := c.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.refreshToken})
	newToken, err := src.Token()
	if err != nil {
		c.recordRefresh("failed")
		c.logger.WithError(err).Error("Token refresh failed")
		// No stale tokens survive a failed refresh.
		c.Logout("")
		return false, fmt.Errorf("%w: %v", ErrRefresh, err)
	}

	c.mu.Lock()
	if !c.authenticated {
		// Logged out while the refresh was in flight; drop the new token.
		c.mu.Unlock()
		return false, nil
	}
	c.tokens.accessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		c.tokens.refreshToken = newToken.RefreshToken
	}
	c.tokens.expiry = newToken.Expiry
	c.mu.Unlock()

	c.recordRefresh("refreshed")
	c.logger.Debug("Token refreshed")
	return true, nil
}

// Profile fetches the identity snapshot from the provider's userinfo
// endpoint. It requires an authenticated session; the remote call may fail
// and the caller decides how to degrade.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	token, ok := c.AccessToken()
	if !ok {
		return Profile{}, ErrNotAuthenticated
	}

	userInfo, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to fetch user profile: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}
	if err := userInfo.Claims(&claims); err != nil {
		return Profile{}, fmt.Errorf("failed to parse userinfo claims: %w", err)
	}

	profile := Profile{
		ID:        claims.Sub,
		Username:  claims.PreferredUsername,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	}

	// Use email as fallback for username
	if profile.Username == "" && profile.Email != "" {
		profile.Username = profile.Email
	}
	if profile.ID == "" {
		return Profile{}, fmt.Errorf("missing subject in userinfo response")
	}

	return profile, nil
}

// newState records a fresh state parameter mapped to the return target
func (c *Client) newState(returnTarget string) string {
	state := uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	for s, pending := range c.states {
		if c.now().Sub(pending.createdAt) > stateTTL {
			delete(c.states, s)
		}
	}
	c.states[state] = pendingState{returnTarget: returnTarget, createdAt: c.now()}
	return state
}

// consumeState validates and removes a state parameter
func (c *Client) consumeState(state string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.states[state]
	if !ok {
		return "", false
	}
	delete(c.states, state)
	if c.now().Sub(pending.createdAt) > stateTTL {
		return "", false
	}
	return pending.returnTarget, true
}

// logoutURL builds the RP-initiated logout URL when the provider advertises
// an end_session_endpoint; otherwise the redirect target is returned as-is.
func (c *Client) logoutURL(redirectTarget string) string {
	if c.endSessionURL == "" {
		return redirectTarget
	}

	query := url.Values{}
	query.Set("client_id", c.config.ClientID)
	if redirectTarget != "" {
		query.Set("post_logout_redirect_uri", redirectTarget)
	}
	return c.endSessionURL + "?" + query.Encode()
}

func (c *Client) recordRefresh(result string) {
	if c.metrics != nil {
		c.metrics.TokenRefreshTotal.WithLabelValues(result).Inc()
	}
}

func (c *Client) setAuthenticatedGauge(authenticated bool) {
	if c.metrics == nil {
		return
	}
	if authenticated {
		c.metrics.SessionAuthenticated.Set(1)
	} else {
		c.metrics.SessionAuthenticated.Set(0)
	}
}

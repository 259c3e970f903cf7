package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalgate/portalgate/pkg/guard"
	"github.com/portalgate/portalgate/pkg/idp"
	"github.com/portalgate/portalgate/pkg/navigation"
	"github.com/portalgate/portalgate/pkg/observability"
	"github.com/portalgate/portalgate/pkg/session"
	"github.com/portalgate/portalgate/pkg/users"
)

// stubAdapter drives the session manager in handler tests
type stubAdapter struct {
	onChange      func(bool)
	authenticated bool
	realmRoles    []string
}

func (s *stubAdapter) Initialize(ctx context.Context) (bool, error) { return s.authenticated, nil }
func (s *stubAdapter) SetOnChange(fn func(bool))                    { s.onChange = fn }
func (s *stubAdapter) IsAuthenticated() bool                        { return s.authenticated }

func (s *stubAdapter) AccessToken() (string, bool) {
	if !s.authenticated {
		return "", false
	}
	return "token-1", true
}

func (s *stubAdapter) RefreshTokenValue() (string, bool) {
	if !s.authenticated {
		return "", false
	}
	return "refresh-1", true
}

func (s *stubAdapter) Refresh(ctx context.Context, minValidity time.Duration) (bool, error) {
	return false, nil
}

func (s *stubAdapter) Profile(ctx context.Context) (idp.Profile, error) {
	if !s.authenticated {
		return idp.Profile{}, errors.New("not authenticated")
	}
	return idp.Profile{ID: "user-1", Username: "jdoe", Email: "jdoe@example.com"}, nil
}

func (s *stubAdapter) Roles(resource string) []string {
	if !s.authenticated || resource != "" {
		return nil
	}
	return s.realmRoles
}

func (s *stubAdapter) ResourceRoles() map[string][]string { return nil }

func (s *stubAdapter) Logout(redirectTarget string) string {
	was := s.authenticated
	s.authenticated = false
	if was && s.onChange != nil {
		s.onChange(false)
	}
	return "https://id.example.com/logout?client_id=portal-frontend"
}

func (s *stubAdapter) login() {
	was := s.authenticated
	s.authenticated = true
	if !was && s.onChange != nil {
		s.onChange(true)
	}
}

// stubIdentity scripts the login/registration/callback surface
type stubIdentity struct {
	urlErr         error
	callbackTarget string
	callbackErr    error
}

func (s *stubIdentity) LoginURL(returnTarget string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://id.example.com/auth?state=abc&target=" + returnTarget, nil
}

func (s *stubIdentity) RegisterURL(returnTarget string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://id.example.com/registrations?state=abc&target=" + returnTarget, nil
}

func (s *stubIdentity) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if s.callbackErr != nil {
		return "", s.callbackErr
	}
	return s.callbackTarget, nil
}

type fixture struct {
	adapter  *stubAdapter
	identity *stubIdentity
	sessions *session.Manager
	bus      *navigation.Bus
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	adapter := &stubAdapter{realmRoles: []string{"user"}}
	sessions := session.NewManager(adapter, logger, nil)
	identity := &stubIdentity{}
	bus := navigation.NewBus()

	userService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users":
			_ = json.NewEncoder(w).Encode(users.Page[users.User]{
				Content:       []users.User{{ID: "user-1", Username: "jdoe"}},
				TotalElements: 1, TotalPages: 1, Size: 10,
			})
		case "/users/me", "/users/user-1":
			_ = json.NewEncoder(w).Encode(users.User{ID: "user-1", Username: "jdoe"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(userService.Close)

	usersClient, err := users.NewClient(userService.Client(), userService.URL, logger, nil)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Handlers: NewHandlers(sessions, identity, usersClient, bus, logger),
		Guard:    guard.New(sessions, logger, nil),
		Logger:   logger,
	})

	return &fixture{
		adapter:  adapter,
		identity: identity,
		sessions: sessions,
		bus:      bus,
		router:   router,
	}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHomePublic(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "home", body["page"])
	assert.Equal(t, false, body["authenticated"])
}

func TestLoginRedirectsToProvider(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/login?returnUrl=/users")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://id.example.com/auth?state=abc&target=/users", rec.Header().Get("Location"))
}

func TestLoginDefaultsReturnTargetToLanding(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/login")
	assert.Equal(t, "https://id.example.com/auth?state=abc&target="+guard.DefaultLandingPath,
		rec.Header().Get("Location"))
}

func TestLoginWhenAlreadyAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/login")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, guard.DefaultLandingPath, rec.Header().Get("Location"))
}

func TestLoginUnavailableBeforeDiscovery(t *testing.T) {
	f := newFixture(t)
	f.identity.urlErr = idp.ErrInitialization

	// Provider discovery never completed; fail closed instead of panicking.
	rec := f.get("/login")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.get("/register")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRegisterRedirectsToProvider(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/register")
	assert.Contains(t, rec.Header().Get("Location"), "/registrations")
}

func TestCallbackRedirectsToReturnTarget(t *testing.T) {
	f := newFixture(t)
	f.identity.callbackTarget = "/users?page=2"

	rec := f.get("/callback?state=abc&code=good")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/users?page=2", rec.Header().Get("Location"))
}

func TestCallbackDefaultsToLanding(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/callback?state=abc&code=good")
	assert.Equal(t, guard.DefaultLandingPath, rec.Header().Get("Location"))
}

func TestCallbackInvalidState(t *testing.T) {
	f := newFixture(t)
	f.identity.callbackErr = idp.ErrInvalidState

	rec := f.get("/callback?state=stale&code=good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackUnavailableBeforeDiscovery(t *testing.T) {
	f := newFixture(t)
	f.identity.callbackErr = idp.ErrInitialization

	rec := f.get("/callback?state=abc&code=good")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.identity.callbackErr = errors.New("exchange failed")

	rec := f.get("/callback?state=abc&code=bad")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLogoutRedirectsToProvider(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/logout")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "https://id.example.com/logout")
	assert.False(t, f.sessions.Current().Authenticated)
}

func TestSessionEndpointCarriesNavigationIntent(t *testing.T) {
	f := newFixture(t)
	f.bus.ToLogin("/users")

	rec := f.get("/session")
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "navigate")

	// The intent is consumed; a second poll carries none.
	rec = f.get("/session")
	body = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "navigate")
}

func TestDashboardRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/dashboard")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?returnUrl=%2Fdashboard", rec.Header().Get("Location"))
}

func TestDashboardAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/dashboard")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dashboard", body["page"])
}

func TestProfileMergesAccountRecord(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/profile")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "user")
	assert.Contains(t, body, "account")
}

func TestUsersListing(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/users?page=0&size=10")
	assert.Equal(t, http.StatusOK, rec.Code)

	var page users.Page[users.User]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, "jdoe", page.Content[0].Username)
}

func TestUserDetails(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	rec := f.get("/users/user-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var user users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "user-1", user.ID)
}

func TestAdminRequiresRole(t *testing.T) {
	f := newFixture(t)
	f.adapter.login()

	// Authenticated but without the admin role: landing, not login.
	rec := f.get("/admin")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, guard.DefaultLandingPath, rec.Header().Get("Location"))
}

func TestAdminAllowedWithRole(t *testing.T) {
	f := newFixture(t)
	f.adapter.realmRoles = []string{"user", "admin"}
	f.adapter.login()

	rec := f.get("/admin")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

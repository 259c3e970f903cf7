// Package web serves the gateway's page surface: the public home and login
// entry points, the OIDC callback, and the role-gated pages backed by the
// user service.
package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/portalgate/portalgate/pkg/guard"
	"github.com/portalgate/portalgate/pkg/httputil"
	"github.com/portalgate/portalgate/pkg/idp"
	"github.com/portalgate/portalgate/pkg/navigation"
	"github.com/portalgate/portalgate/pkg/observability"
	"github.com/portalgate/portalgate/pkg/session"
	"github.com/portalgate/portalgate/pkg/users"
)

// Identity is the slice of the identity client the page surface needs.
// The URL builders fail until provider discovery has completed; handlers
// fail closed with a 503 rather than panicking on a degraded boot.
type Identity interface {
	LoginURL(returnTarget string) (string, error)
	RegisterURL(returnTarget string) (string, error)
	HandleCallback(ctx context.Context, state, code string) (string, error)
}

// Handlers holds the page handlers and their collaborators
type Handlers struct {
	sessions  *session.Manager
	identity  Identity
	users     *users.Client
	navigator *navigation.Bus
	logger    *observability.Logger
}

// NewHandlers creates the page handlers
func NewHandlers(sessions *session.Manager, identity Identity, usersClient *users.Client, navigator *navigation.Bus, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		sessions:  sessions,
		identity:  identity,
		users:     usersClient,
		navigator: navigator,
		logger:    logger,
	}
}

// Home serves the public landing page
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Current()
	httputil.WriteSuccess(w, map[string]interface{}{
		"page":          "home",
		"authenticated": sess.Authenticated,
	})
}

// Login starts the login flow, carrying the return target through the
// provider round trip.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Current().Authenticated {
		http.Redirect(w, r, guard.DefaultLandingPath, http.StatusFound)
		return
	}
	returnURL := httputil.ParseQueryString(r, "returnUrl", guard.DefaultLandingPath)

	loginURL, err := h.identity.LoginURL(returnURL)
	if err != nil {
		h.logger.WithError(err).Error("Login unavailable")
		httputil.WriteServiceUnavailable(w, "login is temporarily unavailable")
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// Register starts the provider registration flow
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	returnURL := httputil.ParseQueryString(r, "returnUrl", guard.DefaultLandingPath)

	registerURL, err := h.identity.RegisterURL(returnURL)
	if err != nil {
		h.logger.WithError(err).Error("Registration unavailable")
		httputil.WriteServiceUnavailable(w, "registration is temporarily unavailable")
		return
	}
	http.Redirect(w, r, registerURL, http.StatusFound)
}

// Callback completes the authorization-code flow and sends the user back to
// the page they originally requested.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	returnTarget, err := h.identity.HandleCallback(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, idp.ErrInvalidState) {
			httputil.WriteBadRequest(w, "invalid state parameter")
			return
		}
		if errors.Is(err, idp.ErrInitialization) {
			httputil.WriteServiceUnavailable(w, "authentication is temporarily unavailable")
			return
		}
		h.logger.WithError(err).Error("Authentication callback failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "authentication failed")
		return
	}

	if returnTarget == "" {
		returnTarget = guard.DefaultLandingPath
	}
	http.Redirect(w, r, returnTarget, http.StatusFound)
}

// Logout invalidates the session and redirects to the provider logout
// endpoint, which returns to the home page.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	target := h.sessions.Logout(httputil.ParseQueryString(r, "redirect", ""))
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Session reports the current session state plus any pending navigation
// intent emitted by the request pipeline.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"session": h.sessions.Current(),
	}
	if h.navigator != nil {
		if intent, ok := h.navigator.Consume(); ok {
			payload["navigate"] = intent
		}
	}
	httputil.WriteSuccess(w, payload)
}

// Dashboard serves the default authenticated landing page
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess, _ := guard.SessionFromContext(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"page":        "dashboard",
		"user":        sess.Identity,
		"realm_roles": sess.RealmRoles,
	})
}

// Profile serves the current user's profile, merging the session identity
// with the user-service record.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	sess, _ := guard.SessionFromContext(r.Context())

	me, err := h.users.Me(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Profile lookup failed; serving session identity only")
		httputil.WriteSuccess(w, map[string]interface{}{
			"page": "profile",
			"user": sess.Identity,
		})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"page":    "profile",
		"user":    sess.Identity,
		"account": me,
	})
}

// Users serves the paginated user listing
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParseQueryInt(r, "page", 0)
	size := httputil.ParseQueryInt(r, "size", 10)
	sortBy := httputil.ParseQueryString(r, "sort", "createdAt")

	result, err := h.users.List(r.Context(), page, size, sortBy)
	if err != nil {
		h.logger.WithError(err).Error("User listing failed")
		httputil.WriteBadGateway(w, "user service unavailable")
		return
	}
	httputil.WriteSuccess(w, result)
}

// UserDetails serves a single user record by id
func (h *Handlers) UserDetails(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if id == "" {
		httputil.WriteBadRequest(w, "user id is required")
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("User lookup failed")
		httputil.WriteBadGateway(w, "user service unavailable")
		return
	}
	httputil.WriteSuccess(w, user)
}

// Admin serves the admin page
func (h *Handlers) Admin(w http.ResponseWriter, r *http.Request) {
	sess, _ := guard.SessionFromContext(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"page": "admin",
		"user": sess.Identity,
	})
}

// Healthz reports liveness
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

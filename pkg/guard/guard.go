// Package guard provides route access control middleware. Gates are
// synchronous against the current session snapshot; no network calls happen
// inside a gate.
package guard

import (
	"context"
	"net/http"
	"net/url"

	"github.com/portalgate/portalgate/pkg/contextkeys"
	"github.com/portalgate/portalgate/pkg/observability"
	"github.com/portalgate/portalgate/pkg/session"
)

// Default navigation targets, matching the page routes
const (
	DefaultLoginPath   = "/login"
	DefaultLandingPath = "/dashboard"
)

// SessionSource supplies the session snapshot gates decide on.
// *session.Manager satisfies it.
type SessionSource interface {
	Current() session.Session
}

// Guard gates navigation based on the session state
type Guard struct {
	sessions    SessionSource
	logger      *observability.Logger
	metrics     *observability.Metrics
	loginPath   string
	landingPath string
}

// New creates a guard with the default login and landing paths
func New(sessions SessionSource, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Guard{
		sessions:    sessions,
		logger:      logger,
		metrics:     metrics,
		loginPath:   DefaultLoginPath,
		landingPath: DefaultLandingPath,
	}
}

// RequireAuth allows authenticated sessions through and redirects everyone
// else to the login entry point, carrying the originally requested path as
// the return target.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := g.sessions.Current()
		if !sess.Authenticated {
			g.record("auth", "login_redirect")
			g.redirectToLogin(w, r)
			return
		}

		g.record("auth", "allowed")
		next.ServeHTTP(w, r.WithContext(g.withSession(r, sess)))
	})
}

// RequireRoles applies the authenticated gate first, then requires at least
// one of the given roles. An authenticated session without the role is sent
// to the default landing page, not to login; that distinguishes "not logged
// in" from "logged in but insufficient privilege".
func (g *Guard) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := g.sessions.Current()
			if !sess.Authenticated {
				g.record("role", "login_redirect")
				g.redirectToLogin(w, r)
				return
			}

			if !sess.HasAnyRole(roles...) {
				g.record("role", "landing_redirect")
				g.logger.WithField("path", r.URL.Path).
					WithField("subject", sess.Identity.ID).
					Warn("Insufficient role for route")
				http.Redirect(w, r, g.landingPath, http.StatusFound)
				return
			}

			g.record("role", "allowed")
			next.ServeHTTP(w, r.WithContext(g.withSession(r, sess)))
		})
	}
}

func (g *Guard) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	query := url.Values{}
	query.Set("returnUrl", r.URL.RequestURI())
	http.Redirect(w, r, g.loginPath+"?"+query.Encode(), http.StatusFound)
}

// withSession stashes the gated session snapshot and subject in the request
// context for page handlers and logging.
func (g *Guard) withSession(r *http.Request, sess session.Session) context.Context {
	ctx := contextkeys.WithSession(r.Context(), sess)
	if sess.Identity != nil {
		ctx = contextkeys.WithSubject(ctx, sess.Identity.ID)
		ctx = observability.WithSubject(ctx, sess.Identity.ID)
	}
	return ctx
}

// SessionFromContext returns the session snapshot a guard stored on the
// request context, if any.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(contextkeys.SessionKey).(session.Session)
	return sess, ok
}

func (g *Guard) record(gate, decision string) {
	if g.metrics != nil {
		g.metrics.GuardDecisionsTotal.WithLabelValues(gate, decision).Inc()
	}
}

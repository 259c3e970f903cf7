package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/portalgate/portalgate/pkg/guard"
	"github.com/portalgate/portalgate/pkg/httputil"
	"github.com/portalgate/portalgate/pkg/observability"
)

// RouterConfig wires the route tree
type RouterConfig struct {
	Handlers *Handlers
	Guard    *guard.Guard
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// AdminRoles gates the admin page; defaults to the realm admin role
	AdminRoles []string
}

// NewRouter builds the page router. Public routes carry no gate; everything
// in the authenticated section goes through the guard so handlers can rely
// on the session snapshot being present in the request context.
func NewRouter(cfg RouterConfig) *mux.Router {
	h := cfg.Handlers
	g := cfg.Guard

	adminRoles := cfg.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = []string{"admin"}
	}

	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(cfg.Logger))
	router.Use(httputil.RecoveryMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(metricsMiddleware(cfg.Metrics))
	}

	// Public routes
	router.HandleFunc("/", h.Home).Methods(http.MethodGet)
	router.HandleFunc("/login", h.Login).Methods(http.MethodGet)
	router.HandleFunc("/register", h.Register).Methods(http.MethodGet)
	router.HandleFunc("/callback", h.Callback).Methods(http.MethodGet)
	router.HandleFunc("/logout", h.Logout).Methods(http.MethodGet)
	router.HandleFunc("/session", h.Session).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	// Authenticated routes
	router.Handle("/dashboard", g.RequireAuth(http.HandlerFunc(h.Dashboard))).Methods(http.MethodGet)
	router.Handle("/profile", g.RequireAuth(http.HandlerFunc(h.Profile))).Methods(http.MethodGet)
	router.Handle("/users", g.RequireAuth(http.HandlerFunc(h.Users))).Methods(http.MethodGet)
	router.Handle("/users/{id}", g.RequireAuth(http.HandlerFunc(h.UserDetails))).Methods(http.MethodGet)

	// Role-gated routes
	router.Handle("/admin", g.RequireRoles(adminRoles...)(http.HandlerFunc(h.Admin))).Methods(http.MethodGet)

	if cfg.Registry != nil {
		router.Handle("/metrics", observability.Handler(cfg.Registry)).Methods(http.MethodGet)
	}

	return router
}

// metricsMiddleware instruments each request under its route template, so
// /users/{id} stays a single label value.
func metricsMiddleware(m *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			m.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}

// pathVar extracts a mux path variable
func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

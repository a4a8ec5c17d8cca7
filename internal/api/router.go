// Package api contains the Chi router and all HTTP handlers.
// Handlers never call the SSO or ESI directly; they go through the auth,
// account and corp packages. The router optionally serves the external
// frontend's static files alongside the JSON API.
//
// Middleware stack: RequestID, RealIP, access log, Recoverer, CORS,
// Content-Type: application/json (API routes only), per-IP rate limit
// (/auth routes only).
package api

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/account"
	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/corp"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/session"
)

// ForceSweeper triggers an immediate housekeeping cycle.
type ForceSweeper interface {
	ForceSweep()
}

// Options wires the router. Sweeper and WebRoot may be nil.
type Options struct {
	Auth         *auth.Service
	Accounts     *account.Service
	Registry     *corp.Registry
	Sessions     *session.Manager
	Cookies      sessions.Store
	CallbackPath string
	// RequestsPerMinute limits /auth per client IP. Zero disables the limit.
	RequestsPerMinute int
	Sweeper           ForceSweeper
	WebRoot           fs.FS
	Logger            *zap.Logger
}

type router struct {
	auth     *auth.Service
	accounts *account.Service
	registry *corp.Registry
	sessions *session.Manager
	cookies  sessions.Store
	sweeper  ForceSweeper
	logger   *zap.Logger
}

// NewRouter assembles the Chi router with all middleware and routes.
func NewRouter(o Options) http.Handler {
	r := &router{
		auth:     o.Auth,
		accounts: o.Accounts,
		registry: o.Registry,
		sessions: o.Sessions,
		cookies:  o.Cookies,
		sweeper:  o.Sweeper,
		logger:   logging.OrNop(o.Logger).Named("api"),
	}

	callbackPath := o.CallbackPath
	if callbackPath == "" {
		callbackPath = "/auth/eve/callback"
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(accessLog(r.logger))
	mux.Use(middleware.Recoverer)
	mux.Use(corsMiddleware)

	limiter := newRateLimiter(o.RequestsPerMinute)

	mux.Group(func(g chi.Router) {
		g.Use(limiter.middleware)
		g.Get("/auth/eve/login", r.handleLogin)
		g.Get(callbackPath, r.handleCallback)
		g.Post("/auth/login/manual", r.handleManualLogin)
		g.Post("/auth/refresh", r.handleRefresh)
		g.Post("/auth/logout", r.handleLogout)
	})

	mux.Route("/api", func(api chi.Router) {
		api.Use(jsonContentType)
		api.Use(r.requireUser)

		api.Get("/me", r.handleMe)

		api.Group(func(g chi.Router) {
			g.Use(requirePermission(canManageCorporations))
			g.Get("/corporations", r.handleListCorporations)
			g.Post("/corporations", r.handleRegisterCorporation)
			g.Delete("/corporations/{id}", r.handleDeactivateCorporation)
			g.Post("/corporations/{id}/activate", r.handleActivateCorporation)
		})

		api.With(requirePermission(canViewMembers)).Get("/users", r.handleListUsers)
		api.With(requirePermission(canManageUsers)).Delete("/users/{id}", r.handleDeactivateUser)
		api.With(requirePermission(canManageSystem)).Post("/sweep", r.handleSweep)
	})

	if o.WebRoot != nil {
		mux.Handle("/*", newSPAHandler(o.WebRoot))
	}

	return mux
}

// jsonContentType sets Content-Type: application/json on every response.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows any origin. Preflight requests end here with 204.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

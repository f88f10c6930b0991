package http

import (
	"net/http"

	"github.com/atinyakov/studydeck/internal/metrics"
	"github.com/atinyakov/studydeck/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP handler that serves the StudyDeck auth API.
//
// Routes:
//
//	POST /api/auth/register  → authHandler.Register
//	POST /api/auth/login     → authHandler.Login
//	POST /api/auth/refresh   → authHandler.Refresh (refresh cookie)
//	POST /api/auth/logout    → authHandler.Logout
//	GET  /api/auth/me        → authHandler.Me (bearer token)
//	GET  /metrics            → metricsHandler
//	GET  /healthz            → liveness probe
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger) and WithMetrics(m)
//  3. AllowContentType("application/json") on /api
//  4. BearerAuth(auth) on the protected group
func NewRouter(
	authHandler *AuthHandler,
	auth middleware.Authenticator,
	m *metrics.Server,
	metricsHandler http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(exposeRequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.WithMetrics(m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		// Bodiless requests (refresh, logout) pass through.
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(auth))
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}

// exposeRequestID echoes the chi request id in the X-Request-Id response
// header so error envelopes and clients can reference it.
func exposeRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chiMiddleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(chiMiddleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

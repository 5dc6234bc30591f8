// Package router wires handlers and middlewares into the service mux.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/inboxly/mailvault/internal/http/errors"
	"github.com/inboxly/mailvault/internal/http/handlers"
	mw "github.com/inboxly/mailvault/internal/http/middlewares"
	"github.com/inboxly/mailvault/internal/metrics"
)

// Deps contains everything the router mounts.
type Deps struct {
	Auth         *handlers.AuthHandler
	Integrations *handlers.IntegrationsHandler
	Health       *handlers.HealthHandler

	// RateLimiter is optional; nil disables limiting.
	RateLimiter mw.RateLimiter

	// AdminAPIKey gates the integration endpoints. Empty disables the
	// gate (dev only).
	AdminAPIKey string
}

// New builds the chi router with the full middleware stack.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithRecover(),
		mw.WithSecurityHeaders(),
		mw.WithRateLimit(mw.RateLimitConfig{
			Limiter:   deps.RateLimiter,
			Whitelist: []string{"/healthz", "/readyz", "/metrics"},
		}),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// probes and scraping
	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// consent flow: reached by browsers and provider redirects, so no API
	// key, but responses must never be cached
	r.Route("/v1/auth/{provider}", func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.Method(http.MethodGet, "/start",
			metrics.InstrumentHTTP("/v1/auth/{provider}/start", http.HandlerFunc(deps.Auth.Start)))
		r.Method(http.MethodGet, "/callback",
			metrics.InstrumentHTTP("/v1/auth/{provider}/callback", http.HandlerFunc(deps.Auth.Callback)))
	})

	// integration endpoints: service-to-service, behind the admin key
	r.Route("/v1/integrations/{provider}", func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.Use(mw.RequireAPIKey(deps.AdminAPIKey))
		r.Method(http.MethodGet, "/status",
			metrics.InstrumentHTTP("/v1/integrations/{provider}/status", http.HandlerFunc(deps.Integrations.Status)))
		r.Method(http.MethodPost, "/disconnect",
			metrics.InstrumentHTTP("/v1/integrations/{provider}/disconnect", http.HandlerFunc(deps.Integrations.Disconnect)))
		r.Method(http.MethodGet, "/messages",
			metrics.InstrumentHTTP("/v1/integrations/{provider}/messages", http.HandlerFunc(deps.Integrations.Messages)))
	})

	return r
}

// Package handlers contains the HTTP handlers for the consent flow, the
// integration endpoints and health checks.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inboxly/mailvault/internal/connect"
	httperrors "github.com/inboxly/mailvault/internal/http/errors"
	"github.com/inboxly/mailvault/internal/http/helpers"
	"github.com/inboxly/mailvault/internal/observability/logger"
	"github.com/inboxly/mailvault/internal/provider"
)

// AuthHandler drives the browser-facing consent flow.
type AuthHandler struct {
	engine *connect.Engine
}

func NewAuthHandler(engine *connect.Engine) *AuthHandler {
	return &AuthHandler{engine: engine}
}

// Start handles GET /v1/auth/{provider}/start?principal_id=...
// It redirects the browser to the provider's consent screen. With
// ?redirect=false it returns the URL as JSON instead, for API clients that
// drive the browser themselves.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("handler"), logger.Op("AuthHandler.Start"))

	providerName := chi.URLParam(r, "provider")
	principalID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if principalID == "" {
		log.Warn("missing principal_id")
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("principal_id required"))
		return
	}

	authURL, err := h.engine.StartAuthorization(ctx, principalID, providerName)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if r.URL.Query().Get("redirect") == "false" {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /v1/auth/{provider}/callback?code=...&state=...
// The provider lands the browser here after consent.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("handler"), logger.Op("AuthHandler.Callback"))

	providerName := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// the provider reports consent denial via the error param, without a code
	if errCode := q.Get("error"); errCode != "" {
		log.Info("provider returned consent error",
			logger.Provider(providerName), logger.String("error", errCode))
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("provider error: "+errCode))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("code and state required"))
		return
	}

	conn, err := h.engine.CompleteAuthorization(ctx, providerName, code, state)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, conn)
}

// writeEngineError maps lifecycle engine errors onto the HTTP vocabulary.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context())

	switch {
	case errors.Is(err, connect.ErrUnknownProvider):
		httperrors.WriteError(w, httperrors.ErrUnknownProvider)
	case errors.Is(err, connect.ErrInvalidState):
		httperrors.WriteError(w, httperrors.ErrInvalidState)
	case errors.Is(err, provider.ErrExchange), errors.Is(err, provider.ErrRefresh), errors.Is(err, provider.ErrProfile):
		log.Warn("provider flow failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrUpstreamProvider.WithCause(err))
	case errors.Is(err, provider.ErrMissingConfig):
		log.Error("provider misconfigured", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
	default:
		log.Error("engine operation failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inboxly/mailvault/internal/connect"
	httperrors "github.com/inboxly/mailvault/internal/http/errors"
	"github.com/inboxly/mailvault/internal/http/helpers"
	"github.com/inboxly/mailvault/internal/mail"
	"github.com/inboxly/mailvault/internal/observability/logger"
)

const maxMessageLimit = 50

// IntegrationsHandler exposes connection state and the mailbox proxy.
type IntegrationsHandler struct {
	engine  *connect.Engine
	listers *mail.Registry
}

func NewIntegrationsHandler(engine *connect.Engine, listers *mail.Registry) *IntegrationsHandler {
	return &IntegrationsHandler{engine: engine, listers: listers}
}

func principalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if id == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("principal_id required"))
		return "", false
	}
	return id, true
}

// Status handles GET /v1/integrations/{provider}/status?principal_id=...
// It reports stored state only and never talks to the provider.
func (h *IntegrationsHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := principalID(w, r)
	if !ok {
		return
	}
	providerName := chi.URLParam(r, "provider")

	conn, err := h.engine.Status(ctx, id, providerName)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, conn)
}

// Disconnect handles POST /v1/integrations/{provider}/disconnect.
// The principal comes from the principal_id query parameter or a JSON body.
// Idempotent: disconnecting an absent connection still returns 204.
func (h *IntegrationsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if id == "" {
		var body struct {
			PrincipalID string `json:"principal_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			id = strings.TrimSpace(body.PrincipalID)
		}
	}
	if id == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("principal_id required"))
		return
	}
	providerName := chi.URLParam(r, "provider")

	if err := h.engine.Disconnect(ctx, id, providerName); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /v1/integrations/{provider}/messages?principal_id=&limit=
// It runs the full lifecycle: ensure a fresh access token, then proxy the
// provider's inbox listing. The token never appears in the response.
func (h *IntegrationsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("handler"), logger.Op("IntegrationsHandler.Messages"))

	id, ok := principalID(w, r)
	if !ok {
		return
	}
	providerName := chi.URLParam(r, "provider")

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("limit must be a positive integer"))
			return
		}
		if n > maxMessageLimit {
			n = maxMessageLimit
		}
		limit = n
	}

	tok, err := h.engine.EnsureFreshAccessToken(ctx, id, providerName)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if !tok.Status.Usable() {
		httperrors.WriteError(w, httperrors.ErrConnectionNotUsable.WithDetail(string(tok.Status)))
		return
	}

	lister, err := h.listers.For(providerName)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrUnknownProvider)
		return
	}

	msgs, err := lister.ListRecent(ctx, tok.AccessToken, limit)
	if err != nil {
		switch {
		case errors.Is(err, mail.ErrTokenRejected):
			// the token passed the freshness check but the provider
			// disagreed; surface it like any other unusable connection
			log.Warn("provider rejected a token that looked fresh")
			httperrors.WriteError(w, httperrors.ErrConnectionNotUsable.WithDetail("provider rejected access token"))
		default:
			log.Warn("mailbox listing failed", logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrUpstreamProvider.WithCause(err))
		}
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"provider": providerName,
		"messages": msgs,
	})
}

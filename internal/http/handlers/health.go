package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/inboxly/mailvault/internal/http/helpers"
	"github.com/inboxly/mailvault/internal/observability/logger"
)

// Pinger checks reachability of a backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	version    string
	components map[string]Pinger
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:    version,
		components: make(map[string]Pinger),
	}
}

// AddComponent registers a named component for the readiness check.
func (h *HealthHandler) AddComponent(name string, p Pinger) {
	h.components[name] = p
}

// Healthz handles GET /healthz. Process-alive only, no dependencies.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Readyz handles GET /readyz. Pings every registered component with a
// short deadline; any failure flips the response to 503.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	log := logger.From(r.Context()).With(logger.Layer("handler"), logger.Op("HealthHandler.Readyz"))

	status := "ready"
	code := http.StatusOK
	components := make(map[string]string, len(h.components))

	for name, p := range h.components {
		if err := p.Ping(ctx); err != nil {
			log.Warn("component not ready", logger.Component(name), logger.Err(err))
			components[name] = "unavailable"
			status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	helpers.WriteJSON(w, code, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

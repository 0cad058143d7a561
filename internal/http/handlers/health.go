package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/outreach-orchestrator/internal/browser"
)

// SidecarHealth reports the browser sidecar's state.
type SidecarHealth interface {
	Health(ctx context.Context) (*browser.HealthResponse, error)
}

// HealthHandler reports liveness. The channel probe is informational and
// never fails the check.
type HealthHandler struct {
	sidecar SidecarHealth
	timeout time.Duration
}

func NewHealthHandler(sidecar SidecarHealth) *HealthHandler {
	return &HealthHandler{sidecar: sidecar, timeout: 3 * time.Second}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.sidecar != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		health, err := h.sidecar.Health(ctx)
		switch {
		case err != nil:
			resp["channel"] = map[string]any{"reachable": false, "error": err.Error()}
		default:
			resp["channel"] = map[string]any{
				"reachable":     true,
				"browser_ready": health.BrowserReady,
				"logged_in":     health.LoggedIn,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

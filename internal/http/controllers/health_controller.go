package controllers

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/secondfactor/internal/http/errors"
	"github.com/dropDatabas3/secondfactor/internal/http/helpers"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
)

// Pinger es lo mínimo que un componente necesita exponer para el readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController maneja healthz (liveness) y readyz (readiness).
type HealthController struct {
	components map[string]Pinger
	version    string
}

func NewHealthController(version string, components map[string]Pinger) *HealthController {
	return &HealthController{components: components, version: version}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Healthz maneja GET /healthz: vivo, sin tocar dependencias.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: c.version})
}

// Readyz maneja GET /readyz: pinguea cada componente con timeout corto.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:     "ready",
		Version:    c.version,
		Components: make(map[string]string, len(c.components)),
	}
	status := http.StatusOK
	for name, p := range c.components {
		if err := p.Ping(ctx); err != nil {
			logger.From(ctx).Warn("component not ready",
				logger.String("component", name),
				logger.Err(err),
			)
			resp.Components[name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}

	helpers.WriteJSON(w, status, resp)
}

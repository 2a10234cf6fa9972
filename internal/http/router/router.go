// Package router registra las rutas del servicio sobre http.ServeMux.
package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/secondfactor/internal/http/controllers"
	httperrors "github.com/dropDatabas3/secondfactor/internal/http/errors"
	mw "github.com/dropDatabas3/secondfactor/internal/http/middlewares"
	"github.com/dropDatabas3/secondfactor/internal/rate"
)

// Deps contiene todas las dependencias del router.
type Deps struct {
	Mux *http.ServeMux

	MFA    *controllers.MFAController
	Health *controllers.HealthController

	// Secreto del token de sesión pendiente (HS256, compartido con el
	// auth primario).
	PendingSessionSecret string

	// Rate limiters por grupo de rutas. nil deshabilita el límite.
	VerifyLimiter rate.Limiter
	SetupLimiter  rate.Limiter
	ManageLimiter rate.Limiter
}

// Register registra todas las rutas.
func Register(deps Deps) {
	mux := deps.Mux
	if mux == nil {
		return
	}

	registerMFARoutes(mux, deps)

	// Operacionales: sin auth, sin rate limit.
	if deps.Health != nil {
		mux.Handle("/healthz", mw.ChainFunc(deps.Health.Healthz, mw.WithRecover(), mw.WithRequestID()))
		mux.Handle("/readyz", mw.ChainFunc(deps.Health.Readyz, mw.WithRecover(), mw.WithRequestID()))
	}
	mux.Handle("/metrics", promhttp.Handler())

	// Catch-all: 404 JSON consistente con el resto del API.
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	}))
}

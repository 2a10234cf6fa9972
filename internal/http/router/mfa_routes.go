package router

import (
	"net/http"

	mw "github.com/dropDatabas3/secondfactor/internal/http/middlewares"
	"github.com/dropDatabas3/secondfactor/internal/rate"
)

// registerMFARoutes registra las rutas MFA. Todas exigen el token de
// sesión pendiente; el rate limit por IP varía según el grupo.
func registerMFARoutes(mux *http.ServeMux, deps Deps) {
	c := deps.MFA
	if c == nil {
		return
	}

	// Enrolamiento
	mux.Handle("/v1/mfa/totp/setup", mfaHandler(deps, http.HandlerFunc(c.Setup), deps.SetupLimiter))
	mux.Handle("/v1/mfa/totp/setup/qr", mfaHandler(deps, http.HandlerFunc(c.SetupQR), deps.SetupLimiter))
	mux.Handle("/v1/mfa/totp/confirm", mfaHandler(deps, http.HandlerFunc(c.Confirm), deps.SetupLimiter))

	// Verificación (camino caliente del login)
	mux.Handle("/v1/mfa/verify", mfaHandler(deps, http.HandlerFunc(c.Verify), deps.VerifyLimiter))

	// Gestión
	mux.Handle("/v1/mfa/backup/regenerate", mfaHandler(deps, http.HandlerFunc(c.RegenerateBackup), deps.ManageLimiter))
	mux.Handle("/v1/mfa/disable", mfaHandler(deps, http.HandlerFunc(c.Disable), deps.ManageLimiter))
	mux.Handle("/v1/mfa/devices/revoke", mfaHandler(deps, http.HandlerFunc(c.RevokeDevice), deps.ManageLimiter))
	mux.Handle("/v1/mfa/devices/revoke_all", mfaHandler(deps, http.HandlerFunc(c.RevokeAllDevices), deps.ManageLimiter))
	mux.Handle("/v1/mfa/status", mfaHandler(deps, http.HandlerFunc(c.Status), deps.ManageLimiter))
}

// mfaHandler arma el chain estándar de los endpoints MFA.
// Orden: Recover → RequestID → RateLimit → Auth → SecurityHeaders → NoStore → Logging
// El rate limit va ANTES del auth: un atacante sin token válido no debe
// costar una verificación de firma por request.
func mfaHandler(deps Deps, handler http.Handler, limiter rate.Limiter) http.Handler {
	chain := []mw.Middleware{
		mw.WithRecover(),
		mw.WithRequestID(),
	}

	if limiter != nil {
		chain = append(chain, mw.WithRateLimit(limiter, mw.IPOnlyRateKey))
	}

	chain = append(chain,
		mw.RequirePendingSession(deps.PendingSessionSecret),
		mw.WithSecurityHeaders(),
		mw.WithNoStore(), // secretos, códigos y tokens: nunca cacheables
		mw.WithLogging(),
	)

	return mw.Chain(handler, chain...)
}

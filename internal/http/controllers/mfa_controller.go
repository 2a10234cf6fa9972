// Package controllers contiene los controllers HTTP del servicio.
package controllers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/secondfactor/internal/http/dto"
	httperrors "github.com/dropDatabas3/secondfactor/internal/http/errors"
	"github.com/dropDatabas3/secondfactor/internal/http/helpers"
	"github.com/dropDatabas3/secondfactor/internal/http/middlewares"
	"github.com/dropDatabas3/secondfactor/internal/mfa"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
)

// MFAController expone el ciclo de vida del segundo factor sobre HTTP.
// El principal SIEMPRE sale del token de sesión pendiente (contexto),
// nunca del body: un cliente no puede operar sobre otra cuenta.
type MFAController struct {
	service *mfa.Service
}

func NewMFAController(service *mfa.Service) *MFAController {
	return &MFAController{service: service}
}

// writeServiceError traduce y escribe el error del service. El lockout
// lleva Retry-After; el resto sale por el catálogo estándar.
func writeServiceError(w http.ResponseWriter, err error) {
	var locked *mfa.LockedError
	if errors.As(err, &locked) {
		httperrors.WriteLocked(w, locked.Until)
		return
	}
	httperrors.WriteError(w, httperrors.FromService(err))
}

// Setup maneja POST /v1/mfa/totp/setup
func (c *MFAController) Setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("MFAController.Setup"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	res, err := c.service.Setup(ctx, principalID, middlewares.GetAccountName(ctx))
	if err != nil {
		log.Debug("setup rejected", logger.PrincipalID(principalID), logger.Err(err))
		writeServiceError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.SetupResponse{
		Secret:      res.SecretB32,
		OTPAuthURL:  res.OTPAuthURL,
		BackupCodes: res.BackupCodes,
	})
}

// SetupQR maneja GET /v1/mfa/totp/setup/qr
func (c *MFAController) SetupQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	png, err := c.service.SetupQR(ctx, principalID, middlewares.GetAccountName(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Confirm maneja POST /v1/mfa/totp/confirm
func (c *MFAController) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("MFAController.Confirm"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	var req dto.ConfirmRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("code es requerido"))
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	if err := c.service.ConfirmSetup(ctx, principalID, req.Code); err != nil {
		log.Debug("confirm rejected", logger.PrincipalID(principalID), logger.Err(err))
		writeServiceError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.ConfirmResponse{State: mfa.StateEnrolled.String()})
}

// Verify maneja POST /v1/mfa/verify
func (c *MFAController) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	var req dto.VerifyRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	res, err := c.service.Verify(ctx, mfa.VerifyInput{
		PrincipalID:       principalID,
		Code:              req.Code,
		TrustToken:        req.TrustToken,
		DeviceFingerprint: req.DeviceFingerprint,
		RememberDevice:    req.RememberDevice,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := dto.VerifyResponse{
		Method:     res.Method,
		Assertion:  res.Assertion,
		TrustToken: res.TrustToken,
	}
	if res.TrustToken != "" {
		t := res.TrustExpiresAt
		out.TrustExpiresAt = &t
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// RegenerateBackup maneja POST /v1/mfa/backup/regenerate
func (c *MFAController) RegenerateBackup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	var req dto.RegenerateRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("code es requerido"))
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	codes, err := c.service.RegenerateBackupCodes(ctx, principalID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.RegenerateResponse{BackupCodes: codes})
}

// Disable maneja POST /v1/mfa/disable
func (c *MFAController) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("MFAController.Disable"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	var req dto.DisableRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("code es requerido"))
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	if err := c.service.Disable(ctx, principalID, req.Code, req.ReauthProof); err != nil {
		log.Debug("disable rejected", logger.PrincipalID(principalID), logger.Err(err))
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeDevice maneja POST /v1/mfa/devices/revoke
func (c *MFAController) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	var req dto.RevokeDeviceRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	if err := c.service.RevokeTrustedDevice(ctx, principalID, req.TrustToken); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAllDevices maneja POST /v1/mfa/devices/revoke_all
func (c *MFAController) RevokeAllDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	if err := c.service.RevokeAllTrustedDevices(ctx, principalID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status maneja GET /v1/mfa/status
func (c *MFAController) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	principalID := middlewares.GetPrincipalID(ctx)
	st, err := c.service.Status(ctx, principalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusOK, dto.StatusResponse{
		State:           st.State.String(),
		BackupRemaining: st.BackupRemaining,
		TrustedDevices:  st.TrustedDevices,
		Guard:           st.Guard.String(),
		LockedUntil:     st.LockedUntil,
		LowBackup:       st.LowBackup,
	})
}

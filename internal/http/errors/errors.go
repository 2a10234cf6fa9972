package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/mfa"
)

// errorResponse estructura interna para la serialización JSON.
// Esto nos permite controlar exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
// Maneja automáticamente errores de tipo *AppError y errores genéricos.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteLocked escribe la respuesta de lockout con Retry-After calculado.
func WriteLocked(w http.ResponseWriter, until time.Time) {
	retry := int(time.Until(until).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	WriteError(w, ErrLocked)
}

// FromError intenta convertir un error genérico en un AppError.
// Si no es un AppError, devuelve un error interno genérico conservando la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// FromService traduce la taxonomía de errores del service MFA a errores
// HTTP. El detalle queda en la causa (logs), nunca en el body.
func FromService(err error) *AppError {
	var locked *mfa.LockedError
	var state *mfa.StateError
	switch {
	case errors.Is(err, mfa.ErrInvalidInput):
		return ErrMissingFields.WithCause(err)
	case errors.Is(err, mfa.ErrInvalidCode):
		return ErrInvalidCode
	case errors.Is(err, mfa.ErrNotEnrolled):
		return ErrNotEnrolled
	case errors.Is(err, mfa.ErrAlreadyEnrolled):
		return ErrAlreadyEnrolled
	case errors.Is(err, mfa.ErrReauthRequired):
		return ErrReauthRequired
	case errors.Is(err, mfa.ErrStorage):
		return ErrServiceUnavailable.WithCause(err)
	case errors.As(err, &locked):
		return ErrLocked
	case errors.As(err, &state):
		return ErrInvalidState.WithCause(err)
	default:
		return ErrInternalServerError.WithCause(err)
	}
}

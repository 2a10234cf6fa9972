// Package dto define los contratos JSON del API MFA.
package dto

import "time"

// SetupResponse: inicio de enrolamiento. El secreto, la URL y el lote de
// backup codes viajan una sola vez; la respuesta sale con
// Cache-Control: no-store.
type SetupResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

// ConfirmRequest: cierre del enrolamiento con el primer código.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmResponse confirma el cambio de estado.
type ConfirmResponse struct {
	State string `json:"state"`
}

// VerifyRequest: intento de verificación. code puede faltar si viaja un
// trust_token vigente. remember_device pide emitir la exención.
type VerifyRequest struct {
	Code              string `json:"code,omitempty"`
	TrustToken        string `json:"trust_token,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	RememberDevice    bool   `json:"remember_device,omitempty"`
}

// VerifyResponse: verificación exitosa. assertion es el JWT corto que el
// auth primario canjea por la sesión definitiva.
type VerifyResponse struct {
	Method         string     `json:"method"`
	Assertion      string     `json:"assertion,omitempty"`
	TrustToken     string     `json:"trust_token,omitempty"`
	TrustExpiresAt *time.Time `json:"trust_expires_at,omitempty"`
}

// RegenerateRequest: rotación del lote de backup codes.
type RegenerateRequest struct {
	Code string `json:"code"`
}

// RegenerateResponse entrega el lote nuevo; el anterior ya no existe.
type RegenerateResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// DisableRequest: apagado del segundo factor. Además del código exige la
// prueba de re-autenticación primaria reciente.
type DisableRequest struct {
	Code        string `json:"code"`
	ReauthProof string `json:"reauth_proof"`
}

// RevokeDeviceRequest revoca una exención puntual por su token.
type RevokeDeviceRequest struct {
	TrustToken string `json:"trust_token"`
}

// StatusResponse: snapshot read-only del estado MFA del principal.
type StatusResponse struct {
	State           string     `json:"state"`
	BackupRemaining int        `json:"backup_remaining"`
	TrustedDevices  int        `json:"trusted_devices"`
	Guard           string     `json:"guard"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	LowBackup       bool       `json:"low_backup,omitempty"`
}

package mfa

import (
	"context"
	"errors"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/dropDatabas3/secondfactor/internal/audit"
	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/dropDatabas3/secondfactor/internal/metrics"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
	"github.com/dropDatabas3/secondfactor/internal/security/backupcode"
	"github.com/dropDatabas3/secondfactor/internal/security/secretbox"
	"github.com/dropDatabas3/secondfactor/internal/security/secrets"
	"github.com/dropDatabas3/secondfactor/internal/security/totp"
)

// Métodos con los que un principal puede completar el segundo factor.
const (
	MethodTOTP          = "totp"
	MethodBackupCode    = "backup_code"
	MethodTrustedDevice = "trusted_device"
)

// ServiceConfig parametriza el orquestador. Los ceros toman defaults.
type ServiceConfig struct {
	Issuer         string
	TOTPStep       time.Duration
	TOTPDigits     int
	TOTPWindow     int
	BackupCount    int
	BackupLength   int
	LowBackupWater int
	Guard          GuardConfig
	TrustTTL       time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Issuer == "" {
		c.Issuer = "SecondFactor"
	}
	if c.TOTPStep <= 0 {
		c.TOTPStep = totp.DefaultStep
	}
	if c.TOTPDigits <= 0 {
		c.TOTPDigits = totp.DefaultDigits
	}
	if c.TOTPWindow < 0 || c.TOTPWindow > 3 {
		c.TOTPWindow = 1
	}
	if c.BackupCount <= 0 {
		c.BackupCount = 10
	}
	if c.BackupLength <= 0 {
		c.BackupLength = 10
	}
	if c.LowBackupWater <= 0 {
		c.LowBackupWater = 2
	}
	return c
}

// Service orquesta el ciclo de vida completo del segundo factor:
// enrolamiento, verificación, backup codes, trusted devices y disable.
// No guarda estado propio; la concurrencia la resuelven los contratos
// atómicos del repositorio.
type Service struct {
	repo    repository.MFARepository
	box     *secretbox.Box
	guard   *Guard
	backups *BackupCodes
	trusted *TrustedDevices
	signer  *AssertionSigner
	reauth  ReauthVerifier
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService arma el orquestador. signer puede ser nil (no se emiten
// assertions); reauth puede ser nil solo si Disable no se expone.
func NewService(repo repository.MFARepository, box *secretbox.Box, signer *AssertionSigner, reauth ReauthVerifier, cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		repo:    repo,
		box:     box,
		guard:   NewGuard(repo, cfg.Guard),
		backups: NewBackupCodes(repo, cfg.BackupCount, cfg.BackupLength),
		trusted: NewTrustedDevices(repo, cfg.TrustTTL),
		signer:  signer,
		reauth:  reauth,
		cfg:     cfg,
		now:     time.Now,
	}
}

// setClock inyecta un reloj determinístico en el service y sus partes.
// Solo para tests.
func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.guard.now = now
	s.backups.now = now
	s.trusted.now = now
}

// ───────────────────────────── Enrolamiento ─────────────────────────────

// SetupResult es lo que ve el cliente al iniciar el enrolamiento. El
// secreto y los backup codes viajan UNA vez; después solo existen cifrado
// y hashes en el storage.
type SetupResult struct {
	SecretB32   string
	OTPAuthURL  string
	BackupCodes []string
}

// Setup genera un secreto nuevo más el lote de backup codes y deja al
// principal en pending. Re-llamar antes de confirmar reemplaza secreto y
// lote (el QR y los códigos viejos dejan de servir).
// Sobre un principal ya confirmado es ErrAlreadyEnrolled: para rotar hay
// que pasar por Disable primero.
func (s *Service) Setup(ctx context.Context, principalID, accountName string) (*SetupResult, error) {
	if principalID == "" {
		return nil, ErrInvalidInput
	}
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if stateOf(sec) == StateEnrolled {
		return nil, ErrAlreadyEnrolled
	}

	// Todo el material aleatorio (secreto + lote de backup codes) se genera
	// antes de escribir nada: una falla de entropía aborta sin estado parcial.
	raw, b32, err := secrets.NewTOTPSecret()
	if err != nil {
		return nil, err
	}
	codes, salt, hashes, err := s.backups.generate()
	if err != nil {
		return nil, err
	}
	enc, err := s.box.Encrypt(raw)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertSecret(ctx, principalID, enc); err != nil {
		return nil, storageErr(err)
	}
	if err := s.backups.store(ctx, principalID, salt, hashes); err != nil {
		return nil, err
	}

	metrics.Enrollments.WithLabelValues("setup").Inc()
	audit.Log(ctx, audit.EventSetupStarted, logger.PrincipalID(principalID))
	return &SetupResult{
		SecretB32:   b32,
		OTPAuthURL:  totp.OTPAuthURL(s.cfg.Issuer, accountName, b32, s.cfg.TOTPStep, s.cfg.TOTPDigits),
		BackupCodes: codes,
	}, nil
}

// SetupQR renderiza el otpauth:// pendiente como PNG. Solo válido en
// pending: una vez confirmado, el secreto no vuelve a mostrarse.
func (s *Service) SetupQR(ctx context.Context, principalID, accountName string) ([]byte, error) {
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}
	switch stateOf(sec) {
	case StatePendingConfirmation:
	case StateUnenrolled:
		return nil, ErrNotEnrolled
	default:
		return nil, &StateError{Op: "setup_qr", State: stateOf(sec)}
	}
	raw, err := s.box.Decrypt(sec.SecretEncrypted)
	if err != nil {
		return nil, err
	}
	uri := totp.OTPAuthURL(s.cfg.Issuer, accountName, totp.EncodeSecret(raw), s.cfg.TOTPStep, s.cfg.TOTPDigits)
	return qrcode.Encode(uri, qrcode.Medium, 256)
}

// ConfirmSetup cierra el enrolamiento: el principal prueba que su app
// genera códigos correctos. A partir de acá el segundo factor se exige.
func (s *Service) ConfirmSetup(ctx context.Context, principalID, code string) error {
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return err
	}
	switch stateOf(sec) {
	case StatePendingConfirmation:
	case StateEnrolled:
		return ErrAlreadyEnrolled
	default:
		return ErrNotEnrolled
	}

	if err := s.guard.Check(ctx, principalID, PurposeConfirm); err != nil {
		return err
	}
	ok, err := s.verifyTOTP(ctx, sec, code)
	if err != nil {
		return err
	}
	if !ok {
		return s.fail(ctx, principalID, PurposeConfirm, MethodTOTP)
	}
	if err := s.repo.ConfirmSecret(ctx, principalID, s.now()); err != nil {
		return storageErr(err)
	}
	if err := s.guard.Success(ctx, principalID, PurposeConfirm); err != nil {
		return err
	}

	metrics.Enrollments.WithLabelValues("confirmed").Inc()
	audit.Log(ctx, audit.EventEnrollConfirmed, logger.PrincipalID(principalID))
	return nil
}

// ───────────────────────────── Verificación ─────────────────────────────

// VerifyInput agrupa todo lo que llega en un intento de verificación.
type VerifyInput struct {
	PrincipalID       string
	Code              string
	TrustToken        string
	DeviceFingerprint string
	RememberDevice    bool
}

// VerifyResult describe un intento exitoso. Assertion va vacío si el
// service no tiene firmante. TrustToken solo se llena cuando el intento
// pidió RememberDevice.
type VerifyResult struct {
	Method         string
	Assertion      string
	TrustToken     string
	TrustExpiresAt time.Time
}

// Verify es el camino caliente del login. Orden estricto:
//
//  1. lockout gate (fail fast, sin evaluar nada)
//  2. trust token (exime sin pedir código)
//  3. TOTP si el código tiene forma de TOTP
//  4. backup code como último recurso
//
// Cualquier falla termina en el MISMO ErrInvalidCode: afuera no se
// distingue código vencido, replay ni backup ya usado.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	start := time.Now()
	defer func() {
		metrics.VerifyLatency.Observe(float64(time.Since(start).Milliseconds()))
	}()

	sec, err := s.getSecret(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}
	if stateOf(sec) != StateEnrolled {
		return nil, ErrNotEnrolled
	}

	if err := s.guard.Check(ctx, in.PrincipalID, PurposeVerify); err != nil {
		var le *LockedError
		if errors.As(err, &le) {
			metrics.Verifications.WithLabelValues("none", "locked").Inc()
		}
		return nil, err
	}

	if in.TrustToken != "" {
		exempt, err := s.trusted.Validate(ctx, in.PrincipalID, in.TrustToken, in.DeviceFingerprint)
		if err != nil {
			return nil, err
		}
		if exempt {
			return s.succeed(ctx, in, MethodTrustedDevice)
		}
		// Token inválido no cuenta como falla del guard: no hubo código
		// que adivinar. Se sigue al camino normal y se exige código.
	}

	if in.Code == "" {
		return nil, ErrInvalidInput
	}

	if totp.ValidFormat(in.Code, s.cfg.TOTPDigits) {
		ok, err := s.verifyTOTP(ctx, sec, in.Code)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.succeed(ctx, in, MethodTOTP)
		}
		return nil, s.fail(ctx, in.PrincipalID, PurposeVerify, MethodTOTP)
	}

	if norm := backupcode.Normalize(in.Code); len(norm) == s.cfg.BackupLength {
		consumed, err := s.backups.Consume(ctx, in.PrincipalID, norm)
		if err != nil {
			return nil, err
		}
		if consumed {
			s.afterBackupConsumed(ctx, in.PrincipalID)
			return s.succeed(ctx, in, MethodBackupCode)
		}
		return nil, s.fail(ctx, in.PrincipalID, PurposeVerify, MethodBackupCode)
	}

	return nil, s.fail(ctx, in.PrincipalID, PurposeVerify, "none")
}

// verifyTOTP evalúa el código contra el secreto y, si matchea, gana el
// contador vía CAS. Un CAS perdido es un replay (otro request llegó antes
// con el mismo código) y se reporta como no-match.
func (s *Service) verifyTOTP(ctx context.Context, sec *repository.MFASecret, code string) (bool, error) {
	raw, err := s.box.Decrypt(sec.SecretEncrypted)
	if err != nil {
		return false, err
	}
	ok, counter := totp.Verify(raw, code, s.now(), s.cfg.TOTPStep, s.cfg.TOTPDigits, s.cfg.TOTPWindow, sec.LastCounter)
	if !ok {
		return false, nil
	}
	advanced, err := s.repo.AdvanceCounter(ctx, sec.PrincipalID, counter, s.now())
	if err != nil {
		return false, storageErr(err)
	}
	return advanced, nil
}

// fail registra la falla en guard + métricas + auditoría y devuelve el
// error uniforme.
func (s *Service) fail(ctx context.Context, principalID, purpose, method string) error {
	if err := s.guard.Failure(ctx, principalID, purpose); err != nil {
		return err
	}
	metrics.Verifications.WithLabelValues(method, "failure").Inc()
	audit.Log(ctx, audit.EventVerifyFailed,
		logger.PrincipalID(principalID),
		logger.Purpose(purpose),
		logger.MFAMethod(method),
	)
	return ErrInvalidCode
}

// succeed cierra el intento: resetea el guard, firma la assertion y, si
// se pidió, emite la exención del dispositivo.
func (s *Service) succeed(ctx context.Context, in VerifyInput, method string) (*VerifyResult, error) {
	if err := s.guard.Success(ctx, in.PrincipalID, PurposeVerify); err != nil {
		return nil, err
	}
	res := &VerifyResult{Method: method}

	if s.signer != nil {
		assertion, err := s.signer.Sign(in.PrincipalID, method)
		if err != nil {
			return nil, err
		}
		res.Assertion = assertion
	}

	if in.RememberDevice && in.DeviceFingerprint != "" && method != MethodTrustedDevice {
		token, expires, err := s.trusted.Issue(ctx, in.PrincipalID, in.DeviceFingerprint)
		if err != nil {
			return nil, err
		}
		res.TrustToken = token
		res.TrustExpiresAt = expires
		audit.Log(ctx, audit.EventDeviceTrusted, logger.PrincipalID(in.PrincipalID))
	}

	metrics.Verifications.WithLabelValues(method, "success").Inc()
	audit.Log(ctx, audit.EventVerified,
		logger.PrincipalID(in.PrincipalID),
		logger.MFAMethod(method),
	)
	return res, nil
}

// afterBackupConsumed audita el consumo y avisa cuando el lote se está
// agotando.
func (s *Service) afterBackupConsumed(ctx context.Context, principalID string) {
	remaining, err := s.backups.Remaining(ctx, principalID)
	if err != nil {
		remaining = -1
	}
	audit.Log(ctx, audit.EventBackupConsumed,
		logger.PrincipalID(principalID),
		logger.Count(remaining),
	)
	if remaining >= 0 && remaining <= s.cfg.LowBackupWater {
		logger.From(ctx).Warn("backup codes running low",
			logger.PrincipalID(principalID),
			logger.Count(remaining),
		)
	}
}

// ───────────────────────────── Gestión ─────────────────────────────

// RegenerateBackupCodes emite un lote nuevo, invalidando el anterior.
// Exige un código válido (TOTP o backup) bajo el purpose "manage".
func (s *Service) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if stateOf(sec) != StateEnrolled {
		return nil, ErrNotEnrolled
	}
	if err := s.guard.Check(ctx, principalID, PurposeManage); err != nil {
		return nil, err
	}
	method, ok, err := s.proveCode(ctx, sec, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.fail(ctx, principalID, PurposeManage, method)
	}
	if err := s.guard.Success(ctx, principalID, PurposeManage); err != nil {
		return nil, err
	}

	codes, err := s.backups.Regenerate(ctx, principalID)
	if err != nil {
		return nil, err
	}
	metrics.Enrollments.WithLabelValues("backup_regenerated").Inc()
	audit.Log(ctx, audit.EventBackupRegenerate, logger.PrincipalID(principalID))
	return codes, nil
}

// Disable apaga el segundo factor. Es destructivo, así que además del
// código pide una prueba fresca de re-autenticación primaria. Borra
// secreto, backup codes y exenciones, y limpia el guard.
func (s *Service) Disable(ctx context.Context, principalID, code, reauthProof string) error {
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return err
	}
	if stateOf(sec) != StateEnrolled {
		return ErrNotEnrolled
	}
	if s.reauth == nil {
		return ErrReauthRequired
	}
	if err := s.reauth.VerifyReauth(reauthProof, principalID); err != nil {
		return err
	}
	if err := s.guard.Check(ctx, principalID, PurposeManage); err != nil {
		return err
	}
	method, ok, err := s.proveCode(ctx, sec, code)
	if err != nil {
		return err
	}
	if !ok {
		return s.fail(ctx, principalID, PurposeManage, method)
	}

	if err := s.repo.DeleteSecret(ctx, principalID); err != nil {
		return storageErr(err)
	}
	if err := s.backups.DeleteAll(ctx, principalID); err != nil {
		return err
	}
	if err := s.trusted.RevokeAll(ctx, principalID); err != nil {
		return err
	}
	for _, p := range []string{PurposeVerify, PurposeConfirm, PurposeManage} {
		if err := s.guard.Success(ctx, principalID, p); err != nil {
			return err
		}
	}

	metrics.Enrollments.WithLabelValues("disabled").Inc()
	audit.Log(ctx, audit.EventDisabled, logger.PrincipalID(principalID))
	return nil
}

// RevokeTrustedDevice invalida la exención de un dispositivo puntual.
func (s *Service) RevokeTrustedDevice(ctx context.Context, principalID, token string) error {
	if token == "" {
		return ErrInvalidInput
	}
	if err := s.trusted.Revoke(ctx, principalID, token); err != nil {
		return err
	}
	audit.Log(ctx, audit.EventDeviceRevoked, logger.PrincipalID(principalID))
	return nil
}

// RevokeAllTrustedDevices invalida todas las exenciones del principal.
func (s *Service) RevokeAllTrustedDevices(ctx context.Context, principalID string) error {
	if err := s.trusted.RevokeAll(ctx, principalID); err != nil {
		return err
	}
	audit.Log(ctx, audit.EventDeviceRevoked, logger.PrincipalID(principalID))
	return nil
}

// ───────────────────────────── Consulta ─────────────────────────────

// StatusResult es el snapshot read-only del estado MFA de un principal.
type StatusResult struct {
	State           State
	BackupRemaining int
	TrustedDevices  int
	Guard           GuardState
	LockedUntil     *time.Time
	LowBackup       bool
}

// Status no tiene efectos: no toca contadores ni ventanas.
func (s *Service) Status(ctx context.Context, principalID string) (*StatusResult, error) {
	sec, err := s.getSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out := &StatusResult{State: stateOf(sec)}
	if out.State == StateUnenrolled {
		return out, nil
	}

	out.BackupRemaining, err = s.backups.Remaining(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out.TrustedDevices, err = s.trusted.Count(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out.Guard, out.LockedUntil, err = s.guard.Snapshot(ctx, principalID, PurposeVerify)
	if err != nil {
		return nil, err
	}
	out.LowBackup = out.State == StateEnrolled && out.BackupRemaining <= s.cfg.LowBackupWater
	return out, nil
}

// ───────────────────────────── Helpers ─────────────────────────────

// getSecret normaliza ErrNotFound a nil (estado Unenrolled). La lectura es
// idempotente, así que un error transitorio del backend se reintenta hasta
// dos veces antes de rendirse.
func (s *Service) getSecret(ctx context.Context, principalID string) (*repository.MFASecret, error) {
	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		sec, err := s.repo.GetSecret(ctx, principalID)
		if err == nil {
			return sec, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, storageErr(lastErr)
}

// proveCode acepta TOTP o backup code para operaciones de gestión.
// Consumir un backup code acá también lo gasta.
func (s *Service) proveCode(ctx context.Context, sec *repository.MFASecret, code string) (method string, ok bool, err error) {
	if totp.ValidFormat(code, s.cfg.TOTPDigits) {
		ok, err = s.verifyTOTP(ctx, sec, code)
		return MethodTOTP, ok, err
	}
	if norm := backupcode.Normalize(code); len(norm) == s.cfg.BackupLength {
		ok, err = s.backups.Consume(ctx, sec.PrincipalID, norm)
		if ok {
			s.afterBackupConsumed(ctx, sec.PrincipalID)
		}
		return MethodBackupCode, ok, err
	}
	return "none", false, nil
}

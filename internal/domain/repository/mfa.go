package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound lo retornan los getters cuando la entidad no existe.
var ErrNotFound = errors.New("repository: not found")

// MFASecret representa el secreto TOTP de un principal.
// El plaintext nunca se persiste: SecretEncrypted lleva el output del
// secretbox. LastCounter es el último contador TOTP aceptado (anti-replay).
type MFASecret struct {
	PrincipalID     string
	SecretEncrypted string
	ConfirmedAt     *time.Time
	LastCounter     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BackupCode es un código de respaldo hasheado. La sal es por lote: todos
// los códigos vivos de un principal comparten la sal con la que se generaron.
type BackupCode struct {
	PrincipalID string
	CodeHash    string
	Salt        []byte
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// AttemptRecord acumula fallas consecutivas de verificación por
// (principal, purpose). FailCount NO se limpia cuando expira el lock;
// solo un éxito lo resetea.
type AttemptRecord struct {
	PrincipalID   string
	Purpose       string
	FailCount     int
	FirstFailedAt *time.Time
	LockedUntil   *time.Time
	LockEpisodes  int
	UpdatedAt     time.Time
}

// TrustedDevice es una exención de MFA acotada en el tiempo, atada a un
// fingerprint. Token y fingerprint se guardan hasheados.
type TrustedDevice struct {
	PrincipalID string
	DeviceHash  string
	TokenHash   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// MFARepository define la persistencia del subsistema MFA.
//
// Contratos de concurrencia (los hace cumplir cada adapter):
//   - ConsumeBackupCode marca a lo sumo UN consumidor por código.
//   - IncrementFailure no pierde incrementos bajo requests concurrentes.
//   - AdvanceCounter solo avanza (CAS sobre last_counter).
type MFARepository interface {
	// ─── Secreto TOTP ───

	// UpsertSecret crea o reemplaza el secreto de un principal.
	// Reemplazar resetea confirmed_at y last_counter.
	UpsertSecret(ctx context.Context, principalID, secretEnc string) error

	// GetSecret retorna ErrNotFound si el principal no tiene secreto.
	GetSecret(ctx context.Context, principalID string) (*MFASecret, error)

	// ConfirmSecret marca el secreto como confirmado.
	ConfirmSecret(ctx context.Context, principalID string, at time.Time) error

	// AdvanceCounter sube last_counter a counter solo si es mayor al
	// almacenado. Retorna false si otro request ya consumió ese contador.
	AdvanceCounter(ctx context.Context, principalID string, counter int64, at time.Time) (bool, error)

	// DeleteSecret borra el secreto (disable / re-enroll).
	DeleteSecret(ctx context.Context, principalID string) error

	// ─── Backup codes ───

	// ReplaceBackupCodes borra el lote anterior e inserta el nuevo,
	// atómicamente: nunca quedan códigos de dos lotes conviviendo.
	ReplaceBackupCodes(ctx context.Context, principalID string, salt []byte, hashes []string, at time.Time) error

	// BackupCodeSalt retorna la sal del lote vigente (ErrNotFound sin lote).
	BackupCodeSalt(ctx context.Context, principalID string) ([]byte, error)

	// ConsumeBackupCode marca el código como usado si existe y estaba sin
	// usar. Retorna true solo para el request que ganó la marca.
	ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) (bool, error)

	// CountBackupCodes cuenta los códigos sin usar. Read-only.
	CountBackupCodes(ctx context.Context, principalID string) (int, error)

	// DeleteBackupCodes borra todos los códigos del principal.
	DeleteBackupCodes(ctx context.Context, principalID string) error

	// ─── Attempt guard ───

	// GetAttempt retorna el registro o un zero-record si no hay fallas.
	GetAttempt(ctx context.Context, principalID, purpose string) (AttemptRecord, error)

	// IncrementFailure suma una falla (upsert atómico) y retorna el
	// registro resultante.
	IncrementFailure(ctx context.Context, principalID, purpose string, at time.Time) (AttemptRecord, error)

	// Lock fija locked_until y suma un episodio, solo si extiende el lock
	// vigente (idempotente ante retry). Retorna el registro resultante.
	Lock(ctx context.Context, principalID, purpose string, until, at time.Time) (AttemptRecord, error)

	// ResetAttempts limpia el registro (éxito de verificación).
	ResetAttempts(ctx context.Context, principalID, purpose string) error

	// ─── Trusted devices ───

	// PutTrustedDevice upsertea la exención para (principal, deviceHash).
	PutTrustedDevice(ctx context.Context, d TrustedDevice) error

	// GetTrustedDevice retorna ErrNotFound si no hay registro.
	GetTrustedDevice(ctx context.Context, principalID, deviceHash string) (*TrustedDevice, error)

	// DeleteTrustedDeviceByToken revoca por token hash.
	DeleteTrustedDeviceByToken(ctx context.Context, principalID, tokenHash string) error

	// DeleteTrustedDevices revoca todas las exenciones del principal.
	DeleteTrustedDevices(ctx context.Context, principalID string) error

	// CountTrustedDevices cuenta exenciones no expiradas.
	CountTrustedDevices(ctx context.Context, principalID string, now time.Time) (int, error)
}

package mfa

import (
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/security/secrets"
)

// Taxonomía de errores del subsistema. El borde HTTP traduce cada uno a
// su código genérico; el detalle queda en logs.
var (
	// ErrInvalidInput: entrada malformada (largo/caracteres de código).
	ErrInvalidInput = errors.New("mfa: invalid input")

	// ErrInvalidCode: el código/backup no matcheó. Mensaje único: no se
	// distingue "código equivocado" de "código ya usado" hacia afuera.
	ErrInvalidCode = errors.New("mfa: invalid code")

	// ErrNotEnrolled: el principal no tiene MFA activo.
	ErrNotEnrolled = errors.New("mfa: not enrolled")

	// ErrAlreadyEnrolled: setup sobre un principal ya confirmado.
	ErrAlreadyEnrolled = errors.New("mfa: already enrolled")

	// ErrReauthRequired: el proof de credencial primaria falta o venció.
	ErrReauthRequired = errors.New("mfa: fresh primary reauth required")

	// ErrStorage: falla transitoria del backend. Retryable para el caller.
	ErrStorage = errors.New("mfa: storage unavailable")

	// ErrEntropy re-exporta la falla fatal del generador.
	ErrEntropy = secrets.ErrEntropy
)

// StateError: operación inválida para el estado de enrolamiento actual.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("mfa: %s not valid in state %s", e.Op, e.State)
}

// LockedError: attempt guard en Locked. Until permite informar Retry-After
// sin revelar nada más.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "mfa: verification locked"
}

// storageErr envuelve una falla del repositorio conservando la causa.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

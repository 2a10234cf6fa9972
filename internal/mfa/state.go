package mfa

import "github.com/dropDatabas3/secondfactor/internal/domain/repository"

// State es el estado de enrolamiento de un principal.
// Unenrolled → PendingConfirmation → Enrolled → Disabled; re-enrolar desde
// Disabled vuelve a PendingConfirmation.
type State int

const (
	StateUnenrolled State = iota
	StatePendingConfirmation
	StateEnrolled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnenrolled:
		return "unenrolled"
	case StatePendingConfirmation:
		return "pending_confirmation"
	case StateEnrolled:
		return "enrolled"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// stateOf deriva el estado desde el storage: disable borra el secreto, así
// que Disabled y Unenrolled coinciden hacia adelante (que es exactamente la
// semántica de re-enroll). Disabled se usa solo como estado de salida.
func stateOf(sec *repository.MFASecret) State {
	switch {
	case sec == nil:
		return StateUnenrolled
	case sec.ConfirmedAt == nil:
		return StatePendingConfirmation
	default:
		return StateEnrolled
	}
}

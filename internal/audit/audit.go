// Package audit emite eventos estructurados del ciclo de vida MFA.
// Hoy van al logger (canal "audit"); el sink puede cambiar a DB o a un
// bus externo sin tocar a los emisores.
package audit

import (
	"context"

	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
	"go.uber.org/zap"
)

// Eventos conocidos. Los emisores usan estas constantes, no strings sueltos.
const (
	EventSetupStarted     = "mfa.setup.started"
	EventEnrollConfirmed  = "mfa.enroll.confirmed"
	EventVerified         = "mfa.verified"
	EventVerifyFailed     = "mfa.verify.failed"
	EventLocked           = "mfa.locked"
	EventBackupConsumed   = "mfa.backup.consumed"
	EventBackupRegenerate = "mfa.backup.regenerated"
	EventDeviceTrusted    = "mfa.device.trusted"
	EventDeviceRevoked    = "mfa.device.revoked"
	EventDisabled         = "mfa.disabled"
)

// Log escribe un evento de auditoría. Nunca incluir secretos, códigos ni
// tokens en los fields.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	all := append([]zap.Field{zap.String("event", event)}, fields...)
	logger.From(ctx).Named("audit").Info("audit", all...)
}

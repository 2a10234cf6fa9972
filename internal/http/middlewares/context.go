package middlewares

import "context"

// =================================================================================
// CONTEXT KEYS
// =================================================================================

type ctxKey string

const (
	// ctxPrincipalKey guarda el principal ID extraído del token de sesión pendiente
	ctxPrincipalKey ctxKey = "principal_id"
	// ctxAccountKey guarda el account name (email) para el label otpauth://
	ctxAccountKey ctxKey = "account_name"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
)

// =================================================================================
// CONTEXT SETTERS (Internos, usados por middlewares)
// =================================================================================

func withPrincipal(ctx context.Context, principalID, accountName string) context.Context {
	ctx = context.WithValue(ctx, ctxPrincipalKey, principalID)
	if accountName != "" {
		ctx = context.WithValue(ctx, ctxAccountKey, accountName)
	}
	return ctx
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// =================================================================================
// CONTEXT GETTERS (Públicos, usados por controllers)
// =================================================================================

// GetPrincipalID obtiene el principal del contexto.
// Retorna cadena vacía si el middleware de auth no se aplicó.
func GetPrincipalID(ctx context.Context) string {
	if v := ctx.Value(ctxPrincipalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetAccountName obtiene el account name (para el label del QR).
// Puede estar vacío si el token de sesión pendiente no lo trae.
func GetAccountName(ctx context.Context) string {
	if v := ctx.Value(ctxAccountKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetRequestID obtiene el request ID del contexto.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(ctxRequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

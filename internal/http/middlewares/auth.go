package middlewares

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/secondfactor/internal/http/errors"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
)

// pendingClaims son las claims del token de sesión pendiente que emite el
// auth primario cuando la contraseña ya pasó pero falta el segundo factor.
// El account name viaja en "acct" para armar el label del otpauth://.
type pendingClaims struct {
	AccountName string `json:"acct,omitempty"`
	jwt.RegisteredClaims
}

// RequirePendingSession valida el Bearer token de sesión pendiente (HS256
// con el secreto compartido con el auth primario) e inyecta el principal
// en el contexto. Sin token válido no se llega a ningún endpoint MFA.
func RequirePendingSession(secret string) Middleware {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				errors.WriteError(w, errors.ErrTokenMissing)
				return
			}

			claims := &pendingClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected alg %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil || claims.Subject == "" {
				logger.From(r.Context()).Debug("pending session rejected", logger.Err(err))
				errors.WriteError(w, errors.ErrTokenInvalid)
				return
			}

			ctx := withPrincipal(r.Context(), claims.Subject, claims.AccountName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

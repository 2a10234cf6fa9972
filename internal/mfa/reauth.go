package mfa

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReauthVerifier valida la prueba de re-autenticación primaria que exigen
// las operaciones destructivas (disable). Retorna error si la prueba
// falta, no verifica o es más vieja que la ventana permitida.
type ReauthVerifier interface {
	VerifyReauth(proof, principalID string) error
}

// hmacReauthVerifier acepta un JWT HS256 emitido por el servicio de auth
// primario tras un login fresco. Comparte el secreto de sesión pendiente.
type hmacReauthVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewReauthVerifier(secret string, maxAge time.Duration) ReauthVerifier {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &hmacReauthVerifier{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

func (v *hmacReauthVerifier) VerifyReauth(proof, principalID string) error {
	if proof == "" {
		return ErrReauthRequired
	}
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(proof, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("reauth: unexpected alg %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithSubject(principalID), jwt.WithTimeFunc(v.now))
	if err != nil {
		return ErrReauthRequired
	}
	// exp cubre el vencimiento nominal; acá además se exige frescura real.
	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > v.maxAge {
		return ErrReauthRequired
	}
	return nil
}

package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	tokens "github.com/dropDatabas3/secondfactor/internal/security/token"
)

const trustTokenBytes = 32 // 256 bits, el doble del mínimo exigido

// TrustedDevices administra las exenciones "recordar este dispositivo".
// El token viaja opaco al cliente y acá solo se guardan hashes: un dump
// de la DB no sirve para fabricar exenciones.
type TrustedDevices struct {
	repo repository.MFARepository
	ttl  time.Duration
	now  func() time.Time
}

func NewTrustedDevices(repo repository.MFARepository, ttl time.Duration) *TrustedDevices {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TrustedDevices{repo: repo, ttl: ttl, now: time.Now}
}

// Issue emite una exención para (principal, fingerprint) y devuelve el
// token plaintext, única vez que existe fuera del cliente. Re-emitir para
// el mismo fingerprint pisa el registro anterior: un token vivo por device.
func (t *TrustedDevices) Issue(ctx context.Context, principalID, fingerprint string) (token string, expiresAt time.Time, err error) {
	token, err = tokens.GenerateOpaqueToken(trustTokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	now := t.now()
	d := repository.TrustedDevice{
		PrincipalID: principalID,
		DeviceHash:  tokens.SHA256Base64URL(fingerprint),
		TokenHash:   tokens.SHA256Base64URL(token),
		IssuedAt:    now,
		ExpiresAt:   now.Add(t.ttl),
	}
	if err := t.repo.PutTrustedDevice(ctx, d); err != nil {
		return "", time.Time{}, storageErr(err)
	}
	return token, d.ExpiresAt, nil
}

// Validate responde si el par (token, fingerprint) exime al principal.
// Expirado, revocado, fingerprint distinto o token ajeno colapsan todos
// en false: un token inválido es indistinguible de uno inexistente.
func (t *TrustedDevices) Validate(ctx context.Context, principalID, token, fingerprint string) (bool, error) {
	if token == "" || fingerprint == "" {
		return false, nil
	}
	d, err := t.repo.GetTrustedDevice(ctx, principalID, tokens.SHA256Base64URL(fingerprint))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storageErr(err)
	}
	if !d.ExpiresAt.After(t.now()) {
		return false, nil
	}
	return tokens.Equal(d.TokenHash, tokens.SHA256Base64URL(token)), nil
}

// Revoke invalida un token puntual. Idempotente: revocar lo ya revocado
// no es error.
func (t *TrustedDevices) Revoke(ctx context.Context, principalID, token string) error {
	if err := t.repo.DeleteTrustedDeviceByToken(ctx, principalID, tokens.SHA256Base64URL(token)); err != nil {
		return storageErr(err)
	}
	return nil
}

// RevokeAll invalida todas las exenciones del principal (disable, o
// "cerrar sesión en todos los dispositivos").
func (t *TrustedDevices) RevokeAll(ctx context.Context, principalID string) error {
	if err := t.repo.DeleteTrustedDevices(ctx, principalID); err != nil {
		return storageErr(err)
	}
	return nil
}

// Count devuelve cuántas exenciones vigentes tiene el principal.
func (t *TrustedDevices) Count(ctx context.Context, principalID string) (int, error) {
	n, err := t.repo.CountTrustedDevices(ctx, principalID, t.now())
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

// Package secrets genera material criptográfico para MFA: el secreto
// compartido TOTP y los lotes de backup codes. Todo sale de crypto/rand;
// si no hay entropía suficiente la operación aborta con ErrEntropy, nunca
// se degrada a una fuente más débil.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dropDatabas3/secondfactor/internal/security/totp"
)

// ErrEntropy indica que el CSPRNG no pudo entregar bytes. Fatal para la
// operación en curso: setup/regenerate deben abortar sin persistir nada.
var ErrEntropy = errors.New("secrets: insufficient entropy")

// SecretLength es el largo del secreto TOTP (160 bits, RFC 4226).
const SecretLength = 20

// BackupAlphabet excluye caracteres ambiguos (0/O, 1/I) para que los
// códigos se puedan tipear desde un papel.
const BackupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTOTPSecret retorna el secreto raw y su base32 sin padding.
func NewTOTPSecret() (raw []byte, b32 string, err error) {
	raw = make([]byte, SecretLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return raw, totp.EncodeSecret(raw), nil
}

// NewSalt retorna n bytes aleatorios para salar hashes de backup codes.
func NewSalt(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return b, nil
}

// NewBackupCodes genera un lote de códigos únicos dentro del lote.
// La colisión intra-lote es casi imposible (32^10 ≈ 2^50) pero el chequeo
// es un requisito de correctitud, no una probabilidad asumida: ante un
// duplicado se regenera ese código, con reintentos acotados.
func NewBackupCodes(count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, fmt.Errorf("secrets: invalid batch params count=%d length=%d", count, length)
	}
	seen := make(map[string]struct{}, count)
	out := make([]string, 0, count)
	const maxRetries = 16
	retries := 0
	for len(out) < count {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			retries++
			if retries > maxRetries {
				return nil, fmt.Errorf("%w: repeated collisions generating backup codes", ErrEntropy)
			}
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

func newBackupCode(length int) (string, error) {
	// Rechazo por módulo: 256 % 32 == 0, así que un byte por carácter
	// no introduce sesgo con este alfabeto.
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	code := make([]byte, length)
	for i, b := range buf {
		code[i] = BackupAlphabet[int(b)%len(BackupAlphabet)]
	}
	return string(code), nil
}

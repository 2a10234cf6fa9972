// Package backupcode hashea backup codes con argon2id y sal por lote.
// Una sola evaluación del KDF por intento: se deriva el hash del código
// presentado con la sal del lote vigente y se compara contra los hashes
// almacenados en forma constant-time.
package backupcode

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

// Default usa parámetros más livianos que los de password hashing: el
// espacio de códigos ya es de ~2^50 y el verify corre en el camino de login.
var Default = Params{Memory: 19 * 1024, Time: 2, Parallelism: 1, KeyLen: 32}

// Hash deriva el hash base64url del código con la sal del lote.
// Los códigos se normalizan a mayúsculas sin espacios antes de hashear.
func Hash(p Params, code string, salt []byte) string {
	dk := argon2.IDKey([]byte(Normalize(code)), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return base64.RawURLEncoding.EncodeToString(dk)
}

// Verify compara el código contra un hash almacenado en constant-time.
func Verify(p Params, code string, salt []byte, storedHash string) bool {
	got := Hash(p, code, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// Normalize deja el código como se generó: mayúsculas, sin espacios ni guiones.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	return strings.ReplaceAll(code, "-", "")
}

package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults RFC 6238: HMAC-SHA1, paso de 30s, 6 dígitos.
const (
	DefaultStep   = 30 * time.Second
	DefaultDigits = 6
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeSecret codifica el secreto raw en base32 sin padding (RFC 3548).
func EncodeSecret(raw []byte) string {
	return b32.EncodeToString(raw)
}

// DecodeSecret decodifica un secreto base32 sin padding.
func DecodeSecret(s string) ([]byte, error) {
	return b32.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}

// Counter devuelve el contador TOTP para un instante dado.
func Counter(t time.Time, step time.Duration) int64 {
	if step <= 0 {
		step = DefaultStep
	}
	return t.Unix() / int64(step/time.Second)
}

// Code deriva el código TOTP para un instante dado.
func Code(secret []byte, t time.Time, step time.Duration, digits int) string {
	return CodeAt(secret, Counter(t, step), digits)
}

// CodeAt deriva el código HOTP para un contador (RFC 4226 / 6238):
// HMAC-SHA1 sobre el contador big-endian, truncado dinámico, módulo 10^digits.
func CodeAt(secret []byte, counter int64, digits int) string {
	if digits <= 0 {
		digits = DefaultDigits
	}
	var msg [8]byte
	c := counter
	for i := 7; i >= 0; i-- {
		msg[i] = byte(c & 0xff)
		c >>= 8
	}
	m := hmac.New(sha1.New, secret)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	otp := bin % int(math.Pow10(digits))
	return fmt.Sprintf("%0*d", digits, otp)
}

// ValidFormat chequea largo y que sean solo dígitos, ANTES de cualquier HMAC.
// Pre-check barato: corta basura sin computar nada.
func ValidFormat(code string, digits int) bool {
	if digits <= 0 {
		digits = DefaultDigits
	}
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Verify verifica un código en ventana ±windowSteps.
// Anti-replay: contadores <= lastCounter se saltean aunque el código matchee.
// Retorna el contador aceptado para que el caller lo persista (CAS) antes de
// dar el éxito por bueno. La comparación es constant-time.
func Verify(secret []byte, code string, t time.Time, step time.Duration, digits, windowSteps int, lastCounter int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if !ValidFormat(code, digits) {
		return false, 0
	}
	if windowSteps < 0 {
		windowSteps = 0
	}
	counter = Counter(t, step)
	start := counter - int64(windowSteps)
	end := counter + int64(windowSteps)
	for c := start; c <= end; c++ {
		if c <= lastCounter {
			continue // anti-replay
		}
		want := CodeAt(secret, c, digits)
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, c
		}
	}
	return false, 0
}

// OTPAuthURL construye la URL otpauth:// para QR.
// otpauth://totp/{issuer}:{account}?secret=...&issuer=...&algorithm=SHA1&digits=6&period=30
func OTPAuthURL(issuer, accountName, secretB32 string, step time.Duration, digits int) string {
	if step <= 0 {
		step = DefaultStep
	}
	if digits <= 0 {
		digits = DefaultDigits
	}
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(digits))
	q.Set("period", strconv.Itoa(int(step/time.Second)))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

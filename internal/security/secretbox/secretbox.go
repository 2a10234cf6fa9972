// Package secretbox cifra el secreto TOTP at-rest con AES-256-GCM.
// El output lleva prefijo versionado ("GCMV1:") para poder rotar el
// esquema sin romper lo ya persistido. La clave es dedicada
// (MFA_ENC_MASTER_KEY), no se comparte con la de firma.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const prefix = "GCMV1:"

var (
	ErrShortKey   = errors.New("secretbox: master key must be at least 32 bytes")
	ErrBadPayload = errors.New("secretbox: malformed ciphertext")
)

// Box cifra/descifra con una clave fija de 32 bytes.
type Box struct {
	key []byte
}

// New valida la clave maestra y retorna el Box. Claves más largas se
// truncan a 32 bytes (AES-256).
func New(masterKey string) (*Box, error) {
	if len(masterKey) < 32 {
		return nil, ErrShortKey
	}
	return &Box{key: []byte(masterKey)[:32]}, nil
}

// Encrypt retorna prefix + hex(nonce||ciphertext).
func (b *Box) Encrypt(plain []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)
	return prefix + hex.EncodeToString(append(nonce, ct...)), nil
}

// Decrypt valida el prefijo y abre el ciphertext.
func (b *Box) Decrypt(enc string) ([]byte, error) {
	if !strings.HasPrefix(enc, prefix) {
		return nil, fmt.Errorf("%w: bad prefix", ErrBadPayload)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(enc, prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(raw) < ns {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrBadPayload)
	}
	return gcm.Open(nil, raw[:ns], raw[ns:], nil)
}

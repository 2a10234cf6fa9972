package mfa

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AssertionClaims es el JWT corto que certifica "este principal completó
// el segundo factor". Lo consume el servicio de auth primario para emitir
// la sesión definitiva. amr lleva el método usado (RFC 8176: otp / mfa).
type AssertionClaims struct {
	Methods []string `json:"amr"`
	jwt.RegisteredClaims
}

// AssertionSigner firma assertions con EdDSA. La clave se deriva de una
// seed ed25519 de 32 bytes provista por entorno.
type AssertionSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	kid      string
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewAssertionSigner construye el firmante desde la seed en base64
// (estándar o url-safe, con o sin padding).
func NewAssertionSigner(seedB64, issuer, audience string, ttl time.Duration) (*AssertionSigner, error) {
	seed, err := decodeB64(seedB64)
	if err != nil {
		return nil, fmt.Errorf("assertion: bad signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("assertion: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AssertionSigner{
		priv:     priv,
		pub:      pub,
		// kid estable derivado de la pública: permite rotación sin registry.
		kid:      base64.RawURLEncoding.EncodeToString(pub)[:8],
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Sign emite la assertion para un principal que acaba de verificar.
// method: "totp" o "backup_code".
func (s *AssertionSigner) Sign(principalID, method string) (string, error) {
	now := s.now()
	claims := AssertionClaims{
		Methods: []string{"mfa", method},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principalID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("assertion: sign: %w", err)
	}
	return signed, nil
}

// PublicKey expone la verificadora (para publicarla al servicio primario).
func (s *AssertionSigner) PublicKey() ed25519.PublicKey { return s.pub }

// Verify valida una assertion emitida por este firmante. Lo usa el test
// harness y el endpoint de introspección.
func (s *AssertionSigner) Verify(token string) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("assertion: unexpected alg %v", t.Header["alg"])
		}
		return s.pub, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func decodeB64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("not valid base64")
}

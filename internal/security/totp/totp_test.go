package totp

import (
	"testing"
	"time"
)

// Vectores RFC 6238 (Apéndice B, SHA1). El estándar lista códigos de 8
// dígitos; acá truncamos a los 6 menos significativos, que es lo que
// produce CodeAt con digits=6.
func TestCodeAt_RFC6238Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	cases := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, c := range cases {
		got := Code(secret, time.Unix(c.unix, 0).UTC(), DefaultStep, DefaultDigits)
		if got != c.want {
			t.Fatalf("Code(t=%d) = %q, want %q", c.unix, got, c.want)
		}
	}
}

func TestVerify_Window(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0).UTC()

	for _, delta := range []time.Duration{0, -30 * time.Second, 30 * time.Second} {
		code := Code(secret, now.Add(delta), DefaultStep, DefaultDigits)
		ok, _ := Verify(secret, code, now, DefaultStep, DefaultDigits, 1, 0)
		if !ok {
			t.Fatalf("código para skew %v debería aceptarse", delta)
		}
	}

	for _, delta := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		code := Code(secret, now.Add(delta), DefaultStep, DefaultDigits)
		ok, _ := Verify(secret, code, now, DefaultStep, DefaultDigits, 1, 0)
		if ok {
			t.Fatalf("código para skew %v NO debería aceptarse con window=1", delta)
		}
	}
}

func TestVerify_AntiReplay(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0).UTC()

	code := Code(secret, now, DefaultStep, DefaultDigits)
	ok, counter := Verify(secret, code, now, DefaultStep, DefaultDigits, 1, 0)
	if !ok {
		t.Fatal("primer uso debería aceptarse")
	}

	// Mismo código, contador ya consumido: rechazado aunque sigue en ventana.
	ok, _ = Verify(secret, code, now, DefaultStep, DefaultDigits, 1, counter)
	if ok {
		t.Fatal("replay del mismo contador debería rechazarse")
	}

	// Un paso después el código nuevo sí pasa.
	next := now.Add(30 * time.Second)
	code2 := Code(secret, next, DefaultStep, DefaultDigits)
	ok, _ = Verify(secret, code2, next, DefaultStep, DefaultDigits, 1, counter)
	if !ok {
		t.Fatal("código del paso siguiente debería aceptarse")
	}
}

func TestValidFormat(t *testing.T) {
	cases := []struct {
		code string
		ok   bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{"", false},
		{"12 456", false},
	}
	for _, c := range cases {
		if got := ValidFormat(c.code, 6); got != c.ok {
			t.Errorf("ValidFormat(%q) = %v, want %v", c.code, got, c.ok)
		}
	}
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("SecondFactor", "ana@example.com", "JBSWY3DPEHPK3PXP", DefaultStep, DefaultDigits)
	want := "otpauth://totp/SecondFactor:ana@example.com?algorithm=SHA1&digits=6&issuer=SecondFactor&period=30&secret=JBSWY3DPEHPK3PXP"
	if u != want {
		t.Fatalf("OTPAuthURL = %q, want %q", u, want)
	}
}

func TestEncodeDecodeSecret(t *testing.T) {
	raw := []byte("12345678901234567890")
	enc := EncodeSecret(raw)
	back, err := DecodeSecret(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != string(raw) {
		t.Fatalf("roundtrip base32 falló: %q", back)
	}
}

package backupcode

import "testing"

func TestHashVerify_RoundTrip(t *testing.T) {
	salt := []byte("0123456789abcdef")
	h := Hash(Default, "ABCDE23456", salt)

	if !Verify(Default, "ABCDE23456", salt, h) {
		t.Fatal("el mismo código debería verificar")
	}
	if Verify(Default, "ABCDE23457", salt, h) {
		t.Fatal("otro código no debería verificar")
	}
	if Verify(Default, "ABCDE23456", []byte("otra-sal-xxxxxxx"), h) {
		t.Fatal("otra sal no debería verificar")
	}
}

func TestHash_SaltChangesHash(t *testing.T) {
	a := Hash(Default, "ABCDE23456", []byte("salt-aaaaaaaaaaa"))
	b := Hash(Default, "ABCDE23456", []byte("salt-bbbbbbbbbbb"))
	if a == b {
		t.Fatal("la sal no está entrando al KDF")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		" abcde23456 ": "ABCDE23456",
		"ABCDE-23456":  "ABCDE23456",
		"abc de 23456": "ABCDE23456",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

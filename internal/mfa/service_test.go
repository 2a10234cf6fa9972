package mfa

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/secondfactor/internal/security/backupcode"
	"github.com/dropDatabas3/secondfactor/internal/security/secretbox"
	"github.com/dropDatabas3/secondfactor/internal/security/totp"
	"github.com/dropDatabas3/secondfactor/internal/store/memory"
)

const testReauthSecret = "test-reauth-secret"

type testEnv struct {
	svc    *Service
	store  *memory.Store
	clk    *fakeClock
	signer *AssertionSigner
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	clk := newFakeClock()
	store := memory.New()

	box, err := secretbox.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	seed := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, ed25519.SeedSize))
	signer, err := NewAssertionSigner(seed, "secondfactor", "primary-auth", 5*time.Minute)
	require.NoError(t, err)
	signer.now = clk.Now

	reauth := NewReauthVerifier(testReauthSecret, 5*time.Minute).(*hmacReauthVerifier)
	reauth.now = clk.Now

	svc := NewService(store, box, signer, reauth, ServiceConfig{
		Issuer:   "Acme",
		TrustTTL: 720 * time.Hour,
	})
	svc.setClock(clk.Now)
	// argon2 liviano: los tests validan lógica, no costo de KDF
	svc.backups.params = backupcode.Params{Memory: 64, Time: 1, Parallelism: 1, KeyLen: 32}

	return &testEnv{svc: svc, store: store, clk: clk, signer: signer}
}

// enroll deja al principal enrolado y confirmado. Avanza un paso TOTP al
// final para que el próximo código generado no sea un replay del de confirm.
func (e *testEnv) enroll(t *testing.T, principal string) (secret []byte, codes []string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.svc.Setup(ctx, principal, principal+"@example.com")
	require.NoError(t, err)
	secret, err = totp.DecodeSecret(res.SecretB32)
	require.NoError(t, err)
	require.NoError(t, e.svc.ConfirmSetup(ctx, principal, e.code(secret)))
	e.clk.Advance(30 * time.Second)
	return secret, res.BackupCodes
}

func (e *testEnv) code(secret []byte) string {
	return totp.Code(secret, e.clk.Now(), 30*time.Second, 6)
}

// wrongCode devuelve un código con formato válido que NO matchea en la
// ventana actual (±1 paso).
func (e *testEnv) wrongCode(secret []byte) string {
	c := totp.Counter(e.clk.Now(), 30*time.Second)
	window := map[string]bool{}
	for d := c - 1; d <= c+1; d++ {
		window[totp.CodeAt(secret, d, 6)] = true
	}
	for _, cand := range []string{"000000", "111111", "222222", "333333"} {
		if !window[cand] {
			return cand
		}
	}
	return "000000"
}

func (e *testEnv) reauthProof(t *testing.T, principal string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   principal,
		IssuedAt:  jwt.NewNumericDate(e.clk.Now()),
		ExpiresAt: jwt.NewNumericDate(e.clk.Now().Add(5 * time.Minute)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testReauthSecret))
	require.NoError(t, err)
	return s
}

// ───────────────────────────── Enrolamiento ─────────────────────────────

func TestEnrollmentLifecycle(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, StateUnenrolled, st.State)

	res, err := e.svc.Setup(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, res.SecretB32)
	require.Contains(t, res.OTPAuthURL, "otpauth://totp/")
	require.Contains(t, res.OTPAuthURL, "issuer=Acme")

	// El lote de backup codes sale acá, una sola vez.
	require.Len(t, res.BackupCodes, 10)
	seen := map[string]bool{}
	for _, c := range res.BackupCodes {
		require.Len(t, c, 10)
		require.False(t, seen[c], "códigos repetidos en el lote")
		seen[c] = true
	}

	st, err = e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, StatePendingConfirmation, st.State)

	// QR disponible solo en pending.
	png, err := e.svc.SetupQR(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	secret, err := totp.DecodeSecret(res.SecretB32)
	require.NoError(t, err)

	// Código equivocado no confirma.
	err = e.svc.ConfirmSetup(ctx, "p1", e.wrongCode(secret))
	require.ErrorIs(t, err, ErrInvalidCode)

	require.NoError(t, e.svc.ConfirmSetup(ctx, "p1", e.code(secret)))

	st, err = e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, StateEnrolled, st.State)
	require.Equal(t, 10, st.BackupRemaining)

	// Enrolado: ni setup de nuevo ni QR.
	_, err = e.svc.Setup(ctx, "p1", "p1@example.com")
	require.ErrorIs(t, err, ErrAlreadyEnrolled)
	_, err = e.svc.SetupQR(ctx, "p1", "p1@example.com")
	var se *StateError
	require.ErrorAs(t, err, &se)
}

func TestSetup_ReissueBeforeConfirm(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()

	res1, err := e.svc.Setup(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
	res2, err := e.svc.Setup(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
	require.NotEqual(t, res1.SecretB32, res2.SecretB32)

	// El secreto viejo quedó invalidado.
	old, err := totp.DecodeSecret(res1.SecretB32)
	require.NoError(t, err)
	err = e.svc.ConfirmSetup(ctx, "p1", e.code(old))
	require.ErrorIs(t, err, ErrInvalidCode)

	fresh, err := totp.DecodeSecret(res2.SecretB32)
	require.NoError(t, err)
	require.NoError(t, e.svc.ConfirmSetup(ctx, "p1", e.code(fresh)))

	// El lote viejo también: solo los códigos del segundo setup viven.
	e.clk.Advance(30 * time.Second)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: res1.BackupCodes[0]})
	require.ErrorIs(t, err, ErrInvalidCode)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: res2.BackupCodes[0]})
	require.NoError(t, err)
}

// ───────────────────────────── Verificación ─────────────────────────────

func TestVerify_TOTPAndReplay(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	code := e.code(secret)
	res, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: code})
	require.NoError(t, err)
	require.Equal(t, MethodTOTP, res.Method)

	// La assertion certifica principal y método.
	require.NotEmpty(t, res.Assertion)
	claims, err := e.signer.Verify(res.Assertion)
	require.NoError(t, err)
	require.Equal(t, "p1", claims.Subject)
	require.Contains(t, claims.Methods, "mfa")
	require.Contains(t, claims.Methods, MethodTOTP)

	// Replay del mismo código dentro de la ventana: rechazado.
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: code})
	require.ErrorIs(t, err, ErrInvalidCode)

	// El paso siguiente vuelve a funcionar.
	e.clk.Advance(30 * time.Second)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: e.code(secret)})
	require.NoError(t, err)
}

func TestVerify_ClockSkewWindow(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")
	e.clk.Advance(30 * time.Second)

	// Código del paso anterior: dentro de ±1, aceptado.
	prev := totp.Code(secret, e.clk.Now().Add(-30*time.Second), 30*time.Second, 6)
	_, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: prev})
	require.NoError(t, err)

	// Dos pasos atrás: fuera de ventana.
	e.clk.Advance(30 * time.Second)
	stale := totp.Code(secret, e.clk.Now().Add(-60*time.Second), 30*time.Second, 6)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: stale})
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerify_NotEnrolled(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()

	_, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "ghost", Code: "123456"})
	require.ErrorIs(t, err, ErrNotEnrolled)

	// Pending tampoco verifica: primero hay que confirmar.
	_, err = e.svc.Setup(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: "123456"})
	require.ErrorIs(t, err, ErrNotEnrolled)
}

func TestVerify_LockoutAndRecovery(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	for i := 0; i < 5; i++ {
		_, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: e.wrongCode(secret)})
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	// Lockeado: ni el código correcto entra.
	var le *LockedError
	_, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: e.code(secret)})
	require.ErrorAs(t, err, &le)

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, GuardLocked, st.Guard)
	require.NotNil(t, st.LockedUntil)

	// Pasada la ventana, el código correcto verifica y resetea el guard.
	e.clk.Advance(61 * time.Second)
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: e.code(secret)})
	require.NoError(t, err)

	st, err = e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, GuardOpen, st.Guard)
}

// ───────────────────────────── Backup codes ─────────────────────────────

func TestVerify_BackupCode(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	_, codes := e.enroll(t, "p1")

	// La entrada se normaliza: minúsculas, espacios y guiones dan igual.
	messy := "  " + codes[0][:5] + "-" + codes[0][5:] + " "
	res, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: messy})
	require.NoError(t, err)
	require.Equal(t, MethodBackupCode, res.Method)

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 9, st.BackupRemaining)

	// Single-use: el mismo código no entra dos veces.
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: codes[0]})
	require.ErrorIs(t, err, ErrInvalidCode)

	// Los demás códigos del lote siguen vivos.
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: codes[1]})
	require.NoError(t, err)
}

func TestBackupCode_ConcurrentSingleUse(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	_, codes := e.enroll(t, "p1")

	// Umbral alto: este test mide atomicidad de consumo, no lockout.
	e.svc.guard = NewGuard(e.store, GuardConfig{Threshold: 1000})
	e.svc.guard.now = e.clk.Now

	const n = 50
	var successes, failures atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: codes[0]})
			if err == nil {
				successes.Add(1)
			} else {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), successes.Load(), "exactamente un request debe ganar el código")
	require.Equal(t, int64(n-1), failures.Load())

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 9, st.BackupRemaining)
}

func TestRegenerateBackupCodes_InvalidatesOldBatch(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, oldCodes := e.enroll(t, "p1")

	newCodes, err := e.svc.RegenerateBackupCodes(ctx, "p1", e.code(secret))
	require.NoError(t, err)
	require.Len(t, newCodes, 10)

	// El lote viejo murió entero, aunque ningún código se haya usado.
	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: oldCodes[0]})
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: newCodes[0]})
	require.NoError(t, err)
}

func TestRegenerateBackupCodes_AcceptsBackupAsProof(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	_, codes := e.enroll(t, "p1")

	// Caso "perdí el teléfono": un backup code vivo autoriza el regenerate
	// (y queda gastado, pero el lote nuevo lo reemplaza igual).
	newCodes, err := e.svc.RegenerateBackupCodes(ctx, "p1", codes[0])
	require.NoError(t, err)
	require.Len(t, newCodes, 10)

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 10, st.BackupRemaining)
}

func TestRegenerateBackupCodes_WrongCode(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	_, err := e.svc.RegenerateBackupCodes(ctx, "p1", e.wrongCode(secret))
	require.ErrorIs(t, err, ErrInvalidCode)
}

// ───────────────────────────── Trusted devices ─────────────────────────────

func TestTrustedDevice_Flow(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	res, err := e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		Code:              e.code(secret),
		DeviceFingerprint: "fp-1",
		RememberDevice:    true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TrustToken)
	require.Equal(t, e.clk.Now().Add(720*time.Hour), res.TrustExpiresAt)

	// Token + fingerprint correcto: exime sin código.
	got, err := e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		TrustToken:        res.TrustToken,
		DeviceFingerprint: "fp-1",
	})
	require.NoError(t, err)
	require.Equal(t, MethodTrustedDevice, got.Method)
	require.Empty(t, got.TrustToken)

	// Mismo token desde OTRO fingerprint: no exime, y sin código es input inválido.
	_, err = e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		TrustToken:        res.TrustToken,
		DeviceFingerprint: "fp-2",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	// Token adulterado: ídem.
	_, err = e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		TrustToken:        res.TrustToken + "x",
		DeviceFingerprint: "fp-1",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTrustedDevice_ExpiryAndRevoke(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	res, err := e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		Code:              e.code(secret),
		DeviceFingerprint: "fp-1",
		RememberDevice:    true,
	})
	require.NoError(t, err)

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, st.TrustedDevices)

	// Revocado: el token deja de eximir.
	require.NoError(t, e.svc.RevokeTrustedDevice(ctx, "p1", res.TrustToken))
	_, err = e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		TrustToken:        res.TrustToken,
		DeviceFingerprint: "fp-1",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	// Re-emitir y dejar vencer: expirado equivale a inexistente.
	e.clk.Advance(30 * time.Second)
	res, err = e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		Code:              e.code(secret),
		DeviceFingerprint: "fp-1",
		RememberDevice:    true,
	})
	require.NoError(t, err)
	e.clk.Advance(721 * time.Hour)
	_, err = e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		TrustToken:        res.TrustToken,
		DeviceFingerprint: "fp-1",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

// ───────────────────────────── Disable ─────────────────────────────

func TestDisable_RequiresFreshReauth(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	err := e.svc.Disable(ctx, "p1", e.code(secret), "")
	require.ErrorIs(t, err, ErrReauthRequired)

	err = e.svc.Disable(ctx, "p1", e.code(secret), "garbage")
	require.ErrorIs(t, err, ErrReauthRequired)

	// Proof válido pero viejo: la frescura manda.
	stale := e.reauthProof(t, "p1")
	e.clk.Advance(6 * time.Minute)
	err = e.svc.Disable(ctx, "p1", e.code(secret), stale)
	require.ErrorIs(t, err, ErrReauthRequired)

	// Proof de otro principal: no sirve.
	err = e.svc.Disable(ctx, "p1", e.code(secret), e.reauthProof(t, "p2"))
	require.ErrorIs(t, err, ErrReauthRequired)
}

func TestDisable_FullTeardown(t *testing.T) {
	e := newTestService(t)
	ctx := context.Background()
	secret, _ := e.enroll(t, "p1")

	// Dejar un trusted device y unas fallas colgando para verificar limpieza.
	_, err := e.svc.Verify(ctx, VerifyInput{
		PrincipalID:       "p1",
		Code:              e.code(secret),
		DeviceFingerprint: "fp-1",
		RememberDevice:    true,
	})
	require.NoError(t, err)
	e.clk.Advance(30 * time.Second)

	err = e.svc.Disable(ctx, "p1", e.wrongCode(secret), e.reauthProof(t, "p1"))
	require.ErrorIs(t, err, ErrInvalidCode)

	require.NoError(t, e.svc.Disable(ctx, "p1", e.code(secret), e.reauthProof(t, "p1")))

	st, err := e.svc.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, StateUnenrolled, st.State)

	_, err = e.svc.Verify(ctx, VerifyInput{PrincipalID: "p1", Code: e.code(secret)})
	require.ErrorIs(t, err, ErrNotEnrolled)

	// Re-enroll arranca de cero.
	_, err = e.svc.Setup(ctx, "p1", "p1@example.com")
	require.NoError(t, err)
}

package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/secondfactor/internal/http/controllers"
	"github.com/dropDatabas3/secondfactor/internal/mfa"
	"github.com/dropDatabas3/secondfactor/internal/security/secretbox"
	"github.com/dropDatabas3/secondfactor/internal/security/totp"
	"github.com/dropDatabas3/secondfactor/internal/store/memory"
)

const testSessionSecret = "router-test-session-secret"

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	box, err := secretbox.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	svc := mfa.NewService(memory.New(), box, nil,
		mfa.NewReauthVerifier(testSessionSecret, 5*time.Minute),
		mfa.ServiceConfig{Issuer: "Acme"})

	mux := http.NewServeMux()
	Register(Deps{
		Mux:                  mux,
		MFA:                  controllers.NewMFAController(svc),
		Health:               controllers.NewHealthController("test", nil),
		PendingSessionSecret: testSessionSecret,
	})
	return mux
}

func pendingToken(t *testing.T, principal string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  principal,
		"acct": principal + "@example.com",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(10 * time.Minute).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSecret))
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_RequirePendingSession(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/v1/mfa/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "TOKEN_MISSING", body["code"])

	// Token firmado con otro secreto tampoco pasa.
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "p1"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = doJSON(t, mux, http.MethodGet, "/v1/mfa/status", bad, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_EnrollVerifyFlow(t *testing.T) {
	mux := newTestMux(t)
	token := pendingToken(t, "2f4f8a1e-0000-4000-8000-000000000001")

	// Setup: el secreto viaja una vez, con no-store.
	rec := doJSON(t, mux, http.MethodPost, "/v1/mfa/totp/setup", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var setup struct {
		Secret      string   `json:"secret"`
		OTPAuthURL  string   `json:"otpauth_url"`
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setup))
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.OTPAuthURL, "otpauth://totp/")
	require.Len(t, setup.BackupCodes, 10)

	secret, err := totp.DecodeSecret(setup.Secret)
	require.NoError(t, err)

	// Confirm con código equivocado: 401 genérico.
	rec = doJSON(t, mux, http.MethodPost, "/v1/mfa/totp/confirm", token,
		map[string]string{"code": "000000"})
	if rec.Code != http.StatusUnauthorized {
		// colisión astronómicamente improbable con el código real
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	// Confirm con el código real: queda enrolado.
	code := totp.Code(secret, time.Now(), totp.DefaultStep, totp.DefaultDigits)
	rec = doJSON(t, mux, http.MethodPost, "/v1/mfa/totp/confirm", token,
		map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)

	var confirm struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirm))
	require.Equal(t, "enrolled", confirm.State)

	// Verify con un backup code (no depende del reloj del test).
	rec = doJSON(t, mux, http.MethodPost, "/v1/mfa/verify", token,
		map[string]string{"code": setup.BackupCodes[0]})
	require.Equal(t, http.StatusOK, rec.Code)

	var verify struct {
		Method string `json:"method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	require.Equal(t, "backup_code", verify.Method)

	// Status refleja el consumo.
	rec = doJSON(t, mux, http.MethodGet, "/v1/mfa/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		State           string `json:"state"`
		BackupRemaining int    `json:"backup_remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "enrolled", status.State)
	require.Equal(t, 9, status.BackupRemaining)
}

func TestRoutes_MethodNotAllowedAndNotFound(t *testing.T) {
	mux := newTestMux(t)
	token := pendingToken(t, "2f4f8a1e-0000-4000-8000-000000000002")

	rec := doJSON(t, mux, http.MethodGet, "/v1/mfa/verify", token, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "POST", rec.Header().Get("Allow"))

	rec = doJSON(t, mux, http.MethodGet, "/v1/mfa/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_Health(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

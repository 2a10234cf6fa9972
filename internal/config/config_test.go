package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	os.Setenv("MFA_ENC_MASTER_KEY", "0123456789abcdef0123456789abcdef")
	os.Setenv("PENDING_SESSION_SECRET", "shhh")
	os.Setenv("MFA_TOTP_ISSUER", "Acme")
	defer func() {
		os.Unsetenv("MFA_ENC_MASTER_KEY")
		os.Unsetenv("PENDING_SESSION_SECRET")
		os.Unsetenv("MFA_TOTP_ISSUER")
	}()

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 5, cfg.MFA.Guard.Threshold)
	require.Equal(t, "60s", cfg.MFA.Guard.BaseCooldown)
	require.Equal(t, 10, cfg.MFA.Backup.Count)
	require.Equal(t, "Acme", cfg.MFA.Issuer) // env pisa el default
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
mfa:
  guard:
    threshold: 3
    base_cooldown: 10s
  backup:
    count: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MFA.Guard.Threshold)
	require.Equal(t, "10s", cfg.MFA.Guard.BaseCooldown)
	require.Equal(t, 8, cfg.MFA.Backup.Count)
	// lo no seteado conserva defaults
	require.Equal(t, "30m", cfg.MFA.Guard.MaxCooldown)
}

func TestValidate_MissingSecrets(t *testing.T) {
	os.Unsetenv("MFA_ENC_MASTER_KEY")
	os.Unsetenv("PENDING_SESSION_SECRET")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

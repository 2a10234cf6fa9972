package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config del servicio. Se carga de YAML y se pisa con env vars.
// Los secretos (claves de cifrado y firma) vienen SOLO de env.
type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		Postgres struct {
			DSN             string `yaml:"dsn"`
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Verify  struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"verify"`
		Setup struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"setup"`
		Manage struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"manage"`
	} `yaml:"rate"`

	MFA struct {
		// Issuer que aparece en la app autenticadora.
		Issuer string `yaml:"issuer"`

		TOTP struct {
			Window int `yaml:"window"` // pasos de tolerancia hacia cada lado (0..3)
			StepS  int `yaml:"step_seconds"`
			Digits int `yaml:"digits"`
		} `yaml:"totp"`

		Backup struct {
			Count  int `yaml:"count"`
			Length int `yaml:"length"`
		} `yaml:"backup"`

		Guard struct {
			Threshold    int    `yaml:"threshold"`
			BaseCooldown string `yaml:"base_cooldown"`
			MaxCooldown  string `yaml:"max_cooldown"`
		} `yaml:"guard"`

		Trust struct {
			TTL string `yaml:"ttl"`
		} `yaml:"trust"`

		Assertion struct {
			Issuer   string `yaml:"issuer"`
			Audience string `yaml:"audience"`
			TTL      string `yaml:"ttl"`
		} `yaml:"assertion"`

		Reauth struct {
			MaxAge string `yaml:"max_age"`
		} `yaml:"reauth"`
	} `yaml:"mfa"`

	// Env-only, nunca YAML.
	EncMasterKey         string `yaml:"-"` // MFA_ENC_MASTER_KEY
	PendingSessionSecret string `yaml:"-"` // PENDING_SESSION_SECRET
	AssertionSigningKey  string `yaml:"-"` // ASSERTION_SIGNING_KEY (seed ed25519 base64)
}

// Load lee el YAML (opcional: path vacío usa solo defaults+env) y aplica
// overrides de entorno.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.App.Env = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("CACHE_KIND"); v != "" {
		c.Cache.Kind = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("MFA_TOTP_ISSUER"); v != "" {
		c.MFA.Issuer = v
	}
	if v := os.Getenv("MFA_TOTP_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 3 {
			c.MFA.TOTP.Window = n
		}
	}
	c.EncMasterKey = os.Getenv("MFA_ENC_MASTER_KEY")
	c.PendingSessionSecret = os.Getenv("PENDING_SESSION_SECRET")
	c.AssertionSigningKey = os.Getenv("ASSERTION_SIGNING_KEY")
}

// Normalize aplica defaults a todo lo que quedó en cero.
func (c *Config) Normalize() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8084"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.ConnMaxLifetime == "" {
		c.Storage.Postgres.ConnMaxLifetime = "30m"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "sf:"
	}
	if c.Rate.Verify.Limit == 0 {
		c.Rate.Verify.Limit = 30
	}
	if c.Rate.Verify.Window == "" {
		c.Rate.Verify.Window = "1m"
	}
	if c.Rate.Setup.Limit == 0 {
		c.Rate.Setup.Limit = 10
	}
	if c.Rate.Setup.Window == "" {
		c.Rate.Setup.Window = "1m"
	}
	if c.Rate.Manage.Limit == 0 {
		c.Rate.Manage.Limit = 10
	}
	if c.Rate.Manage.Window == "" {
		c.Rate.Manage.Window = "1m"
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "SecondFactor"
	}
	if c.MFA.TOTP.Window == 0 {
		c.MFA.TOTP.Window = 1
	}
	if c.MFA.TOTP.StepS == 0 {
		c.MFA.TOTP.StepS = 30
	}
	if c.MFA.TOTP.Digits == 0 {
		c.MFA.TOTP.Digits = 6
	}
	if c.MFA.Backup.Count == 0 {
		c.MFA.Backup.Count = 10
	}
	if c.MFA.Backup.Length == 0 {
		c.MFA.Backup.Length = 10
	}
	if c.MFA.Guard.Threshold == 0 {
		c.MFA.Guard.Threshold = 5
	}
	if c.MFA.Guard.BaseCooldown == "" {
		c.MFA.Guard.BaseCooldown = "60s"
	}
	if c.MFA.Guard.MaxCooldown == "" {
		c.MFA.Guard.MaxCooldown = "30m"
	}
	if c.MFA.Trust.TTL == "" {
		c.MFA.Trust.TTL = "720h" // 30 días
	}
	if c.MFA.Assertion.Issuer == "" {
		c.MFA.Assertion.Issuer = "secondfactor"
	}
	if c.MFA.Assertion.Audience == "" {
		c.MFA.Assertion.Audience = "primary-auth"
	}
	if c.MFA.Assertion.TTL == "" {
		c.MFA.Assertion.TTL = "5m"
	}
	if c.MFA.Reauth.MaxAge == "" {
		c.MFA.Reauth.MaxAge = "5m"
	}
}

// Duration parsea un campo de duración ya normalizado. Panic solo si un
// default propio está roto; los valores de usuario fallan en Validate.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: bad duration %q", s))
	}
	return d
}

// Validate chequea lo que no tiene default razonable.
func (c *Config) Validate() error {
	var errs []string
	if len(c.EncMasterKey) < 32 {
		errs = append(errs, "MFA_ENC_MASTER_KEY must be at least 32 bytes")
	}
	if c.PendingSessionSecret == "" {
		errs = append(errs, "PENDING_SESSION_SECRET is required")
	}
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.DSN == "" {
		errs = append(errs, "storage.postgres.dsn is required with driver=postgres")
	}
	for _, d := range []string{
		c.MFA.Guard.BaseCooldown, c.MFA.Guard.MaxCooldown, c.MFA.Trust.TTL,
		c.MFA.Assertion.TTL, c.MFA.Reauth.MaxAge,
		c.Rate.Verify.Window, c.Rate.Setup.Window, c.Rate.Manage.Window,
		c.Storage.Postgres.ConnMaxLifetime,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Sprintf("bad duration %q", d))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

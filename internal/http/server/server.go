// Package server arma el handler HTTP con todas las dependencias cableadas.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/secondfactor/internal/cache"
	"github.com/dropDatabas3/secondfactor/internal/config"
	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/dropDatabas3/secondfactor/internal/http/controllers"
	"github.com/dropDatabas3/secondfactor/internal/http/router"
	"github.com/dropDatabas3/secondfactor/internal/metrics"
	"github.com/dropDatabas3/secondfactor/internal/mfa"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
	"github.com/dropDatabas3/secondfactor/internal/rate"
	"github.com/dropDatabas3/secondfactor/internal/security/secretbox"
	"github.com/dropDatabas3/secondfactor/internal/store/memory"
	"github.com/dropDatabas3/secondfactor/internal/store/pg"
)

// Build construye el handler a partir de la config validada.
// Devuelve también el cleanup que cierra pool y cache.
func Build(ctx context.Context, cfg *config.Config, version string) (http.Handler, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := metrics.Register(nil); err != nil {
		return nil, nil, fmt.Errorf("server: register metrics: %w", err)
	}

	// 1. Storage
	var repo repository.MFARepository
	var pgStore *pg.Store
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.New(ctx, pg.Config{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			ConnMaxLifetime: config.Duration(cfg.Storage.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			return nil, nil, err
		}
		pgStore = st
		repo = st
	default:
		repo = memory.New()
	}

	// 2. Cache (respalda el rate limiter por IP)
	cacheClient := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})

	cleanup := func() error {
		if pgStore != nil {
			pgStore.Close()
		}
		return cacheClient.Close()
	}

	// 3. Cifrado del secreto at-rest
	box, err := secretbox.New(cfg.EncMasterKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// 4. Assertion signer (opcional: sin seed no se emiten assertions)
	var signer *mfa.AssertionSigner
	if cfg.AssertionSigningKey != "" {
		signer, err = mfa.NewAssertionSigner(
			cfg.AssertionSigningKey,
			cfg.MFA.Assertion.Issuer,
			cfg.MFA.Assertion.Audience,
			config.Duration(cfg.MFA.Assertion.TTL),
		)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	} else {
		logger.L().Warn("ASSERTION_SIGNING_KEY not set, verify responses will carry no assertion")
	}

	// 5. Service MFA
	reauth := mfa.NewReauthVerifier(cfg.PendingSessionSecret, config.Duration(cfg.MFA.Reauth.MaxAge))
	svc := mfa.NewService(repo, box, signer, reauth, mfa.ServiceConfig{
		Issuer:       cfg.MFA.Issuer,
		TOTPStep:     config.Duration(fmt.Sprintf("%ds", cfg.MFA.TOTP.StepS)),
		TOTPDigits:   cfg.MFA.TOTP.Digits,
		TOTPWindow:   cfg.MFA.TOTP.Window,
		BackupCount:  cfg.MFA.Backup.Count,
		BackupLength: cfg.MFA.Backup.Length,
		Guard: mfa.GuardConfig{
			Threshold:    cfg.MFA.Guard.Threshold,
			BaseCooldown: config.Duration(cfg.MFA.Guard.BaseCooldown),
			MaxCooldown:  config.Duration(cfg.MFA.Guard.MaxCooldown),
		},
		TrustTTL: config.Duration(cfg.MFA.Trust.TTL),
	})

	// 6. Rate limiters por grupo
	var verifyL, setupL, manageL rate.Limiter
	if cfg.Rate.Enabled {
		verifyL = rate.NewWindowLimiter(cacheClient, "rl:verify:", cfg.Rate.Verify.Limit, config.Duration(cfg.Rate.Verify.Window))
		setupL = rate.NewWindowLimiter(cacheClient, "rl:setup:", cfg.Rate.Setup.Limit, config.Duration(cfg.Rate.Setup.Window))
		manageL = rate.NewWindowLimiter(cacheClient, "rl:manage:", cfg.Rate.Manage.Limit, config.Duration(cfg.Rate.Manage.Window))
	}

	// 7. Health components
	components := map[string]controllers.Pinger{"cache": cacheClient}
	if pgStore != nil {
		components["postgres"] = pgStore
	}

	// 8. Router
	mux := http.NewServeMux()
	router.Register(router.Deps{
		Mux:                  mux,
		MFA:                  controllers.NewMFAController(svc),
		Health:               controllers.NewHealthController(version, components),
		PendingSessionSecret: cfg.PendingSessionSecret,
		VerifyLimiter:        verifyL,
		SetupLimiter:         setupL,
		ManageLimiter:        manageL,
	})

	return mux, cleanup, nil
}

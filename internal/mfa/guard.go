package mfa

import (
	"context"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/audit"
	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/dropDatabas3/secondfactor/internal/metrics"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
)

// Propósitos del guard. Cada flujo acumula fallas por separado.
const (
	PurposeVerify  = "verify"
	PurposeConfirm = "confirm"
	PurposeManage  = "manage"
)

// GuardState para Status: espejo del modelo Open/Warning/Locked.
type GuardState int

const (
	GuardOpen GuardState = iota
	GuardWarning
	GuardLocked
)

func (s GuardState) String() string {
	switch s {
	case GuardWarning:
		return "warning"
	case GuardLocked:
		return "locked"
	default:
		return "open"
	}
}

// GuardConfig parametriza el lockout. Defaults: 5 fallas, 60s de base,
// doblando por episodio hasta 30m. Política elegida: el contador histórico
// NO se limpia cuando expira el lock; esperar la ventana no regala intentos.
type GuardConfig struct {
	Threshold    int
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = 60 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 30 * time.Minute
	}
	return c
}

// Guard es el anti-brute-force por (principal, purpose). No guarda estado
// en memoria: todo vive en el repositorio con semántica atómica, así que
// es correcto con varias instancias del servicio corriendo.
type Guard struct {
	repo repository.MFARepository
	cfg  GuardConfig
	now  func() time.Time
}

func NewGuard(repo repository.MFARepository, cfg GuardConfig) *Guard {
	return &Guard{repo: repo, cfg: cfg.withDefaults(), now: time.Now}
}

// Check es la puerta de entrada: si hay lock vigente corta acá, sin tocar
// el motor TOTP ni el backup store (fail fast, sin oráculo).
func (g *Guard) Check(ctx context.Context, principalID, purpose string) error {
	rec, err := g.repo.GetAttempt(ctx, principalID, purpose)
	if err != nil {
		return storageErr(err)
	}
	if rec.LockedUntil != nil && rec.LockedUntil.After(g.now()) {
		return &LockedError{Until: *rec.LockedUntil}
	}
	return nil
}

// Failure registra una falla y, si se alcanzó el umbral, instala el lock.
// Increment y lock son dos writes idempotentes por separado: un retry tras
// un write parcial no duplica castigo ni lo pierde.
func (g *Guard) Failure(ctx context.Context, principalID, purpose string) error {
	now := g.now()
	rec, err := g.repo.IncrementFailure(ctx, principalID, purpose, now)
	if err != nil {
		return storageErr(err)
	}
	if rec.FailCount < g.cfg.Threshold {
		return nil
	}
	until := now.Add(g.cooldownFor(rec.LockEpisodes))
	locked, err := g.repo.Lock(ctx, principalID, purpose, until, now)
	if err != nil {
		return storageErr(err)
	}
	if locked.LockedUntil != nil {
		metrics.Lockouts.Inc()
		audit.Log(ctx, audit.EventLocked,
			logger.PrincipalID(principalID),
			logger.Purpose(purpose),
			logger.FailCount(locked.FailCount),
			logger.LockedUntil(*locked.LockedUntil),
		)
	}
	return nil
}

// Success resetea todo: contador, primer falla y episodios.
func (g *Guard) Success(ctx context.Context, principalID, purpose string) error {
	if err := g.repo.ResetAttempts(ctx, principalID, purpose); err != nil {
		return storageErr(err)
	}
	return nil
}

// Snapshot para Status: estado actual sin efectos.
func (g *Guard) Snapshot(ctx context.Context, principalID, purpose string) (GuardState, *time.Time, error) {
	rec, err := g.repo.GetAttempt(ctx, principalID, purpose)
	if err != nil {
		return GuardOpen, nil, storageErr(err)
	}
	if rec.LockedUntil != nil && rec.LockedUntil.After(g.now()) {
		u := *rec.LockedUntil
		return GuardLocked, &u, nil
	}
	if rec.FailCount >= g.cfg.Threshold-1 && rec.FailCount > 0 {
		return GuardWarning, nil, nil
	}
	return GuardOpen, nil, nil
}

// cooldownFor dobla por episodio previo, con tope.
func (g *Guard) cooldownFor(priorEpisodes int) time.Duration {
	d := g.cfg.BaseCooldown
	for i := 0; i < priorEpisodes; i++ {
		d *= 2
		if d >= g.cfg.MaxCooldown {
			return g.cfg.MaxCooldown
		}
	}
	if d > g.cfg.MaxCooldown {
		d = g.cfg.MaxCooldown
	}
	return d
}

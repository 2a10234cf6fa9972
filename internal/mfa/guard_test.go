package mfa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/secondfactor/internal/store/memory"
)

// fakeClock es un reloj determinístico e inyectable, seguro para usar
// desde varias goroutines.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGuard(t *testing.T) (*Guard, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	g := NewGuard(memory.New(), GuardConfig{
		Threshold:    5,
		BaseCooldown: 60 * time.Second,
		MaxCooldown:  30 * time.Minute,
	})
	g.now = clk.Now
	return g, clk
}

func TestGuard_LocksAtThreshold(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
		require.NoError(t, g.Check(ctx, "p1", PurposeVerify), "falla %d no debe lockear", i+1)
	}

	// Quinta falla: lock de 60s.
	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	err := g.Check(ctx, "p1", PurposeVerify)
	var le *LockedError
	require.ErrorAs(t, err, &le)
	require.Equal(t, clk.Now().Add(60*time.Second), le.Until)

	// Otro purpose del mismo principal no se ve afectado.
	require.NoError(t, g.Check(ctx, "p1", PurposeManage))
}

func TestGuard_CounterSurvivesLockExpiry(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	require.Error(t, g.Check(ctx, "p1", PurposeVerify))

	// Expira el lock: la puerta se abre pero el contador sigue en 5.
	clk.Advance(61 * time.Second)
	require.NoError(t, g.Check(ctx, "p1", PurposeVerify))

	// UNA sola falla más relockea (no hacen falta 5 de nuevo).
	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	require.Error(t, g.Check(ctx, "p1", PurposeVerify))
}

func TestGuard_CooldownDoublesPerEpisode(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	// Episodio 1: 60s.
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	var le *LockedError
	require.ErrorAs(t, g.Check(ctx, "p1", PurposeVerify), &le)
	require.Equal(t, clk.Now().Add(60*time.Second), le.Until)

	// Episodio 2: 120s.
	clk.Advance(61 * time.Second)
	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	require.ErrorAs(t, g.Check(ctx, "p1", PurposeVerify), &le)
	require.Equal(t, clk.Now().Add(120*time.Second), le.Until)

	// Episodio 3: 240s.
	clk.Advance(121 * time.Second)
	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	require.ErrorAs(t, g.Check(ctx, "p1", PurposeVerify), &le)
	require.Equal(t, clk.Now().Add(240*time.Second), le.Until)
}

func TestGuard_CooldownCapped(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	// Muchos episodios: el cooldown nunca pasa de MaxCooldown.
	for ep := 0; ep < 10; ep++ {
		clk.Advance(31 * time.Minute)
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	var le *LockedError
	require.ErrorAs(t, g.Check(ctx, "p1", PurposeVerify), &le)
	require.True(t, !le.Until.After(clk.Now().Add(30*time.Minute)))
}

func TestGuard_SuccessResetsEverything(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	clk.Advance(61 * time.Second)
	require.NoError(t, g.Success(ctx, "p1", PurposeVerify))

	// Después del reset hacen falta las 5 fallas completas de nuevo, y el
	// cooldown vuelve a la base (los episodios también se limpiaron).
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
		require.NoError(t, g.Check(ctx, "p1", PurposeVerify))
	}
	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	var le *LockedError
	require.ErrorAs(t, g.Check(ctx, "p1", PurposeVerify), &le)
	require.Equal(t, clk.Now().Add(60*time.Second), le.Until)
}

func TestGuard_Snapshot(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	st, until, err := g.Snapshot(ctx, "p1", PurposeVerify)
	require.NoError(t, err)
	require.Equal(t, GuardOpen, st)
	require.Nil(t, until)

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	}
	st, _, err = g.Snapshot(ctx, "p1", PurposeVerify)
	require.NoError(t, err)
	require.Equal(t, GuardWarning, st)

	require.NoError(t, g.Failure(ctx, "p1", PurposeVerify))
	st, until, err = g.Snapshot(ctx, "p1", PurposeVerify)
	require.NoError(t, err)
	require.Equal(t, GuardLocked, st)
	require.NotNil(t, until)
	require.Equal(t, clk.Now().Add(60*time.Second), *until)
}

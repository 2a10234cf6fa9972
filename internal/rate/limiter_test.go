package rate

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_Allow(t *testing.T) {
	l := NewWindowLimiter(cache.NewMemory("t:"), "rl:", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, res.Allowed, "hit %d debería pasar", i+1)
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	// otra key no comparte ventana
	res, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

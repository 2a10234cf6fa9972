package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre patrickmn/go-cache.
type memoryClient struct {
	c      *gocache.Cache
	prefix string
	mu     sync.Mutex // serializa Incr (go-cache no tiene upsert atómico con TTL)
}

// NewMemory crea un cache in-process. Limpieza de expirados cada minuto.
func NewMemory(prefix string) Client {
	return &memoryClient{
		c:      gocache.New(gocache.NoExpiration, time.Minute),
		prefix: prefix,
	}
}

func (m *memoryClient) key(k string) string { return m.prefix + k }

func (m *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(m.key(key), value, ttl)
	return nil
}

func (m *memoryClient) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	if v, ok := m.c.Get(k); ok {
		if s, ok := v.(string); ok {
			n, _ := strconv.ParseInt(s, 10, 64)
			n++
			// conserva el TTL original reusando SetDefault sobre la entrada viva
			m.c.Set(k, strconv.FormatInt(n, 10), remainingTTL(m.c, k, ttl))
			return n, nil
		}
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(k, "1", ttl)
	return 1, nil
}

func remainingTTL(c *gocache.Cache, key string, fallback time.Duration) time.Duration {
	if _, exp, ok := c.GetWithExpiration(key); ok && !exp.IsZero() {
		if d := time.Until(exp); d > 0 {
			return d
		}
	}
	if fallback <= 0 {
		return gocache.NoExpiration
	}
	return fallback
}

func (m *memoryClient) Delete(ctx context.Context, key string) error {
	m.c.Delete(m.key(key))
	return nil
}

func (m *memoryClient) Ping(ctx context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}

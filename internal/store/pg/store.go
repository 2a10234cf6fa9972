// Package pg implementa repository.MFARepository sobre Postgres (pgx).
// Las invariantes de concurrencia se resuelven en SQL: UPDATEs
// condicionales + RowsAffected para consumo único, y upserts atómicos
// para el contador de fallas. Correcto multi-instancia sin locks locales.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.MFARepository = (*Store)(nil)

// Config del pool. ConnMaxLifetime en formato time.ParseDuration.
type Config struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Helper interno para parsear principalID string -> uuid
func parseUUID(id string) (uuid.UUID, error) { return uuid.Parse(id) }

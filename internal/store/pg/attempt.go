package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetAttempt(ctx context.Context, principalID, purpose string) (repository.AttemptRecord, error) {
	rec := repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}
	pid, err := parseUUID(principalID)
	if err != nil {
		return rec, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT fail_count, first_failed_at, locked_until, lock_episodes, updated_at
		FROM mfa_attempt WHERE principal_id = $1 AND purpose = $2
	`, pid, purpose)
	err = row.Scan(&rec.FailCount, &rec.FirstFailedAt, &rec.LockedUntil, &rec.LockEpisodes, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil // zero-record: sin fallas registradas
	}
	return rec, err
}

// IncrementFailure: upsert atómico, un solo statement. Dos requests
// concurrentes producen fail_count+2, nunca un incremento perdido.
func (s *Store) IncrementFailure(ctx context.Context, principalID, purpose string, at time.Time) (repository.AttemptRecord, error) {
	rec := repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}
	pid, err := parseUUID(principalID)
	if err != nil {
		return rec, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO mfa_attempt (principal_id, purpose, fail_count, first_failed_at, updated_at)
		VALUES ($1,$2,1,$3,$3)
		ON CONFLICT (principal_id, purpose)
		DO UPDATE SET fail_count = mfa_attempt.fail_count + 1,
					  first_failed_at = COALESCE(mfa_attempt.first_failed_at, EXCLUDED.first_failed_at),
					  updated_at = EXCLUDED.updated_at
		RETURNING fail_count, first_failed_at, locked_until, lock_episodes, updated_at
	`, pid, purpose, at)
	err = row.Scan(&rec.FailCount, &rec.FirstFailedAt, &rec.LockedUntil, &rec.LockEpisodes, &rec.UpdatedAt)
	return rec, err
}

// Lock solo extiende el lock vigente: el retry de un write parcial es
// idempotente (increment-then-check, nunca increment-and-assume).
func (s *Store) Lock(ctx context.Context, principalID, purpose string, until, at time.Time) (repository.AttemptRecord, error) {
	rec := repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}
	pid, err := parseUUID(principalID)
	if err != nil {
		return rec, err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE mfa_attempt
		SET locked_until = $3, lock_episodes = lock_episodes + 1, updated_at = $4
		WHERE principal_id = $1 AND purpose = $2
		  AND (locked_until IS NULL OR locked_until < $3)
	`, pid, purpose, until, at)
	if err != nil {
		return rec, err
	}
	return s.GetAttempt(ctx, principalID, purpose)
}

func (s *Store) ResetAttempts(ctx context.Context, principalID, purpose string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM mfa_attempt WHERE principal_id = $1 AND purpose = $2`, pid, purpose)
	return err
}

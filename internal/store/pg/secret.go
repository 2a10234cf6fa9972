package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/jackc/pgx/v5"
)

func (s *Store) UpsertSecret(ctx context.Context, principalID, secretEnc string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mfa_secret (principal_id, secret_encrypted)
		VALUES ($1,$2)
		ON CONFLICT (principal_id)
		DO UPDATE SET secret_encrypted = EXCLUDED.secret_encrypted,
					  confirmed_at = NULL,
					  last_counter = 0,
					  updated_at = now()
	`, pid, secretEnc)
	return err
}

func (s *Store) GetSecret(ctx context.Context, principalID string) (*repository.MFASecret, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT principal_id, secret_encrypted, confirmed_at, last_counter, created_at, updated_at
		FROM mfa_secret WHERE principal_id = $1
	`, pid)
	var m repository.MFASecret
	if err := row.Scan(&m.PrincipalID, &m.SecretEncrypted, &m.ConfirmedAt, &m.LastCounter, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	m.PrincipalID = pid.String()
	return &m, nil
}

func (s *Store) ConfirmSecret(ctx context.Context, principalID string, at time.Time) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE mfa_secret SET confirmed_at = $2, updated_at = $2 WHERE principal_id = $1`, pid, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AdvanceCounter: CAS sobre last_counter. Solo avanza; si otro request ya
// consumió ese contador, RowsAffected es 0 y el éxito no se otorga.
func (s *Store) AdvanceCounter(ctx context.Context, principalID string, counter int64, at time.Time) (bool, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_secret SET last_counter = $2, updated_at = $3
		WHERE principal_id = $1 AND last_counter < $2
	`, pid, counter, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteSecret(ctx context.Context, principalID string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM mfa_secret WHERE principal_id = $1`, pid)
	return err
}

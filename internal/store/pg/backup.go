package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/jackc/pgx/v5"
)

// ReplaceBackupCodes corre en una transacción: el lote viejo y el nuevo
// nunca conviven.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, salt []byte, hashes []string, at time.Time) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_code WHERE principal_id = $1`, pid); err != nil {
		return err
	}
	var b pgx.Batch
	for _, h := range hashes {
		b.Queue(`INSERT INTO mfa_backup_code (principal_id, code_hash, salt, created_at) VALUES ($1,$2,$3,$4)`,
			pid, h, salt, at)
	}
	br := tx.SendBatch(ctx, &b)
	for range hashes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) BackupCodeSalt(ctx context.Context, principalID string) ([]byte, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return nil, err
	}
	var salt []byte
	err = s.pool.QueryRow(ctx,
		`SELECT salt FROM mfa_backup_code WHERE principal_id = $1 LIMIT 1`, pid).Scan(&salt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return salt, nil
}

// ConsumeBackupCode: a lo sumo un consumidor. El WHERE used_at IS NULL +
// RowsAffected decide la carrera del lado del storage.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) (bool, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_backup_code
		SET used_at = $3
		WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, pid, hash, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, principalID string) (int, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_backup_code WHERE principal_id = $1 AND used_at IS NULL`, pid).Scan(&n)
	return n, err
}

func (s *Store) DeleteBackupCodes(ctx context.Context, principalID string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM mfa_backup_code WHERE principal_id = $1`, pid)
	return err
}

package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/jackc/pgx/v5"
)

func (s *Store) PutTrustedDevice(ctx context.Context, d repository.TrustedDevice) error {
	pid, err := parseUUID(d.PrincipalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mfa_trusted_device (principal_id, device_hash, token_hash, issued_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (principal_id, device_hash)
		DO UPDATE SET token_hash = EXCLUDED.token_hash,
					  issued_at = EXCLUDED.issued_at,
					  expires_at = EXCLUDED.expires_at
	`, pid, d.DeviceHash, d.TokenHash, d.IssuedAt, d.ExpiresAt)
	return err
}

func (s *Store) GetTrustedDevice(ctx context.Context, principalID, deviceHash string) (*repository.TrustedDevice, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT token_hash, issued_at, expires_at
		FROM mfa_trusted_device WHERE principal_id = $1 AND device_hash = $2
	`, pid, deviceHash)
	d := repository.TrustedDevice{PrincipalID: principalID, DeviceHash: deviceHash}
	if err := row.Scan(&d.TokenHash, &d.IssuedAt, &d.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteTrustedDeviceByToken(ctx context.Context, principalID, tokenHash string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM mfa_trusted_device WHERE principal_id = $1 AND token_hash = $2`, pid, tokenHash)
	return err
}

func (s *Store) DeleteTrustedDevices(ctx context.Context, principalID string) error {
	pid, err := parseUUID(principalID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM mfa_trusted_device WHERE principal_id = $1`, pid)
	return err
}

func (s *Store) CountTrustedDevices(ctx context.Context, principalID string, now time.Time) (int, error) {
	pid, err := parseUUID(principalID)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_trusted_device WHERE principal_id = $1 AND expires_at > $2`, pid, now).Scan(&n)
	return n, err
}

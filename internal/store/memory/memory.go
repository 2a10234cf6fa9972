// Package memory implementa repository.MFARepository en memoria.
// Pensado para desarrollo y tests. La serialización por principal se
// resuelve con un mutex por clave: las invariantes de concurrencia
// (un consumidor por backup code, incrementos sin pérdida) valen igual
// que en el adapter de Postgres, pero solo dentro del proceso.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
)

type secretRow struct {
	enc         string
	confirmedAt *time.Time
	lastCounter int64
	createdAt   time.Time
	updatedAt   time.Time
}

type codeRow struct {
	hash      string
	usedAt    *time.Time
	createdAt time.Time
}

type batchRow struct {
	salt  []byte
	codes []*codeRow
}

type deviceRow struct {
	tokenHash string
	issuedAt  time.Time
	expiresAt time.Time
}

// Store guarda todo en maps indexados por principal.
type Store struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	secrets map[string]*secretRow
	batches map[string]*batchRow
	// attempts indexado por principal + "\x00" + purpose
	attempts map[string]*repository.AttemptRecord
	// devices indexado por principal; valor indexado por deviceHash
	devices map[string]map[string]*deviceRow
}

var _ repository.MFARepository = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:    make(map[string]*sync.Mutex),
		secrets:  make(map[string]*secretRow),
		batches:  make(map[string]*batchRow),
		attempts: make(map[string]*repository.AttemptRecord),
		devices:  make(map[string]map[string]*deviceRow),
	}
}

// lock retorna el mutex del principal, creándolo si hace falta.
func (s *Store) lock(principalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[principalID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[principalID] = m
	}
	return m
}

// ─── Secreto TOTP ───

func (s *Store) UpsertSecret(ctx context.Context, principalID, secretEnc string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	now := time.Now().UTC()
	if row, ok := s.secrets[principalID]; ok {
		row.enc = secretEnc
		row.confirmedAt = nil
		row.lastCounter = 0
		row.updatedAt = now
		return nil
	}
	s.secrets[principalID] = &secretRow{enc: secretEnc, createdAt: now, updatedAt: now}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, principalID string) (*repository.MFASecret, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	row, ok := s.secrets[principalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := &repository.MFASecret{
		PrincipalID:     principalID,
		SecretEncrypted: row.enc,
		LastCounter:     row.lastCounter,
		CreatedAt:       row.createdAt,
		UpdatedAt:       row.updatedAt,
	}
	if row.confirmedAt != nil {
		t := *row.confirmedAt
		out.ConfirmedAt = &t
	}
	return out, nil
}

func (s *Store) ConfirmSecret(ctx context.Context, principalID string, at time.Time) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	row, ok := s.secrets[principalID]
	if !ok {
		return repository.ErrNotFound
	}
	at = at.UTC()
	row.confirmedAt = &at
	row.updatedAt = at
	return nil
}

func (s *Store) AdvanceCounter(ctx context.Context, principalID string, counter int64, at time.Time) (bool, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	row, ok := s.secrets[principalID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if counter <= row.lastCounter {
		return false, nil
	}
	row.lastCounter = counter
	row.updatedAt = at.UTC()
	return true, nil
}

func (s *Store) DeleteSecret(ctx context.Context, principalID string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	delete(s.secrets, principalID)
	return nil
}

// ─── Backup codes ───

func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, salt []byte, hashes []string, at time.Time) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	batch := &batchRow{salt: append([]byte(nil), salt...)}
	at = at.UTC()
	for _, h := range hashes {
		batch.codes = append(batch.codes, &codeRow{hash: h, createdAt: at})
	}
	s.batches[principalID] = batch
	return nil
}

func (s *Store) BackupCodeSalt(ctx context.Context, principalID string) ([]byte, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	batch, ok := s.batches[principalID]
	if !ok || len(batch.codes) == 0 {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), batch.salt...), nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) (bool, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	batch, ok := s.batches[principalID]
	if !ok {
		return false, nil
	}
	for _, c := range batch.codes {
		if c.hash == hash && c.usedAt == nil {
			t := at.UTC()
			c.usedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, principalID string) (int, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	batch, ok := s.batches[principalID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, c := range batch.codes {
		if c.usedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, principalID string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	delete(s.batches, principalID)
	return nil
}

// ─── Attempt guard ───

func attemptKey(principalID, purpose string) string {
	return principalID + "\x00" + purpose
}

func (s *Store) GetAttempt(ctx context.Context, principalID, purpose string) (repository.AttemptRecord, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	if rec, ok := s.attempts[attemptKey(principalID, purpose)]; ok {
		return *rec, nil
	}
	return repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}, nil
}

func (s *Store) IncrementFailure(ctx context.Context, principalID, purpose string, at time.Time) (repository.AttemptRecord, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	key := attemptKey(principalID, purpose)
	at = at.UTC()
	rec, ok := s.attempts[key]
	if !ok {
		rec = &repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}
		s.attempts[key] = rec
	}
	rec.FailCount++
	if rec.FirstFailedAt == nil {
		t := at
		rec.FirstFailedAt = &t
	}
	rec.UpdatedAt = at
	return *rec, nil
}

func (s *Store) Lock(ctx context.Context, principalID, purpose string, until, at time.Time) (repository.AttemptRecord, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	key := attemptKey(principalID, purpose)
	rec, ok := s.attempts[key]
	if !ok {
		return repository.AttemptRecord{PrincipalID: principalID, Purpose: purpose}, nil
	}
	// Solo extiende: un retry no acorta ni duplica el episodio.
	if rec.LockedUntil == nil || rec.LockedUntil.Before(until) {
		u := until.UTC()
		rec.LockedUntil = &u
		rec.LockEpisodes++
		rec.UpdatedAt = at.UTC()
	}
	return *rec, nil
}

func (s *Store) ResetAttempts(ctx context.Context, principalID, purpose string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	delete(s.attempts, attemptKey(principalID, purpose))
	return nil
}

// ─── Trusted devices ───

func (s *Store) PutTrustedDevice(ctx context.Context, d repository.TrustedDevice) error {
	m := s.lock(d.PrincipalID)
	m.Lock()
	defer m.Unlock()
	devs, ok := s.devices[d.PrincipalID]
	if !ok {
		devs = make(map[string]*deviceRow)
		s.devices[d.PrincipalID] = devs
	}
	devs[d.DeviceHash] = &deviceRow{
		tokenHash: d.TokenHash,
		issuedAt:  d.IssuedAt.UTC(),
		expiresAt: d.ExpiresAt.UTC(),
	}
	return nil
}

func (s *Store) GetTrustedDevice(ctx context.Context, principalID, deviceHash string) (*repository.TrustedDevice, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	devs, ok := s.devices[principalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	row, ok := devs[deviceHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.TrustedDevice{
		PrincipalID: principalID,
		DeviceHash:  deviceHash,
		TokenHash:   row.tokenHash,
		IssuedAt:    row.issuedAt,
		ExpiresAt:   row.expiresAt,
	}, nil
}

func (s *Store) DeleteTrustedDeviceByToken(ctx context.Context, principalID, tokenHash string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	for dh, row := range s.devices[principalID] {
		if row.tokenHash == tokenHash {
			delete(s.devices[principalID], dh)
		}
	}
	return nil
}

func (s *Store) DeleteTrustedDevices(ctx context.Context, principalID string) error {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	delete(s.devices, principalID)
	return nil
}

func (s *Store) CountTrustedDevices(ctx context.Context, principalID string, now time.Time) (int, error) {
	m := s.lock(principalID)
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, row := range s.devices[principalID] {
		if row.expiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/secondfactor/internal/domain/repository"
	"github.com/dropDatabas3/secondfactor/internal/security/backupcode"
	"github.com/dropDatabas3/secondfactor/internal/security/secrets"
)

const saltLength = 16

// BackupCodes maneja el ciclo de vida de los códigos de respaldo.
// El plaintext existe solo en el valor de retorno de Regenerate; después
// de eso solo quedan hashes salados.
type BackupCodes struct {
	repo   repository.MFARepository
	params backupcode.Params
	count  int
	length int
	now    func() time.Time
}

func NewBackupCodes(repo repository.MFARepository, count, length int) *BackupCodes {
	if count <= 0 {
		count = 10
	}
	if length <= 0 {
		length = 10
	}
	return &BackupCodes{
		repo:   repo,
		params: backupcode.Default,
		count:  count,
		length: length,
		now:    time.Now,
	}
}

// generate produce el material de un lote completo sin tocar el storage:
// una falla de entropía aborta acá, sin estado parcial.
func (b *BackupCodes) generate() (plain []string, salt []byte, hashes []string, err error) {
	plain, err = secrets.NewBackupCodes(b.count, b.length)
	if err != nil {
		return nil, nil, nil, err
	}
	salt, err = secrets.NewSalt(saltLength)
	if err != nil {
		return nil, nil, nil, err
	}
	hashes = make([]string, len(plain))
	for i, code := range plain {
		hashes[i] = backupcode.Hash(b.params, code, salt)
	}
	return plain, salt, hashes, nil
}

// store persiste un lote ya generado, invalidando el anterior.
func (b *BackupCodes) store(ctx context.Context, principalID string, salt []byte, hashes []string) error {
	if err := b.repo.ReplaceBackupCodes(ctx, principalID, salt, hashes, b.now()); err != nil {
		return storageErr(err)
	}
	return nil
}

// Regenerate invalida el lote anterior y emite uno nuevo.
func (b *BackupCodes) Regenerate(ctx context.Context, principalID string) ([]string, error) {
	plain, salt, hashes, err := b.generate()
	if err != nil {
		return nil, err
	}
	if err := b.store(ctx, principalID, salt, hashes); err != nil {
		return nil, err
	}
	return plain, nil
}

// Consume intenta gastar un código. Respuesta uniforme: false tanto para
// "no existe" como para "ya usado" como para "sin lote" — no se filtra
// cuántos códigos quedan ni cuáles existen.
func (b *BackupCodes) Consume(ctx context.Context, principalID, code string) (bool, error) {
	salt, err := b.repo.BackupCodeSalt(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storageErr(err)
	}
	hash := backupcode.Hash(b.params, code, salt)
	ok, err := b.repo.ConsumeBackupCode(ctx, principalID, hash, b.now())
	if err != nil {
		return false, storageErr(err)
	}
	return ok, nil
}

// Remaining cuenta códigos sin usar. Read-only, sin efectos.
func (b *BackupCodes) Remaining(ctx context.Context, principalID string) (int, error) {
	n, err := b.repo.CountBackupCodes(ctx, principalID)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

// DeleteAll borra el lote (disable).
func (b *BackupCodes) DeleteAll(ctx context.Context, principalID string) error {
	if err := b.repo.DeleteBackupCodes(ctx, principalID); err != nil {
		return storageErr(err)
	}
	return nil
}

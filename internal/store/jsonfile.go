// Package store is the persistence layer of §6: a JSON account file
// (atomic rewrite) implementing accountpool.Repository, and a sqlite-backed
// request-history log. Grounded on the teacher's internal/store/sqlite.go
// (schema + embed pattern) and store/redis.go (the original key-value
// account record shape, here collapsed into one JSON array since there is
// no Redis dependency left to preserve compatibility with).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"antigravity-gateway/internal/accountpool"
)

// AccountFileRepository persists the account list as a single JSON array
// file, rewritten atomically (write-to-temp + rename) so a crash mid-write
// never leaves a truncated file on disk, per spec §6.
type AccountFileRepository struct {
	path string
	mu   sync.Mutex
}

func NewAccountFileRepository(path string) *AccountFileRepository {
	return &AccountFileRepository{path: path}
}

func (r *AccountFileRepository) Load(ctx context.Context) ([]*accountpool.PersistedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var accounts []*accountpool.PersistedAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse account file: %w", err)
	}
	return accounts, nil
}

func (r *AccountFileRepository) Save(ctx context.Context, accounts []*accountpool.PersistedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account file: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp account file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp account file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp account file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp account file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("rename account file: %w", err)
	}
	return nil
}

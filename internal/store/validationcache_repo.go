package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// ValidationCacheRepo is the shuffle cache, keyed solely by code_hash.
type ValidationCacheRepo struct {
	db *sql.DB
}

// Get returns the cached entry for hash, if any.
func (r *ValidationCacheRepo) Get(ctx context.Context, hash string) (*types.ValidationCacheEntry, error) {
	var e types.ValidationCacheEntry
	var passed int
	err := r.db.QueryRowContext(ctx, `SELECT code_hash, passed, checked_at FROM validation_cache WHERE code_hash = ?`, hash).
		Scan(&e.CodeHash, &passed, &e.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get validation cache: %w", err)
	}
	e.Passed = passed != 0
	return &e, nil
}

// Upsert atomically records the shuffle-test outcome for hash. Contended
// writers racing on the same hash converge on the same row via INSERT ...
// ON CONFLICT, satisfying the cache-consistency invariant.
func (r *ValidationCacheRepo) Upsert(ctx context.Context, hash string, passed bool) error {
	now := time.Now().UTC()
	p := 0
	if passed {
		p = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO validation_cache (code_hash, passed, checked_at) VALUES (?, ?, ?)
		ON CONFLICT(code_hash) DO UPDATE SET passed = excluded.passed, checked_at = excluded.checked_at`,
		hash, p, now)
	if err != nil {
		return fmt.Errorf("store: upsert validation cache: %w", err)
	}
	return nil
}

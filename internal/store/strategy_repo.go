package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// StrategyRepo is the Strategy table's repository, including the atomic
// claim/lease protocol shared by every stage.
type StrategyRepo struct {
	db *sql.DB
}

// ErrNoWork is returned by ClaimNext when no eligible row exists.
var ErrNoWork = errors.New("store: no claimable row")

// Insert persists a newly generated strategy row in GENERATED status.
func (r *StrategyRepo) Insert(ctx context.Context, s *types.Strategy) error {
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("store: marshal parameters: %w", err)
	}
	symbols, err := json.Marshal(s.Symbols)
	if err != nil {
		return fmt.Errorf("store: marshal symbols: %w", err)
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, category, bar_interval, optimal_bar_interval,
			source_text, template_id, parameters_json, base_code_hash, status,
			symbols_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, string(s.Category), string(s.BarInterval), nullableInterval(s.OptimalBarInterval),
		s.SourceText, s.TemplateID, string(params), s.BaseCodeHash, string(s.Status),
		string(symbols), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert strategy: %w", err)
	}
	return nil
}

// ClaimNext atomically selects one row in `status` whose lease is free or
// expired, marks it claimed by workerID, and returns it. Implements
// Claim(stage, worker_id, ttl) from the pipeline queue protocol in a single
// transaction.
func (r *StrategyRepo) ClaimNext(ctx context.Context, status types.Status, workerID string, ttl time.Duration) (*types.Strategy, error) {
	var claimed *types.Strategy
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		expiredBefore := now.Add(-ttl)
		row := tx.QueryRowContext(ctx, `
			SELECT id, name, category, bar_interval, optimal_bar_interval, source_text,
				template_id, parameters_json, base_code_hash, status, processing_by,
				processing_started_at, validated_at, tested_at, selected_at, live_at,
				retired_at, symbols_json, created_at, updated_at
			FROM strategies
			WHERE status = ?
			  AND (processing_by IS NULL OR processing_started_at <= ?)
			ORDER BY created_at ASC
			LIMIT 1`, string(status), expiredBefore)

		s, err := scanStrategy(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoWork
		}
		if err != nil {
			return fmt.Errorf("store: scan claim candidate: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE strategies SET processing_by = ?, processing_started_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
			  AND (processing_by IS NULL OR processing_started_at <= ?)`,
			workerID, now, now, s.ID, string(status), expiredBefore)
		if err != nil {
			return fmt.Errorf("store: claim update: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Lost the race to another worker between select and update.
			return ErrNoWork
		}
		s.ProcessingBy = &workerID
		s.ProcessingStartedAt = &now
		claimed = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseLease clears the lease on a transient failure, leaving status
// untouched so another worker may retry.
func (r *StrategyRepo) ReleaseLease(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE strategies SET processing_by = NULL, processing_started_at = NULL, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: release lease: %w", err)
	}
	return nil
}

// Advance clears the lease and moves status forward, stamping the
// corresponding per-stage timestamp column.
func (r *StrategyRepo) Advance(ctx context.Context, id string, next types.Status) error {
	now := time.Now().UTC()
	var stampCol string
	switch next {
	case types.StatusValidated:
		stampCol = "validated_at"
	case types.StatusTested:
		stampCol = "tested_at"
	case types.StatusSelected:
		stampCol = "selected_at"
	case types.StatusLive:
		stampCol = "live_at"
	case types.StatusRetired:
		stampCol = "retired_at"
	}
	q := fmt.Sprintf(`
		UPDATE strategies SET status = ?, processing_by = NULL, processing_started_at = NULL,
			updated_at = ?%s
		WHERE id = ?`, stampAssignment(stampCol))
	args := []interface{}{string(next), now}
	if stampCol != "" {
		args = append(args, now)
	}
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: advance strategy: %w", err)
	}
	return nil
}

func stampAssignment(col string) string {
	if col == "" {
		return ""
	}
	return fmt.Sprintf(", %s = ?", col)
}

// Fail clears the lease and sets status=FAILED (a terminal, non-retryable
// sink reachable from any non-terminal state).
func (r *StrategyRepo) Fail(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE strategies SET status = ?, processing_by = NULL, processing_started_at = NULL, updated_at = ?
		WHERE id = ?`, string(types.StatusFailed), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: fail strategy: %w", err)
	}
	return nil
}

// SetOptimalInterval records the Backtester's interval-sweep winner.
func (r *StrategyRepo) SetOptimalInterval(ctx context.Context, id string, interval types.Interval) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET optimal_bar_interval = ?, updated_at = ? WHERE id = ?`,
		string(interval), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: set optimal interval: %w", err)
	}
	return nil
}

// Get fetches a single strategy by id.
func (r *StrategyRepo) Get(ctx context.Context, id string) (*types.Strategy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, category, bar_interval, optimal_bar_interval, source_text,
			template_id, parameters_json, base_code_hash, status, processing_by,
			processing_started_at, validated_at, tested_at, selected_at, live_at,
			retired_at, symbols_json, created_at, updated_at
		FROM strategies WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if err != nil {
		return nil, fmt.Errorf("store: get strategy: %w", err)
	}
	return s, nil
}

// ListByStatus returns every row in the given status, oldest first.
func (r *StrategyRepo) ListByStatus(ctx context.Context, status types.Status) ([]*types.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, category, bar_interval, optimal_bar_interval, source_text,
			template_id, parameters_json, base_code_hash, status, processing_by,
			processing_started_at, validated_at, tested_at, selected_at, live_at,
			retired_at, symbols_json, created_at, updated_at
		FROM strategies WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list by status: %w", err)
	}
	defer rows.Close()
	var out []*types.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan list row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// QueueDepth reports how many rows are in `status`, claimed or not.
func (r *StrategyRepo) QueueDepth(ctx context.Context, status types.Status) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategies WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: queue depth: %w", err)
	}
	return n, nil
}

// ExistsByName reports whether any row already carries this name, used by
// the parametric-expansion generator, whose names embed the parameter hash.
func (r *StrategyRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategies WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: exists by name: %w", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategy(row scanner) (*types.Strategy, error) {
	var s types.Strategy
	var category, barInterval, status string
	var optimalInterval, templateID, processingBy sql.NullString
	var processingStartedAt, validatedAt, testedAt, selectedAt, liveAt, retiredAt sql.NullTime
	var paramsJSON, symbolsJSON string

	if err := row.Scan(&s.ID, &s.Name, &category, &barInterval, &optimalInterval, &s.SourceText,
		&templateID, &paramsJSON, &s.BaseCodeHash, &status, &processingBy, &processingStartedAt,
		&validatedAt, &testedAt, &selectedAt, &liveAt, &retiredAt, &symbolsJSON,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}

	s.Category = types.Category(category)
	s.BarInterval = types.Interval(barInterval)
	s.Status = types.Status(status)
	if optimalInterval.Valid {
		iv := types.Interval(optimalInterval.String)
		s.OptimalBarInterval = &iv
	}
	if templateID.Valid {
		s.TemplateID = &templateID.String
	}
	if processingBy.Valid {
		s.ProcessingBy = &processingBy.String
	}
	if processingStartedAt.Valid {
		s.ProcessingStartedAt = &processingStartedAt.Time
	}
	if validatedAt.Valid {
		s.ValidatedAt = &validatedAt.Time
	}
	if testedAt.Valid {
		s.TestedAt = &testedAt.Time
	}
	if selectedAt.Valid {
		s.SelectedAt = &selectedAt.Time
	}
	if liveAt.Valid {
		s.LiveAt = &liveAt.Time
	}
	if retiredAt.Valid {
		s.RetiredAt = &retiredAt.Time
	}
	if err := json.Unmarshal([]byte(paramsJSON), &s.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(symbolsJSON), &s.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	return &s, nil
}

func nullableInterval(iv *types.Interval) interface{} {
	if iv == nil {
		return nil
	}
	return string(*iv)
}

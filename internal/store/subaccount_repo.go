package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/shopspring/decimal"
)

// SubaccountRepo manages capital buckets. Balance/peak mutation is owned
// exclusively by the Executor; Deployer only sets strategy_id/allocated/peak
// on the LIVE transition.
type SubaccountRepo struct {
	db *sql.DB
}

// FreeActive returns one ACTIVE subaccount with no assigned strategy, or
// nil if none is available, for the Deployer to bind.
func (r *SubaccountRepo) FreeActive(ctx context.Context) (*types.Subaccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, strategy_id, allocated_capital, current_balance, peak_balance,
			peak_balance_at, daily_pnl, daily_pnl_reset_date
		FROM subaccounts WHERE status = ? AND strategy_id IS NULL LIMIT 1`, string(types.SubaccountActive))
	s, err := scanSubaccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: free active subaccount: %w", err)
	}
	return s, nil
}

// BindStrategy assigns strategyID, fixes allocated_capital and peak_balance
// (never derived from venue balance), and returns an error if the row was
// concurrently claimed by another deployer.
func (r *SubaccountRepo) BindStrategy(ctx context.Context, subaccountID, strategyID string, allocatedCapital decimal.Decimal) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE subaccounts SET strategy_id = ?, allocated_capital = ?, peak_balance = ?,
			peak_balance_at = ?, current_balance = ?
		WHERE id = ? AND strategy_id IS NULL AND status = ?`,
		strategyID, allocatedCapital.String(), allocatedCapital.String(), now, allocatedCapital.String(),
		subaccountID, string(types.SubaccountActive))
	if err != nil {
		return fmt.Errorf("store: bind strategy: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: subaccount %s no longer free", subaccountID)
	}
	return nil
}

// Unassign frees a subaccount after a LIVE strategy is retired.
func (r *SubaccountRepo) Unassign(ctx context.Context, subaccountID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subaccounts SET strategy_id = NULL WHERE id = ?`, subaccountID)
	if err != nil {
		return fmt.Errorf("store: unassign subaccount: %w", err)
	}
	return nil
}

// Get fetches a subaccount by id.
func (r *SubaccountRepo) Get(ctx context.Context, id string) (*types.Subaccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, strategy_id, allocated_capital, current_balance, peak_balance,
			peak_balance_at, daily_pnl, daily_pnl_reset_date
		FROM subaccounts WHERE id = ?`, id)
	s, err := scanSubaccount(row)
	if err != nil {
		return nil, fmt.Errorf("store: get subaccount: %w", err)
	}
	return s, nil
}

// ByStrategy returns the subaccount bound to strategyID, whatever its
// status, or nil if none is bound.
func (r *SubaccountRepo) ByStrategy(ctx context.Context, strategyID string) (*types.Subaccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, strategy_id, allocated_capital, current_balance, peak_balance,
			peak_balance_at, daily_pnl, daily_pnl_reset_date
		FROM subaccounts WHERE strategy_id = ?`, strategyID)
	s, err := scanSubaccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: subaccount by strategy: %w", err)
	}
	return s, nil
}

// ListAll returns every subaccount, used at startup reconciliation.
func (r *SubaccountRepo) ListAll(ctx context.Context) ([]*types.Subaccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, strategy_id, allocated_capital, current_balance, peak_balance,
			peak_balance_at, daily_pnl, daily_pnl_reset_date
		FROM subaccounts`)
	if err != nil {
		return nil, fmt.Errorf("store: list subaccounts: %w", err)
	}
	defer rows.Close()
	var out []*types.Subaccount
	for rows.Next() {
		s, err := scanSubaccount(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan subaccount: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateBalance sets current_balance and, if it exceeds peak_balance,
// advances peak_balance too (the monotone-up invariant). Never lowers peak.
func (r *SubaccountRepo) UpdateBalance(ctx context.Context, id string, current decimal.Decimal) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var peakStr string
		if err := tx.QueryRowContext(ctx, `SELECT peak_balance FROM subaccounts WHERE id = ?`, id).Scan(&peakStr); err != nil {
			return err
		}
		peak := mustDecimal(peakStr)
		now := time.Now().UTC()
		if current.GreaterThan(peak) {
			_, err := tx.ExecContext(ctx, `UPDATE subaccounts SET current_balance = ?, peak_balance = ?, peak_balance_at = ? WHERE id = ?`,
				current.String(), current.String(), now, id)
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE subaccounts SET current_balance = ? WHERE id = ?`, current.String(), id)
		return err
	})
}

// SetAllocatedIfZero sets allocated_capital to venueBalance only when the
// existing value is zero, part of the Executor's startup reconciliation.
func (r *SubaccountRepo) SetAllocatedIfZero(ctx context.Context, id string, venueBalance decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subaccounts SET allocated_capital = ? WHERE id = ? AND allocated_capital = '0'`,
		venueBalance.String(), id)
	if err != nil {
		return fmt.Errorf("store: set allocated if zero: %w", err)
	}
	return nil
}

// RepairPeak resets peak_balance to allocated_capital when peak is
// pathologically above allocated (a known-bad legacy state) or missing.
func (r *SubaccountRepo) RepairPeak(ctx context.Context, s *types.Subaccount) (bool, error) {
	pathological := s.PeakBalance.IsZero() || s.PeakBalance.GreaterThan(s.AllocatedCapital.Mul(decimal.NewFromInt(1000)))
	if !pathological {
		return false, nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE subaccounts SET peak_balance = ?, peak_balance_at = ? WHERE id = ?`,
		s.AllocatedCapital.String(), time.Now().UTC(), s.ID)
	if err != nil {
		return false, fmt.Errorf("store: repair peak: %w", err)
	}
	return true, nil
}

// ResetDailyPnL zeroes daily_pnl at local midnight rollover.
func (r *SubaccountRepo) ResetDailyPnL(ctx context.Context, id string, resetDate time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subaccounts SET daily_pnl = '0', daily_pnl_reset_date = ? WHERE id = ?`, resetDate, id)
	if err != nil {
		return fmt.Errorf("store: reset daily pnl: %w", err)
	}
	return nil
}

// AddDailyPnL accrues a realised trade PnL into the running daily total.
func (r *SubaccountRepo) AddDailyPnL(ctx context.Context, id string, delta decimal.Decimal) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var cur string
		if err := tx.QueryRowContext(ctx, `SELECT daily_pnl FROM subaccounts WHERE id = ?`, id).Scan(&cur); err != nil {
			return err
		}
		next := mustDecimal(cur).Add(delta)
		_, err := tx.ExecContext(ctx, `UPDATE subaccounts SET daily_pnl = ? WHERE id = ?`, next.String(), id)
		return err
	})
}

func scanSubaccount(row scanner) (*types.Subaccount, error) {
	var s types.Subaccount
	var status string
	var strategyID sql.NullString
	var allocated, current, peak, dailyPnl string
	var peakAt, dailyReset sql.NullTime

	if err := row.Scan(&s.ID, &status, &strategyID, &allocated, &current, &peak, &peakAt, &dailyPnl, &dailyReset); err != nil {
		return nil, err
	}
	s.Status = types.SubaccountStatus(status)
	if strategyID.Valid {
		s.StrategyID = &strategyID.String
	}
	s.AllocatedCapital = mustDecimal(allocated)
	s.CurrentBalance = mustDecimal(current)
	s.PeakBalance = mustDecimal(peak)
	s.DailyPnL = mustDecimal(dailyPnl)
	if peakAt.Valid {
		s.PeakBalanceAt = peakAt.Time
	}
	if dailyReset.Valid {
		s.DailyPnLResetDate = dailyReset.Time
	}
	return &s, nil
}

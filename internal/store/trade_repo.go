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

// TradeRepo owns reads/writes of Trade rows; only the Executor writes here.
type TradeRepo struct {
	db *sql.DB
}

// Open inserts a newly opened position.
func (r *TradeRepo) Open(ctx context.Context, t *types.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (id, strategy_id, subaccount_id, symbol, direction, entry_time,
			entry_price, size, leverage, stop_loss, take_profit, trailing_stop, entry_fee, exit_fee, venue_dedupe_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.StrategyID, t.SubaccountID, t.Symbol, string(t.Direction), t.EntryTime,
		t.EntryPrice.String(), t.Size.String(), t.Leverage.String(), t.StopLoss.String(),
		t.TakeProfit.String(), t.TrailingStop, t.EntryFee.String(), t.ExitFee.String(), t.VenueDedupeID)
	if err != nil {
		return fmt.Errorf("store: open trade: %w", err)
	}
	return nil
}

// Close records an exit on an open trade and its realised PnL.
func (r *TradeRepo) Close(ctx context.Context, id string, exitTime time.Time, exitPrice decimal.Decimal, reason types.ExitReason, pnl, pnlRatio, exitFee decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trades SET exit_time = ?, exit_price = ?, exit_reason = ?, realized_pnl = ?,
			realized_pnl_ratio = ?, exit_fee = ?
		WHERE id = ? AND exit_time IS NULL`,
		exitTime, exitPrice.String(), string(reason), pnl.String(), pnlRatio.String(), exitFee.String(), id)
	if err != nil {
		return fmt.Errorf("store: close trade: %w", err)
	}
	return nil
}

// UpdateStopLoss persists an advanced trailing-stop price on an open trade.
func (r *TradeRepo) UpdateStopLoss(ctx context.Context, id string, stopLoss decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trades SET stop_loss = ? WHERE id = ? AND exit_time IS NULL`, stopLoss.String(), id)
	if err != nil {
		return fmt.Errorf("store: update stop loss: %w", err)
	}
	return nil
}

// OpenForStrategySymbol returns the currently open trade (if any) for a
// strategy/symbol pair, used to decide whether a new signal may open.
func (r *TradeRepo) OpenForStrategySymbol(ctx context.Context, strategyID, symbol string) (*types.Trade, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, subaccount_id, symbol, direction, entry_time, entry_price, size,
			leverage, stop_loss, take_profit, trailing_stop, exit_time, exit_price, exit_reason, realized_pnl,
			realized_pnl_ratio, entry_fee, exit_fee, venue_dedupe_id
		FROM trades WHERE strategy_id = ? AND symbol = ? AND exit_time IS NULL LIMIT 1`,
		strategyID, symbol)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open trade lookup: %w", err)
	}
	return t, nil
}

// OpenCountForSubaccount counts currently open positions for a subaccount,
// used to enforce the per-subaccount open-position cap.
func (r *TradeRepo) OpenCountForSubaccount(ctx context.Context, subaccountID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE subaccount_id = ? AND exit_time IS NULL`, subaccountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: open count: %w", err)
	}
	return n, nil
}

// ListOpen returns every currently open trade across all strategies, used
// by the trailing-stop service to find positions that may need advancing.
func (r *TradeRepo) ListOpen(ctx context.Context) ([]*types.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, subaccount_id, symbol, direction, entry_time, entry_price, size,
			leverage, stop_loss, take_profit, trailing_stop, exit_time, exit_price, exit_reason, realized_pnl,
			realized_pnl_ratio, entry_fee, exit_fee, venue_dedupe_id
		FROM trades WHERE exit_time IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list open trades: %w", err)
	}
	defer rows.Close()
	var out []*types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan open trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentClosed returns the most recently closed trades for a strategy,
// newest first, used by live-metrics refresh and consecutive-loss checks.
func (r *TradeRepo) RecentClosed(ctx context.Context, strategyID string, limit int) ([]*types.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, subaccount_id, symbol, direction, entry_time, entry_price, size,
			leverage, stop_loss, take_profit, trailing_stop, exit_time, exit_price, exit_reason, realized_pnl,
			realized_pnl_ratio, entry_fee, exit_fee, venue_dedupe_id
		FROM trades WHERE strategy_id = ? AND exit_time IS NOT NULL
		ORDER BY exit_time DESC LIMIT ?`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent closed: %w", err)
	}
	defer rows.Close()
	var out []*types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan closed trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row scanner) (*types.Trade, error) {
	var t types.Trade
	var direction string
	var exitTime sql.NullTime
	var entryPrice, size, leverage, stopLoss, takeProfit, entryFee, exitFee string
	var exitPrice, realizedPnL, realizedPnLRatio sql.NullString
	var exitReason, venueDedupeID sql.NullString

	if err := row.Scan(&t.ID, &t.StrategyID, &t.SubaccountID, &t.Symbol, &direction, &t.EntryTime,
		&entryPrice, &size, &leverage, &stopLoss, &takeProfit, &t.TrailingStop, &exitTime, &exitPrice, &exitReason,
		&realizedPnL, &realizedPnLRatio, &entryFee, &exitFee, &venueDedupeID); err != nil {
		return nil, err
	}

	t.Direction = types.TradeDirection(direction)
	t.EntryPrice = mustDecimal(entryPrice)
	t.Size = mustDecimal(size)
	t.Leverage = mustDecimal(leverage)
	t.StopLoss = mustDecimal(stopLoss)
	t.TakeProfit = mustDecimal(takeProfit)
	t.EntryFee = mustDecimal(entryFee)
	t.ExitFee = mustDecimal(exitFee)
	if exitTime.Valid {
		t.ExitTime = &exitTime.Time
	}
	if exitPrice.Valid {
		t.ExitPrice = mustDecimal(exitPrice.String)
	}
	if exitReason.Valid {
		t.ExitReason = types.ExitReason(exitReason.String)
	}
	if realizedPnL.Valid {
		t.RealizedPnL = mustDecimal(realizedPnL.String)
	}
	if realizedPnLRatio.Valid {
		t.RealizedPnLRatio = mustDecimal(realizedPnLRatio.String)
	}
	if venueDedupeID.Valid {
		t.VenueDedupeID = &venueDedupeID.String
	}
	return &t, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

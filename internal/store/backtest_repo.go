package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// BacktestRepo stores full/recent BacktestResult pairs.
type BacktestRepo struct {
	db *sql.DB
}

// InsertPair persists the full row, then the recent row referencing it,
// inside one transaction, preserving the 1:1 pairing invariant.
func (r *BacktestRepo) InsertPair(ctx context.Context, full, recent *types.BacktestResult) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertResult(ctx, tx, full); err != nil {
			return fmt.Errorf("store: insert full result: %w", err)
		}
		recent.FullResultID = &full.ID
		if err := insertResult(ctx, tx, recent); err != nil {
			return fmt.Errorf("store: insert recent result: %w", err)
		}
		return nil
	})
}

func insertResult(ctx context.Context, tx *sql.Tx, res *types.BacktestResult) error {
	symbols, err := json.Marshal(res.Symbols)
	if err != nil {
		return err
	}
	res.CreatedAt = time.Now().UTC()
	optimal := 0
	if res.IsOptimalInterval {
		optimal = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_results (id, strategy_id, period_type, full_result_id, interval,
			is_optimal_interval, symbols_json, sharpe, win_rate, expectancy, max_drawdown,
			trade_count, total_return, walk_forward_stability, weighted_sharpe, weighted_win_rate,
			weighted_expectancy, recency_ratio, recency_penalty, score, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.StrategyID, string(res.PeriodType), res.FullResultID, string(res.Interval),
		optimal, string(symbols), res.Sharpe, res.WinRate, res.Expectancy, res.MaxDrawdown,
		res.TradeCount, res.TotalReturn, res.WalkForwardStability, res.WeightedSharpe, res.WeightedWinRate,
		res.WeightedExpectancy, res.RecencyRatio, res.RecencyPenalty, res.Score, res.CreatedAt)
	return err
}

// LatestForStrategy returns the most recent full/recent pair for a strategy
// at its optimal interval, or nil, nil if none exists.
func (r *BacktestRepo) LatestForStrategy(ctx context.Context, strategyID string) (full, recent *types.BacktestResult, err error) {
	full, err = r.latestByPeriod(ctx, strategyID, types.PeriodFull)
	if err != nil || full == nil {
		return nil, nil, err
	}
	recent, err = r.latestByPeriod(ctx, strategyID, types.PeriodRecent)
	return full, recent, err
}

func (r *BacktestRepo) latestByPeriod(ctx context.Context, strategyID string, period types.PeriodType) (*types.BacktestResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, period_type, full_result_id, interval, is_optimal_interval,
			symbols_json, sharpe, win_rate, expectancy, max_drawdown, trade_count, total_return,
			walk_forward_stability, weighted_sharpe, weighted_win_rate, weighted_expectancy,
			recency_ratio, recency_penalty, score, created_at
		FROM backtest_results WHERE strategy_id = ? AND period_type = ?
		ORDER BY created_at DESC LIMIT 1`, strategyID, string(period))
	res, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest result: %w", err)
	}
	return res, nil
}

func scanResult(row scanner) (*types.BacktestResult, error) {
	var res types.BacktestResult
	var periodType, interval string
	var fullResultID sql.NullString
	var symbolsJSON string
	var optimal int
	if err := row.Scan(&res.ID, &res.StrategyID, &periodType, &fullResultID, &interval, &optimal,
		&symbolsJSON, &res.Sharpe, &res.WinRate, &res.Expectancy, &res.MaxDrawdown, &res.TradeCount,
		&res.TotalReturn, &res.WalkForwardStability, &res.WeightedSharpe, &res.WeightedWinRate,
		&res.WeightedExpectancy, &res.RecencyRatio, &res.RecencyPenalty, &res.Score, &res.CreatedAt); err != nil {
		return nil, err
	}
	res.PeriodType = types.PeriodType(periodType)
	res.Interval = types.Interval(interval)
	res.IsOptimalInterval = optimal != 0
	if fullResultID.Valid {
		res.FullResultID = &fullResultID.String
	}
	if err := json.Unmarshal([]byte(symbolsJSON), &res.Symbols); err != nil {
		return nil, err
	}
	return &res, nil
}

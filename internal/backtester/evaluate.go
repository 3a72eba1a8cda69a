package backtester

import (
	"context"
	"fmt"

	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
	"github.com/atlas-quant/strategy-pipeline/internal/scoring"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
)

// sweepResult is one (interval) candidate's full-history run, kept around
// only long enough to pick the best by weighted sharpe.
type sweepResult struct {
	interval       types.Interval
	metrics        runMetrics
	weightedSharpe float64
}

// evaluate runs the interval sweep, then the dual-period evaluation at the
// winning interval, and returns the full/recent rows plus the final score.
func (b *Backtester) evaluate(ctx context.Context, s *types.Strategy) (full, recent *types.BacktestResult, score float64, err error) {
	inst, err := b.registry.Create(*s.TemplateID, s.Parameters)
	if err != nil {
		return nil, nil, 0, pipelineerr.NewFatal("backtest_compile", fmt.Sprintf("instantiate failed: %v", err), err)
	}

	var sweep []sweepResult
	for _, interval := range types.AllIntervals {
		m, ok, rerr := b.runOverSymbols(ctx, inst, interval, s.Symbols, 0)
		if rerr != nil {
			return nil, nil, 0, pipelineerr.NewTransient("interval_sweep", rerr)
		}
		if !ok {
			continue
		}
		recentM, _, rerr := b.runOverSymbols(ctx, inst, interval, s.Symbols, b.cfg.RecentWindowBars)
		if rerr != nil {
			return nil, nil, 0, pipelineerr.NewTransient("interval_sweep", rerr)
		}
		ratio := 1.0
		if m.sharpe != 0 {
			ratio = recentM.sharpe / m.sharpe
		}
		weighted := scoring.ApplyRecencyPenalty(m.sharpe, scoring.RecencyPenalty(ratio, b.cfg.MaxRecencyPenalty))
		sweep = append(sweep, sweepResult{interval: interval, metrics: m, weightedSharpe: weighted})
	}
	if len(sweep) == 0 {
		return nil, nil, 0, pipelineerr.NewFatal("interval_sweep", "insufficient_trades", nil)
	}

	best := sweep[0]
	for _, r := range sweep[1:] {
		if r.weightedSharpe > best.weightedSharpe {
			best = r
		}
	}

	fullMetrics, _, rerr := b.runOverSymbols(ctx, inst, best.interval, s.Symbols, 0)
	if rerr != nil {
		return nil, nil, 0, pipelineerr.NewTransient("full_backtest", rerr)
	}
	recentMetrics, _, rerr := b.runOverSymbols(ctx, inst, best.interval, s.Symbols, b.cfg.RecentWindowBars)
	if rerr != nil {
		return nil, nil, 0, pipelineerr.NewTransient("recent_backtest", rerr)
	}

	recencyRatio := 1.0
	if fullMetrics.sharpe != 0 {
		recencyRatio = recentMetrics.sharpe / fullMetrics.sharpe
	}
	penalty := scoring.RecencyPenalty(recencyRatio, b.cfg.MaxRecencyPenalty)

	weightedSharpe := scoring.ApplyRecencyPenalty(fullMetrics.sharpe, penalty)
	weightedWinRate := scoring.ApplyRecencyPenalty(fullMetrics.winRate, penalty)
	weightedExpectancy := scoring.ApplyRecencyPenalty(fullMetrics.expectancy, penalty)

	finalScore := scoring.Weighted(scoring.Metrics{
		Expectancy:           weightedExpectancy,
		Sharpe:               weightedSharpe,
		WinRate:              weightedWinRate,
		WalkForwardStability: fullMetrics.walkForwardStability,
	}, b.weights)

	fullRow := &types.BacktestResult{
		ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodFull,
		Interval: best.interval, IsOptimalInterval: true, Symbols: s.Symbols,
		Sharpe: fullMetrics.sharpe, WinRate: fullMetrics.winRate, Expectancy: fullMetrics.expectancy,
		MaxDrawdown: fullMetrics.maxDrawdown, TradeCount: fullMetrics.tradeCount, TotalReturn: fullMetrics.totalReturn,
		WalkForwardStability: fullMetrics.walkForwardStability,
		WeightedSharpe:       weightedSharpe, WeightedWinRate: weightedWinRate, WeightedExpectancy: weightedExpectancy,
		RecencyRatio: recencyRatio, RecencyPenalty: penalty, Score: finalScore,
	}
	recentRow := &types.BacktestResult{
		ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodRecent,
		Interval: best.interval, IsOptimalInterval: true, Symbols: s.Symbols,
		Sharpe: recentMetrics.sharpe, WinRate: recentMetrics.winRate, Expectancy: recentMetrics.expectancy,
		MaxDrawdown: recentMetrics.maxDrawdown, TradeCount: recentMetrics.tradeCount, TotalReturn: recentMetrics.totalReturn,
		WalkForwardStability: recentMetrics.walkForwardStability,
		WeightedSharpe:       weightedSharpe, WeightedWinRate: weightedWinRate, WeightedExpectancy: weightedExpectancy,
		RecencyRatio: recencyRatio, RecencyPenalty: penalty, Score: finalScore,
	}
	return fullRow, recentRow, finalScore, nil
}

// runOverSymbols runs the vectorised signal loop for every symbol at
// interval, using only the trailing `recentBars` bars when recentBars > 0,
// and aggregates the per-symbol metrics.
func (b *Backtester) runOverSymbols(ctx context.Context, inst strategy.Strategy, interval types.Interval, symbols []string, recentBars int) (runMetrics, bool, error) {
	var agg runMetrics
	any := false
	for _, symbol := range symbols {
		series, err := b.history.History(ctx, symbol, interval)
		if err != nil {
			return runMetrics{}, false, err
		}
		if series == nil || series.Len() < 10 {
			continue
		}
		if recentBars > 0 && series.Len() > recentBars {
			series = sliceTail(series, recentBars)
		}
		m := runSeries(inst, series, symbol)
		agg = agg.merge(m)
		any = true
	}
	return agg, any, nil
}

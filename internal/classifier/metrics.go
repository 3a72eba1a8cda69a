package classifier

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"gonum.org/v1/gonum/stat"
)

// computeLiveMetrics derives the same metric shape the Backtester scores
// (sharpe/win-rate/expectancy/walk-forward-stability) from a strategy's
// recent closed trades, so live and backtest scores are directly
// comparable under the shared weighting (spec §4.5's "same weighting").
func computeLiveMetrics(trades []*types.Trade) liveMetrics {
	// trades arrives most-recent-exit-first; walk it in reverse so ratios
	// is chronological, matching the backtester's split-half convention.
	ratios := make([]float64, 0, len(trades))
	wins := 0
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExitTime == nil {
			continue
		}
		r, _ := t.RealizedPnLRatio.Float64()
		ratios = append(ratios, r)
		if r > 0 {
			wins++
		}
	}

	m := liveMetrics{tradeCount: len(ratios)}
	if len(ratios) == 0 {
		return m
	}

	total := 0.0
	for _, r := range ratios {
		total += r
	}
	m.metrics.Expectancy = total / float64(len(ratios))
	m.metrics.WinRate = float64(wins) / float64(len(ratios))

	if len(ratios) >= 2 {
		mean, std := stat.MeanStdDev(ratios, nil)
		if std > 0 {
			m.metrics.Sharpe = mean / std * math.Sqrt(float64(len(ratios)))
		}
	}
	m.metrics.WalkForwardStability = walkForwardStability(ratios)
	return m
}

// walkForwardStability mirrors the backtester's split-half stability
// score, applied here to live per-trade PnL ratios.
func walkForwardStability(returns []float64) float64 {
	if len(returns) < 4 {
		return 0
	}
	mid := len(returns) / 2
	first := avg(returns[:mid])
	second := avg(returns[mid:])
	denom := math.Abs(first) + math.Abs(second)
	if denom == 0 {
		return 1
	}
	return 1 - math.Min(1, math.Abs(first-second)/denom)
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

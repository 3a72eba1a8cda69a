package backtester

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"gonum.org/v1/gonum/stat"
)

// runMetrics is one symbol's (or the cross-symbol aggregate's) evaluation
// output for a single interval/window combination.
type runMetrics struct {
	sharpe               float64
	winRate              float64
	expectancy           float64
	maxDrawdown          float64
	tradeCount           int
	totalReturn          float64
	walkForwardStability float64

	// carried through merge() so aggregate winRate/expectancy/sharpe can be
	// recomputed from pooled per-trade returns rather than averaged blindly
	returns []float64
}

// merge pools two runs' per-trade returns and recomputes the aggregate
// metrics from the pooled sample, used to combine per-symbol results into
// one cross-symbol metric set.
func (m runMetrics) merge(other runMetrics) runMetrics {
	pooled := append(append([]float64{}, m.returns...), other.returns...)
	out := metricsFromReturns(pooled, math.Max(m.maxDrawdown, other.maxDrawdown))
	out.walkForwardStability = walkForwardStability(pooled)
	return out
}

// runSeries walks a strategy over a full series and returns its metrics.
func runSeries(strat strategy.Strategy, series *strategy.Series, symbol string) runMetrics {
	computed := strat.PrecomputeIndicators(series)
	view := strategy.NewPrefixView(computed, 0)

	var returns []float64
	inPosition := false
	var entryPrice float64
	var entryDir strategy.SignalDirection

	equity := 1.0
	peak := 1.0
	maxDD := 0.0

	for {
		sig := strat.GenerateSignal(view, symbol)
		price, _ := view.At(0)
		if sig != nil {
			switch sig.Direction {
			case strategy.SignalLong, strategy.SignalShort:
				if !inPosition {
					inPosition = true
					entryPrice = price
					entryDir = sig.Direction
				}
			case strategy.SignalClose:
				if inPosition {
					ret := (price - entryPrice) / entryPrice
					if entryDir == strategy.SignalShort {
						ret = -ret
					}
					returns = append(returns, ret)
					equity *= 1 + ret
					if equity > peak {
						peak = equity
					}
					if dd := (peak - equity) / peak; dd > maxDD {
						maxDD = dd
					}
					inPosition = false
				}
			}
		}
		if !view.Advance() {
			break
		}
	}

	metrics := metricsFromReturns(returns, maxDD)
	metrics.walkForwardStability = walkForwardStability(returns)
	return metrics
}

// metricsFromReturns derives sharpe/win-rate/expectancy/total-return from a
// pooled sample of per-trade returns.
func metricsFromReturns(returns []float64, maxDD float64) runMetrics {
	m := runMetrics{maxDrawdown: maxDD, tradeCount: len(returns), returns: returns}
	if len(returns) == 0 {
		return m
	}

	wins := 0
	total := 0.0
	for _, r := range returns {
		total += r
		if r > 0 {
			wins++
		}
	}
	m.totalReturn = total
	m.winRate = float64(wins) / float64(len(returns))
	m.expectancy = total / float64(len(returns))

	if len(returns) < 2 {
		m.sharpe = 0
		return m
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		m.sharpe = 0
	} else {
		m.sharpe = mean / std * math.Sqrt(float64(len(returns)))
	}
	return m
}

// walkForwardStability splits the trade returns into halves and scores how
// close their per-trade averages track each other: 1 is perfectly stable,
// 0 is a strategy whose edge comes entirely from one half of its history.
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

// sliceTail returns a new series containing only series' trailing n bars,
// used to build the recent-period backtest window.
func sliceTail(series *strategy.Series, n int) *strategy.Series {
	total := series.Len()
	if n >= total {
		return series
	}
	start := total - n
	out := strategy.NewSeries(n)
	copy(out.Time, series.Time[start:])
	copy(out.Open, series.Open[start:])
	copy(out.High, series.High[start:])
	copy(out.Low, series.Low[start:])
	copy(out.Close, series.Close[start:])
	copy(out.Volume, series.Volume[start:])
	for _, name := range series.ColumnNames() {
		col := series.Column(name)
		if len(col) < total {
			continue
		}
		out.SetColumn(name, append([]float64(nil), col[start:]...))
	}
	return out
}

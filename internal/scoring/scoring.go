// Package scoring implements the weighted scorer shared by the Backtester
// (recency-weighted backtest metrics) and the Classifier (live metrics),
// resolving the spec's open question in favour of one scorer for both.
package scoring

import "github.com/atlas-quant/strategy-pipeline/internal/config"

// Metrics is the common input to the weighted score, whether derived from
// a backtest window or from live closed trades.
type Metrics struct {
	Expectancy           float64
	Sharpe               float64
	WinRate              float64
	WalkForwardStability float64
}

// Weighted computes the single weighted-sum score used for both backtest
// admission and live-retirement decisions.
func Weighted(m Metrics, w config.ScoreWeights) float64 {
	return w.Expectancy*m.Expectancy +
		w.Sharpe*m.Sharpe +
		w.WinRate*m.WinRate +
		w.WalkForward*m.WalkForwardStability
}

// RecencyPenalty returns the bounded multiplicative penalty applied to
// full-history metrics when recent performance lags: a ratio >= 1 applies
// no penalty; a ratio < 1 scales the deduction linearly, capped at max.
func RecencyPenalty(recencyRatio, maxPenalty float64) float64 {
	if recencyRatio >= 1 {
		return 0
	}
	penalty := 1 - recencyRatio
	if penalty > maxPenalty {
		penalty = maxPenalty
	}
	if penalty < 0 {
		penalty = 0
	}
	return penalty
}

// ApplyRecencyPenalty scales a full-history metric down by the penalty.
func ApplyRecencyPenalty(full, penalty float64) float64 {
	return full * (1 - penalty)
}

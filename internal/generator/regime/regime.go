// Package regime is a lightweight market-regime estimator consulted by the
// coin registry when selecting symbols, folded in from the original's
// src/generator/regime/detector.py (not part of the distilled spec, which
// only mentions "optionally conditioned by a market-regime estimate").
package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Regime classifies recent price action for a symbol.
type Regime string

const (
	Trending Regime = "trending"
	Ranging  Regime = "ranging"
	Volatile Regime = "volatile"
)

// Detector classifies a symbol's regime from a window of recent closes
// using the coefficient of variation of returns (volatility) and the
// linear-trend R^2 (directionality), the same statistics used for the
// Validator's multi-window stability probe.
type Detector struct {
	VolatileCVThreshold float64
	TrendR2Threshold    float64
}

// NewDetector builds a Detector with sensible defaults.
func NewDetector() *Detector {
	return &Detector{VolatileCVThreshold: 0.08, TrendR2Threshold: 0.6}
}

// Classify returns the regime implied by a window of closes, newest last.
func (d *Detector) Classify(closes []float64) Regime {
	if len(closes) < 3 {
		return Ranging
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) < 2 {
		return Ranging
	}
	mean, std := stat.MeanStdDev(returns, nil)
	cv := 0.0
	if mean != 0 {
		cv = math.Abs(std / mean)
	} else if std != 0 {
		cv = math.Inf(1)
	}
	if cv > d.VolatileCVThreshold {
		return Volatile
	}

	xs := make([]float64, len(closes))
	for i := range closes {
		xs[i] = float64(i)
	}
	alpha, slope := stat.LinearRegression(xs, closes, nil, false)
	r2 := stat.RSquared(xs, closes, nil, alpha, slope)
	if r2 >= d.TrendR2Threshold {
		return Trending
	}
	return Ranging
}

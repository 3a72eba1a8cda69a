package validator

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
)

// SmokeTest runs the two-phase contract over deterministic synthetic OHLCV
// and requires non-exception behaviour plus at least one non-null signal
// across the series (spec §4.3.3). Go has no exceptions for "non-exception
// behaviour" to mean, so a panic inside the strategy's own code is the
// analogous failure mode; the caller is expected to run this under a
// recover() boundary, matching the worker-pool panic recovery pattern used
// throughout this codebase.
func SmokeTest(strat strategy.Strategy, series *strategy.Series) error {
	computed := strat.PrecomputeIndicators(series)
	sawSignal := false
	view := strategy.NewPrefixView(computed, 0)
	for {
		sig := strat.GenerateSignal(view, "SYNTH")
		if sig != nil {
			sawSignal = true
		}
		if !view.Advance() {
			break
		}
	}
	if !sawSignal {
		return pipelineerr.NewFatal("smoke_test", "no non-null signal across synthetic series", nil)
	}
	return nil
}

// NonNullIndicatorCoverage reports the fraction of bars in col that are
// finite (not NaN/Inf), used to sanity-check precompute output shape
// independent of the signal step.
func NonNullIndicatorCoverage(col []float64) float64 {
	if len(col) == 0 {
		return 0
	}
	finite := 0
	for _, v := range col {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite++
		}
	}
	return float64(finite) / float64(len(col))
}

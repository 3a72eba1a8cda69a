package validator

import (
	"context"
	"fmt"
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"gonum.org/v1/gonum/stat"
)

// simOutcome is the coarse aggregate this phase compares between the real
// and shuffled series: a strategy that performs no better on real bars than
// on randomly reordered ones is, by construction, fitting noise.
type simOutcome struct {
	totalReturn float64
	trades      int
}

func simulate(strat strategy.Strategy, series *strategy.Series, symbol string) simOutcome {
	computed := strat.PrecomputeIndicators(series)
	view := strategy.NewPrefixView(computed, 0)

	var outcome simOutcome
	inPosition := false
	var entryPrice float64
	var entryDir strategy.SignalDirection

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
					outcome.totalReturn += ret
					outcome.trades++
					inPosition = false
				}
			}
		}
		if !view.Advance() {
			break
		}
	}
	return outcome
}

// ShuffleTest consults the ValidationCache by base_code_hash before doing
// any work: a cached pass/fail short-circuits the phase for every
// parametric sibling sharing that hash (spec invariant 5 / §8
// cache-consistency law). On a cache miss it runs the simulation on the
// real and a shuffled synthetic series and persists the outcome.
func ShuffleTest(ctx context.Context, cache *store.ValidationCacheRepo, strat strategy.Strategy, baseCodeHash string) (cached bool, passed bool, err error) {
	entry, err := cache.Get(ctx, baseCodeHash)
	if err != nil {
		return false, false, fmt.Errorf("validator: shuffle cache lookup: %w", err)
	}
	if entry != nil {
		return true, entry.Passed, nil
	}

	real := SyntheticSeries(400, 42)
	shuffled := Shuffled(real, 43)

	realOutcome := simulate(strat, real, "SYNTH")
	shuffledOutcome := simulate(strat, shuffled, "SYNTH")

	passed = realOutcome.trades > 0 && realOutcome.totalReturn > shuffledOutcome.totalReturn

	if err := cache.Upsert(ctx, baseCodeHash, passed); err != nil {
		return false, passed, fmt.Errorf("validator: shuffle cache upsert: %w", err)
	}
	return false, passed, nil
}

// StabilityProbe computes the mean per-trade return on each of several
// independently seeded synthetic series and requires their coefficient of
// variation to stay below threshold, the optional multi-window robustness
// check (spec §4.3.5).
func StabilityProbe(strat strategy.Strategy, windows int, threshold float64) (passed bool, cv float64) {
	sharpes := make([]float64, 0, windows)
	for w := 0; w < windows; w++ {
		series := SyntheticSeries(300, int64(1000+w))
		outcome := simulate(strat, series, "SYNTH")
		if outcome.trades == 0 {
			continue
		}
		sharpes = append(sharpes, outcome.totalReturn/float64(outcome.trades))
	}
	if len(sharpes) < 2 {
		return true, 0
	}
	mean, std := stat.MeanStdDev(sharpes, nil)
	if mean == 0 {
		return false, math.Inf(1)
	}
	cv = math.Abs(std / mean)
	return cv < threshold, cv
}

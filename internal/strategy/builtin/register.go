// Package builtin ships a handful of reference strategy templates so the
// pipeline has real candidates to generate parametric variants from, in
// the same spirit as the teacher's strategy.NewStrategyRegistry() seeding a
// handful of named strategies at construction time.
package builtin

import "github.com/atlas-quant/strategy-pipeline/internal/strategy"

// RegisterAll wires every built-in template into reg.
func RegisterAll(reg *strategy.Registry) {
	reg.Register("momentum_rsi", NewMomentumRSI)
	reg.Register("mean_reversion_bbands", NewMeanReversionBBands)
	reg.Register("breakout_donchian", NewBreakoutDonchian)
}

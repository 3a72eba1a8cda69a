package builtin_test

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy/builtin"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oscillatingSeries(n int) *strategy.Series {
	series := strategy.NewSeries(n)
	now := time.Now()
	for i := 0; i < n; i++ {
		price := 100 + 20*math.Sin(float64(i)/3)
		series.Open[i] = price
		series.Close[i] = price
		series.High[i] = price + 1
		series.Low[i] = price - 1
		series.Volume[i] = 1000
		series.Time[i] = now.Add(time.Duration(i) * time.Hour)
	}
	return series
}

func TestMomentumRSIDefaultsAndRegistration(t *testing.T) {
	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)
	require.Contains(t, reg.List(), "momentum_rsi")

	s, err := reg.Create("momentum_rsi", map[string]float64{"period": 5, "oversold": 25, "overbought": 75})
	require.NoError(t, err)
	assert.Equal(t, "momentum_rsi", s.Name())
}

func TestMomentumRSIPrecomputeThenSignalNeverPanics(t *testing.T) {
	s := builtin.NewMomentumRSI(map[string]float64{"period": 5})
	series := oscillatingSeries(60)
	out := s.PrecomputeIndicators(series)
	require.Equal(t, series.Len(), out.Len())

	for i := 0; i < out.Len(); i++ {
		view := strategy.NewPrefixView(out, i)
		assert.NotPanics(t, func() {
			s.GenerateSignal(view, "BTC-USD")
		})
	}
}

func flatThenDropSeries(n int) *strategy.Series {
	series := strategy.NewSeries(n)
	now := time.Now()
	for i := 0; i < n; i++ {
		price := 100.0
		if i == n-1 {
			price = 50.0
		}
		series.Open[i] = price
		series.Close[i] = price
		series.High[i] = price + 1
		series.Low[i] = price - 1
		series.Volume[i] = 1000
		series.Time[i] = now.Add(time.Duration(i) * time.Hour)
	}
	return series
}

func TestMeanReversionSuppressesLongEntryWhenRotatedShortOnly(t *testing.T) {
	series := flatThenDropSeries(30)

	bidi := builtin.NewMeanReversionBBands(map[string]float64{"period": 20})
	shortOnly := builtin.NewMeanReversionBBands(map[string]float64{
		"period": 20, strategy.DirectionParamKey: strategy.EncodeDirection(types.DirectionShort),
	})

	bidiOut := bidi.PrecomputeIndicators(series)
	shortOut := shortOnly.PrecomputeIndicators(series)

	bidiSig := bidi.GenerateSignal(strategy.NewPrefixView(bidiOut, bidiOut.Len()-1), "BTC-USD")
	shortSig := shortOnly.GenerateSignal(strategy.NewPrefixView(shortOut, shortOut.Len()-1), "BTC-USD")

	require.NotNil(t, bidiSig, "a bidi instance must open long on a drop below the lower band")
	assert.Equal(t, strategy.SignalLong, bidiSig.Direction)
	assert.Nil(t, shortSig, "a short-only rotation must suppress the long entry the same drop would otherwise open")
}

func TestAllBuiltinTemplatesRegisterUniqueIDs(t *testing.T) {
	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)
	ids := reg.List()
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate template id %s", id)
		seen[id] = true
	}
	assert.ElementsMatch(t, []string{"momentum_rsi", "mean_reversion_bbands", "breakout_donchian"}, ids)
}

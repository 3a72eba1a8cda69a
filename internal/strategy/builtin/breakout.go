package builtin

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colDonchianHigh = "donchian_high"
	colDonchianLow  = "donchian_low"
)

// BreakoutDonchian opens in the direction of a new N-bar high/low breakout.
type BreakoutDonchian struct {
	period    int
	direction types.Direction
}

// NewBreakoutDonchian builds a BreakoutDonchian with a tunable lookback.
func NewBreakoutDonchian(params map[string]float64) strategy.Strategy {
	b := &BreakoutDonchian{period: 20, direction: types.DirectionBidi}
	if v, ok := params["period"]; ok {
		b.period = int(v)
	}
	if v, ok := params[strategy.DirectionParamKey]; ok {
		b.direction = strategy.DecodeDirection(v)
	}
	return b
}

func (b *BreakoutDonchian) Name() string                { return "breakout_donchian" }
func (b *BreakoutDonchian) Category() types.Category    { return types.CategoryBreakout }
func (b *BreakoutDonchian) BarInterval() types.Interval { return types.Interval4h }
func (b *BreakoutDonchian) Direction() types.Direction  { return b.direction }
func (b *BreakoutDonchian) IndicatorColumns() []string {
	return []string{colDonchianHigh, colDonchianLow}
}
func (b *BreakoutDonchian) ExitAfterBars() int { return 30 }

// PrecomputeIndicators computes the rolling N-bar high/low channel. talib's
// Max/Min already look back only period bars, inclusive of the current bar,
// so channel[k] never depends on bars after k.
func (b *BreakoutDonchian) PrecomputeIndicators(series *strategy.Series) *strategy.Series {
	series.SetColumn(colDonchianHigh, talib.Max(series.High, b.period))
	series.SetColumn(colDonchianLow, talib.Min(series.Low, b.period))
	return series
}

func (b *BreakoutDonchian) GenerateSignal(view *strategy.PrefixView, symbol string) *strategy.Signal {
	if view.Len() < b.period+1 {
		return nil
	}
	// Compare the current close against the *prior* bar's channel so the
	// breakout is a genuine new extreme, not the bar that set the channel.
	highTail := view.ColumnTail(colDonchianHigh, 2)
	lowTail := view.ColumnTail(colDonchianLow, 2)
	if len(highTail) < 2 || len(lowTail) < 2 {
		return nil
	}
	priorHigh, priorLow := highTail[0], lowTail[0]
	if math.IsNaN(priorHigh) || math.IsNaN(priorLow) {
		return nil
	}
	price, ok := view.At(0)
	if !ok {
		return nil
	}

	if price > priorHigh && b.direction != types.DirectionShort {
		return &strategy.Signal{
			Direction:  strategy.SignalLong,
			Leverage:   1,
			StopLoss:   strategy.StopDescriptor{Kind: string(strategy.SLStructural), Value: 0},
			TakeProfit: strategy.StopDescriptor{Kind: string(strategy.TPTrailing), Value: 0.01},
			Reason:     "donchian_breakout_up",
		}
	}
	if price < priorLow && b.direction != types.DirectionLong {
		return &strategy.Signal{
			Direction:  strategy.SignalShort,
			Leverage:   1,
			StopLoss:   strategy.StopDescriptor{Kind: string(strategy.SLStructural), Value: 0},
			TakeProfit: strategy.StopDescriptor{Kind: string(strategy.TPTrailing), Value: 0.01},
			Reason:     "donchian_breakout_down",
		}
	}
	return nil
}

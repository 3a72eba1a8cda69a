package builtin

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	talib "github.com/markcheno/go-talib"
)

const colRSI = "rsi"

// MomentumRSI opens long on RSI crossing up through the oversold line and
// closes on a cross back down through the overbought line.
type MomentumRSI struct {
	period     int
	oversold   float64
	overbought float64
	direction  types.Direction
}

// NewMomentumRSI builds a MomentumRSI with tunable RSI parameters; params
// absent from the map fall back to sensible defaults.
func NewMomentumRSI(params map[string]float64) strategy.Strategy {
	m := &MomentumRSI{period: 14, oversold: 30, overbought: 70, direction: types.DirectionBidi}
	if v, ok := params["period"]; ok {
		m.period = int(v)
	}
	if v, ok := params["oversold"]; ok {
		m.oversold = v
	}
	if v, ok := params["overbought"]; ok {
		m.overbought = v
	}
	if v, ok := params[strategy.DirectionParamKey]; ok {
		m.direction = strategy.DecodeDirection(v)
	}
	return m
}

func (m *MomentumRSI) Name() string                { return "momentum_rsi" }
func (m *MomentumRSI) Category() types.Category    { return types.CategoryMomentum }
func (m *MomentumRSI) BarInterval() types.Interval { return types.Interval1h }
func (m *MomentumRSI) Direction() types.Direction  { return m.direction }
func (m *MomentumRSI) IndicatorColumns() []string  { return []string{colRSI} }
func (m *MomentumRSI) ExitAfterBars() int          { return 0 }

// PrecomputeIndicators computes RSI over the full close series. go-talib's
// Rsi already returns NaN for the warm-up window, preserving the
// prefix-only contract (index k depends only on closes[0:k+1]).
func (m *MomentumRSI) PrecomputeIndicators(series *strategy.Series) *strategy.Series {
	rsi := talib.Rsi(series.Close, m.period)
	series.SetColumn(colRSI, rsi)
	return series
}

func (m *MomentumRSI) GenerateSignal(view *strategy.PrefixView, symbol string) *strategy.Signal {
	if view.Len() < m.period+2 {
		return nil
	}
	tail := view.ColumnTail(colRSI, 2)
	if len(tail) < 2 || math.IsNaN(tail[0]) || math.IsNaN(tail[1]) {
		return nil
	}
	prev, cur := tail[0], tail[1]

	if prev <= m.oversold && cur > m.oversold && m.direction != types.DirectionShort {
		return &strategy.Signal{
			Direction:  strategy.SignalLong,
			Leverage:   1,
			StopLoss:   strategy.StopDescriptor{Kind: string(strategy.SLPercent), Value: 0.02},
			TakeProfit: strategy.StopDescriptor{Kind: string(strategy.TPRRMultiple), Value: 2},
			Reason:     "rsi_cross_up_oversold",
		}
	}
	if prev >= m.overbought && cur < m.overbought {
		return &strategy.Signal{Direction: strategy.SignalClose, Reason: "rsi_cross_down_overbought"}
	}
	return nil
}

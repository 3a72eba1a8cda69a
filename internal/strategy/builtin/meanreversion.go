package builtin

import (
	"math"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colBBUpper  = "bb_upper"
	colBBMiddle = "bb_middle"
	colBBLower  = "bb_lower"
)

// MeanReversionBBands fades excursions beyond the Bollinger bands back
// toward the middle band.
type MeanReversionBBands struct {
	period     int
	deviations float64
	direction  types.Direction
}

// NewMeanReversionBBands builds a MeanReversionBBands with tunable width.
func NewMeanReversionBBands(params map[string]float64) strategy.Strategy {
	s := &MeanReversionBBands{period: 20, deviations: 2, direction: types.DirectionBidi}
	if v, ok := params["period"]; ok {
		s.period = int(v)
	}
	if v, ok := params["deviations"]; ok {
		s.deviations = v
	}
	if v, ok := params[strategy.DirectionParamKey]; ok {
		s.direction = strategy.DecodeDirection(v)
	}
	return s
}

func (s *MeanReversionBBands) Name() string                { return "mean_reversion_bbands" }
func (s *MeanReversionBBands) Category() types.Category    { return types.CategoryReversal }
func (s *MeanReversionBBands) BarInterval() types.Interval { return types.Interval15m }
func (s *MeanReversionBBands) Direction() types.Direction  { return s.direction }
func (s *MeanReversionBBands) IndicatorColumns() []string {
	return []string{colBBUpper, colBBMiddle, colBBLower}
}
func (s *MeanReversionBBands) ExitAfterBars() int { return 48 }

func (s *MeanReversionBBands) PrecomputeIndicators(series *strategy.Series) *strategy.Series {
	upper, middle, lower := talib.BBands(series.Close, s.period, s.deviations, s.deviations, talib.SMA)
	series.SetColumn(colBBUpper, upper)
	series.SetColumn(colBBMiddle, middle)
	series.SetColumn(colBBLower, lower)
	return series
}

func (s *MeanReversionBBands) GenerateSignal(view *strategy.PrefixView, symbol string) *strategy.Signal {
	upper, okU := view.ColumnLast(colBBUpper)
	lower, okL := view.ColumnLast(colBBLower)
	middle, okM := view.ColumnLast(colBBMiddle)
	if !okU || !okL || !okM || math.IsNaN(upper) || math.IsNaN(lower) || math.IsNaN(middle) {
		return nil
	}
	price, ok := view.At(0)
	if !ok {
		return nil
	}

	if price < lower && s.direction != types.DirectionShort {
		return &strategy.Signal{
			Direction:  strategy.SignalLong,
			Leverage:   1,
			StopLoss:   strategy.StopDescriptor{Kind: string(strategy.SLATRMultiple), Value: 1.5},
			TakeProfit: strategy.StopDescriptor{Kind: string(strategy.TPStructural), Value: 0},
			Reason:     "price_below_lower_band",
		}
	}
	if price > upper && s.direction != types.DirectionLong {
		return &strategy.Signal{
			Direction:  strategy.SignalShort,
			Leverage:   1,
			StopLoss:   strategy.StopDescriptor{Kind: string(strategy.SLATRMultiple), Value: 1.5},
			TakeProfit: strategy.StopDescriptor{Kind: string(strategy.TPStructural), Value: 0},
			Reason:     "price_above_upper_band",
		}
	}
	if price >= middle*0.999 && price <= middle*1.001 {
		return &strategy.Signal{Direction: strategy.SignalClose, Reason: "reverted_to_middle_band"}
	}
	return nil
}

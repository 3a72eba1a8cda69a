package executor

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// trailingActivation is the favorable-move fraction past entry required
// before a trailing stop starts advancing, since the strategy contract's
// trailing descriptor only carries a trail distance, not an activation
// threshold.
const trailingActivation = 0.005

// trailingLoop advances trailing stops for open positions whose stop type
// is trailing, driven off the same price cache the tick loop reads (spec
// §4.7.4).
func (e *Executor) trailingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.advanceTrailingStops(ctx)
		}
	}
}

func (e *Executor) advanceTrailingStops(ctx context.Context) {
	open, err := e.store.Trades.ListOpen(ctx)
	if err != nil {
		e.logger.Warn("trailing: list open trades failed", zap.Error(err))
		return
	}
	for _, t := range open {
		if !t.TrailingStop {
			continue
		}
		price, ok := e.prices.get(t.Symbol)
		if !ok {
			continue
		}
		newStop, shouldAdvance := trailAdvance(t, price)
		if !shouldAdvance {
			continue
		}
		if err := e.orders.AdvanceTrailingStop(ctx, t.SubaccountID, t.Symbol, newStop); err != nil {
			e.logger.Warn("advance trailing stop failed", zap.String("trade", t.ID), zap.Error(err))
			continue
		}
		if err := e.store.Trades.UpdateStopLoss(ctx, t.ID, newStop); err != nil {
			e.logger.Warn("persist trailing stop failed", zap.String("trade", t.ID), zap.Error(err))
		}
	}
}

// trailAdvance computes a candidate new stop for t given the latest price,
// advancing only when price has moved favorably past the activation
// threshold and the new stop is strictly better than the current one.
func trailAdvance(t *types.Trade, price decimal.Decimal) (decimal.Decimal, bool) {
	activation := decimal.NewFromFloat(trailingActivation)
	trailDistance := t.EntryPrice.Sub(t.StopLoss).Abs().Div(t.EntryPrice)
	if trailDistance.IsZero() {
		trailDistance = decimal.NewFromFloat(0.01)
	}

	if t.Direction == types.TradeLong {
		moveFrac := price.Sub(t.EntryPrice).Div(t.EntryPrice)
		if moveFrac.LessThan(activation) {
			return decimal.Zero, false
		}
		candidate := price.Mul(decimal.NewFromInt(1).Sub(trailDistance))
		if candidate.LessThanOrEqual(t.StopLoss) {
			return decimal.Zero, false
		}
		return candidate, true
	}

	moveFrac := t.EntryPrice.Sub(price).Div(t.EntryPrice)
	if moveFrac.LessThan(activation) {
		return decimal.Zero, false
	}
	candidate := price.Mul(decimal.NewFromInt(1).Add(trailDistance))
	if candidate.GreaterThanOrEqual(t.StopLoss) {
		return decimal.Zero, false
	}
	return candidate, true
}

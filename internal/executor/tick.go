package executor

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// tickLoop runs the per-tick scan on a fixed period (spec §4.7.3).
func (e *Executor) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Executor) tick(ctx context.Context) {
	subs, err := e.store.Subaccounts.ListAll(ctx)
	if err != nil {
		e.logger.Warn("tick: list subaccounts failed", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if sub.Status != types.SubaccountActive || sub.StrategyID == nil {
			continue
		}
		e.tickSubaccount(ctx, sub)
	}
}

func (e *Executor) tickSubaccount(ctx context.Context, sub *types.Subaccount) {
	s, err := e.store.Strategies.Get(ctx, *sub.StrategyID)
	if err != nil || s == nil || s.Status != types.StatusLive {
		return
	}

	ok, err := emergencystop.CanTrade(ctx, e.store.EmergencyStop, sub.ID, s.ID)
	if err != nil {
		e.logger.Warn("can_trade check failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	inst, err := e.registry.Create(*s.TemplateID, s.Parameters)
	if err != nil {
		e.logger.Error("strategy instantiate failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}

	interval := s.BarInterval
	if s.OptimalBarInterval != nil {
		interval = *s.OptimalBarInterval
	}

	for _, symbol := range s.Symbols {
		e.tickSymbol(ctx, s, sub, inst, symbol, interval)
	}
}

func (e *Executor) tickSymbol(ctx context.Context, s *types.Strategy, sub *types.Subaccount, inst strategy.Strategy, symbol string, interval types.Interval) {
	raw := e.cache.get(symbol, interval)
	if raw == nil || raw.Len() == 0 {
		return
	}
	computed := e.indicators.getOrCompute(s.ID, symbol, interval, raw, inst.PrecomputeIndicators)
	view := strategy.NewPrefixView(computed, computed.Len()-1)

	open, err := e.store.Trades.OpenForStrategySymbol(ctx, s.ID, symbol)
	if err != nil {
		e.logger.Warn("open trade lookup failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}

	if open != nil && inst.ExitAfterBars() > 0 {
		barsSinceEntry := barsSince(raw, open.EntryTime)
		if barsSinceEntry >= inst.ExitAfterBars() {
			e.closeTrade(ctx, open, types.ExitReasonTimeExit)
			open = nil
		}
	}

	sig := inst.GenerateSignal(view, symbol)
	if sig == nil {
		return
	}

	switch sig.Direction {
	case strategy.SignalClose:
		if open != nil {
			e.closeTrade(ctx, open, types.ExitReasonSignal)
		}
	case strategy.SignalLong, strategy.SignalShort:
		if open != nil {
			return
		}
		e.openTrade(ctx, s, sub, symbol, sig)
	}
}

// barsSince counts how many bars of raw occurred since entryTime.
func barsSince(raw *strategy.Series, entryTime time.Time) int {
	n := 0
	for i := len(raw.Time) - 1; i >= 0 && raw.Time[i].After(entryTime); i-- {
		n++
	}
	return n
}

// openTrade sizes and places a bracketed order and records the Trade row.
// Sizing: risk-per-trade against allocated capital, capped by a
// per-position diversification cap (allocated / max open positions) and
// the venue's minimum notional (spec §4.7.3).
func (e *Executor) openTrade(ctx context.Context, s *types.Strategy, sub *types.Subaccount, symbol string, sig *strategy.Signal) {
	openCount, err := e.store.Trades.OpenCountForSubaccount(ctx, sub.ID)
	if err != nil {
		e.logger.Warn("open count failed", zap.String("subaccount", sub.ID), zap.Error(err))
		return
	}
	if openCount >= e.cfg.MaxOpenPerSubaccount {
		return
	}

	price, ok := e.prices.get(symbol)
	if !ok {
		return
	}

	allocated := sub.AllocatedCapital
	perPositionCap := allocated.Div(decimal.NewFromInt(int64(e.cfg.MaxOpenPerSubaccount)))
	riskBudget := allocated.Mul(decimal.NewFromFloat(e.cfg.RiskPerTrade))
	notional := decimal.Min(riskBudget, perPositionCap)
	if notional.LessThan(decimal.NewFromFloat(e.cfg.MinNotional)) {
		return
	}

	leverage := decimal.NewFromFloat(sig.Leverage)
	maxLeverage := decimal.NewFromFloat(e.cfg.MaxCoinLeverage)
	if leverage.IsZero() || leverage.GreaterThan(maxLeverage) {
		leverage = maxLeverage
	}

	direction := types.TradeLong
	if sig.Direction == strategy.SignalShort {
		direction = types.TradeShort
	}

	if err := e.orders.SetIsolatedLeverage(ctx, sub.ID, symbol, leverage); err != nil {
		e.logger.Warn("set leverage failed", zap.String("symbol", symbol), zap.Error(err))
	}

	stopLoss := resolveStopPrice(price, sig.StopLoss, direction, false)
	takeProfit := resolveStopPrice(price, sig.TakeProfit, direction, true)

	result, err := e.orders.PlaceBracketOrder(ctx, venue.BracketOrder{
		SubaccountID: sub.ID, Symbol: symbol, Direction: direction,
		Size: notional, Leverage: leverage, StopLoss: stopLoss, TakeProfit: takeProfit,
	})
	if err != nil {
		e.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventPhaseFailed, "executor", "failed",
			map[string]string{"reason": err.Error(), "symbol": symbol})
		return
	}

	trade := &types.Trade{
		ID: uuid.NewString(), StrategyID: s.ID, SubaccountID: sub.ID, Symbol: symbol,
		Direction: direction, EntryTime: time.Now().UTC(), EntryPrice: result.FillPrice,
		Size: notional, Leverage: leverage, StopLoss: stopLoss, TakeProfit: takeProfit,
		TrailingStop: sig.StopLoss.Kind == string(strategy.SLTrailing),
		EntryFee:     result.Fee, ExitFee: decimal.Zero, VenueDedupeID: &result.VenueDedupeID,
	}
	if err := e.store.Trades.Open(ctx, trade); err != nil {
		e.logger.Error("persist opened trade failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}
	if e.metrics != nil {
		e.metrics.TradesOpened.WithLabelValues(string(direction)).Inc()
	}
}

// resolveStopPrice turns a strategy's abstract stop descriptor into a
// concrete venue price; only percent-style descriptors (Kind "percent",
// "trailing" or empty) are resolved from Value here. The other kinds
// resolve against state the Executor does not re-derive, so they fall back
// to a conservative 2%, as does a zero Value.
func resolveStopPrice(entry decimal.Decimal, desc strategy.StopDescriptor, direction types.TradeDirection, takeProfit bool) decimal.Decimal {
	pct := decimal.NewFromFloat(desc.Value)
	percentKind := desc.Kind == "" || desc.Kind == string(strategy.SLPercent) || desc.Kind == string(strategy.SLTrailing)
	if pct.IsZero() || !percentKind {
		pct = decimal.NewFromFloat(0.02)
	}
	favorable := direction == types.TradeLong
	if takeProfit {
		if favorable {
			return entry.Mul(decimal.NewFromInt(1).Add(pct))
		}
		return entry.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	if favorable {
		return entry.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(pct))
}

func (e *Executor) closeTrade(ctx context.Context, t *types.Trade, reason types.ExitReason) {
	price, ok := e.prices.get(t.Symbol)
	if !ok {
		price = t.EntryPrice
	}
	result, err := e.orders.ClosePosition(ctx, t.SubaccountID, t.Symbol)
	if err != nil {
		e.logger.Warn("close position failed", zap.String("trade", t.ID), zap.Error(err))
		return
	}
	if !result.FillPrice.IsZero() {
		price = result.FillPrice
	}

	pnl := price.Sub(t.EntryPrice).Mul(t.Size)
	if t.Direction == types.TradeShort {
		pnl = t.EntryPrice.Sub(price).Mul(t.Size)
	}
	pnlRatio := decimal.Zero
	if !t.EntryPrice.IsZero() {
		pnlRatio = pnl.Div(t.EntryPrice.Mul(t.Size))
	}

	if err := e.store.Trades.Close(ctx, t.ID, time.Now().UTC(), price, reason, pnl, pnlRatio, result.Fee); err != nil {
		e.logger.Error("persist closed trade failed", zap.String("trade", t.ID), zap.Error(err))
		return
	}
	if err := e.store.Subaccounts.AddDailyPnL(ctx, t.SubaccountID, pnl); err != nil {
		e.logger.Warn("accrue daily pnl failed", zap.String("subaccount", t.SubaccountID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.TradesClosed.WithLabelValues(string(reason)).Inc()
	}
}

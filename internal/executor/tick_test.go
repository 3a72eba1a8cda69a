package executor

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveStopPriceLongBracketsAroundEntry(t *testing.T) {
	entry := decimal.NewFromInt(100)
	desc := strategy.StopDescriptor{Value: 0.05}

	stop := resolveStopPrice(entry, desc, types.TradeLong, false)
	take := resolveStopPrice(entry, desc, types.TradeLong, true)

	assert.True(t, stop.LessThan(entry), "long stop loss must sit below entry")
	assert.True(t, take.GreaterThan(entry), "long take profit must sit above entry")
}

func TestResolveStopPriceShortBracketsAroundEntry(t *testing.T) {
	entry := decimal.NewFromInt(100)
	desc := strategy.StopDescriptor{Value: 0.05}

	stop := resolveStopPrice(entry, desc, types.TradeShort, false)
	take := resolveStopPrice(entry, desc, types.TradeShort, true)

	assert.True(t, stop.GreaterThan(entry), "short stop loss must sit above entry")
	assert.True(t, take.LessThan(entry), "short take profit must sit below entry")
}

func TestResolveStopPriceFallsBackToDefaultPercentWhenZero(t *testing.T) {
	entry := decimal.NewFromInt(100)
	stop := resolveStopPrice(entry, strategy.StopDescriptor{}, types.TradeLong, false)
	assert.True(t, stop.Equal(decimal.NewFromFloat(98)), "zero-value descriptor should fall back to the 2%% default")
}

func TestBarsSinceCountsOnlyStrictlyAfterEntry(t *testing.T) {
	now := time.Now()
	raw := strategy.NewSeries(5)
	for i := range raw.Time {
		raw.Time[i] = now.Add(time.Duration(i) * time.Hour)
	}
	entryTime := raw.Time[2]

	got := barsSince(raw, entryTime)
	assert.Equal(t, 2, got)
}

func TestTrailAdvanceRequiresActivationThreshold(t *testing.T) {
	tr := &types.Trade{
		Direction: types.TradeLong, EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98),
	}
	_, advanced := trailAdvance(tr, decimal.NewFromInt(100).Mul(decimal.NewFromFloat(1.001)))
	assert.False(t, advanced, "a move below the activation threshold must not advance the stop")
}

func TestTrailAdvanceRaisesLongStopOnFavorableMove(t *testing.T) {
	tr := &types.Trade{
		Direction: types.TradeLong, EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98),
	}
	newStop, advanced := trailAdvance(tr, decimal.NewFromInt(110))
	require.True(t, advanced)
	assert.True(t, newStop.GreaterThan(tr.StopLoss))
}

func TestTrailAdvanceLowersShortStopOnFavorableMove(t *testing.T) {
	tr := &types.Trade{
		Direction: types.TradeShort, EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(102),
	}
	newStop, advanced := trailAdvance(tr, decimal.NewFromInt(90))
	require.True(t, advanced)
	assert.True(t, newStop.LessThan(tr.StopLoss))
}

func TestTrailAdvanceNeverWorsensStop(t *testing.T) {
	tr := &types.Trade{
		Direction: types.TradeLong, EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(109),
	}
	_, advanced := trailAdvance(tr, decimal.NewFromInt(110))
	assert.False(t, advanced, "a candidate stop no better than the current one must not advance")
}

func TestAdvanceTrailingStopsSkipsTradesWithoutTrailingStop(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	subID, strategyID := uuid.NewString(), uuid.NewString()
	plain := &types.Trade{
		ID: uuid.NewString(), StrategyID: strategyID, SubaccountID: subID, Symbol: "BTC-USD",
		Direction: types.TradeLong, EntryTime: time.Now().UTC(), EntryPrice: decimal.NewFromInt(100),
		Size: decimal.NewFromInt(10), Leverage: decimal.NewFromInt(1), StopLoss: decimal.NewFromInt(98),
		TakeProfit: decimal.NewFromInt(110), TrailingStop: false,
	}
	trailing := &types.Trade{
		ID: uuid.NewString(), StrategyID: strategyID, SubaccountID: subID, Symbol: "ETH-USD",
		Direction: types.TradeLong, EntryTime: time.Now().UTC(), EntryPrice: decimal.NewFromInt(100),
		Size: decimal.NewFromInt(10), Leverage: decimal.NewFromInt(1), StopLoss: decimal.NewFromInt(98),
		TakeProfit: decimal.NewFromInt(110), TrailingStop: true,
	}
	require.NoError(t, st.Trades.Open(context.Background(), plain))
	require.NoError(t, st.Trades.Open(context.Background(), trailing))

	e := New(config.ExecutorConfig{TickInterval: time.Second}, st, events.NewTracker(st.Events, zap.NewNop()),
		strategy.NewRegistry(), venue.NewSimulatedStream(time.Millisecond), venue.NewSimulatedOrderClient(true), zap.NewNop())
	e.prices.set("BTC-USD", decimal.NewFromInt(110))
	e.prices.set("ETH-USD", decimal.NewFromInt(110))

	e.advanceTrailingStops(context.Background())

	gotPlain, err := st.Trades.OpenForStrategySymbol(context.Background(), strategyID, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, gotPlain.StopLoss.Equal(decimal.NewFromInt(98)), "a non-trailing stop must never be advanced")

	gotTrailing, err := st.Trades.OpenForStrategySymbol(context.Background(), strategyID, "ETH-USD")
	require.NoError(t, err)
	assert.True(t, gotTrailing.StopLoss.GreaterThan(decimal.NewFromInt(98)), "a trailing stop must advance on a favorable move")
}

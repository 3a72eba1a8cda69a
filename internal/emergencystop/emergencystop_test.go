package emergencystop_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cfg() config.EmergencyConfig {
	return config.EmergencyConfig{
		EvalInterval:       time.Hour, // long enough the test's manual Evaluate calls aren't throttled away
		DrawdownPct:        0.5,
		DailyLossAbs:       0,
		DailyLossPct:       0,
		ConsecutiveLosses:  3,
		CooldownSubaccount: time.Minute,
		CooldownStrategy:   time.Minute,
		CooldownGlobal:     time.Minute,
	}
}

func insertSubaccount(t *testing.T, st *store.Store, id, strategyID string, allocated, current, peak, dailyPnL float64) {
	t.Helper()
	_, err := st.DB.ExecContext(context.Background(), `
		INSERT INTO subaccounts (id, status, strategy_id, allocated_capital, current_balance, peak_balance, daily_pnl, peak_balance_at, daily_pnl_reset_date)
		VALUES (?, 'ACTIVE', ?, ?, ?, ?, ?, ?, ?)`,
		id, strategyID, allocated, current, peak, dailyPnL, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)
}

func TestEvaluateTriggersOnSubaccountDrawdownBreach(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	strategyID := uuid.NewString()
	subID := uuid.NewString()
	insertSubaccount(t, st, subID, strategyID, 1000, 400, 1000, 0)

	m := emergencystop.New(cfg(), st, tracker, zap.NewNop())
	require.NoError(t, m.Evaluate(context.Background()))

	state, err := st.EmergencyStop.Get(context.Background(), types.ScopeSubaccount, subID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.IsStopped)
	require.Equal(t, "drawdown_breach", state.Reason)
}

func TestEvaluateTriggersOnConsecutiveLosses(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	strategyID := uuid.NewString()
	subID := uuid.NewString()
	insertSubaccount(t, st, subID, strategyID, 1000, 1000, 1000, 0)

	for i := 0; i < 3; i++ {
		tr := &types.Trade{
			ID: uuid.NewString(), StrategyID: strategyID, SubaccountID: subID, Symbol: "BTC-USD",
			Direction: types.TradeLong, EntryTime: time.Now().UTC(),
			EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(1),
			StopLoss: decimal.NewFromInt(90), TakeProfit: decimal.NewFromInt(120),
		}
		require.NoError(t, st.Trades.Open(context.Background(), tr))
		require.NoError(t, st.Trades.Close(context.Background(), tr.ID, time.Now().UTC(),
			decimal.NewFromInt(90), types.ExitReasonStopLoss, decimal.NewFromInt(-10), decimal.NewFromFloat(-0.1), decimal.Zero))
	}

	m := emergencystop.New(cfg(), st, tracker, zap.NewNop())
	require.NoError(t, m.Evaluate(context.Background()))

	state, err := st.EmergencyStop.Get(context.Background(), types.ScopeStrategy, strategyID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, "consecutive_losses", state.Reason)
}

func TestAutoResetClearsAfterCooldownElapses(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	state := &types.EmergencyStopState{
		Scope: types.ScopeGlobal, ScopeID: "global", IsStopped: true, Reason: "global_exposure_limit",
		Action: types.ActionPause, StoppedAt: time.Now().UTC().Add(-time.Hour),
		CooldownUntil: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, st.EmergencyStop.Upsert(context.Background(), state))

	m := emergencystop.New(cfg(), st, tracker, zap.NewNop())
	require.NoError(t, m.Evaluate(context.Background()))

	got, err := st.EmergencyStop.Get(context.Background(), types.ScopeGlobal, "global")
	require.NoError(t, err)
	require.Nil(t, got, "expired cooldown with no reset trigger should auto-clear")
}

func TestCanTradeBlockedWhileCooldownActive(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	strategyID := uuid.NewString()
	subID := uuid.NewString()
	state := &types.EmergencyStopState{
		Scope: types.ScopeSubaccount, ScopeID: subID, IsStopped: true, Reason: "drawdown_breach",
		Action: types.ActionClosePositions, StoppedAt: time.Now().UTC(),
		CooldownUntil: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, st.EmergencyStop.Upsert(context.Background(), state))

	ok, err := emergencystop.CanTrade(context.Background(), st.EmergencyStop, subID, strategyID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanTradeAllowedWhenNoStopsRecorded(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ok, err := emergencystop.CanTrade(context.Background(), st.EmergencyStop, uuid.NewString(), uuid.NewString())
	require.NoError(t, err)
	require.True(t, ok)
}

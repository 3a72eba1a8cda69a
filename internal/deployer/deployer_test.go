package deployer_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/deployer"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func selectedStrategy() *types.Strategy {
	return &types.Strategy{
		ID: uuid.NewString(), Name: "selected-" + uuid.NewString()[:8], Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
		Parameters: map[string]float64{"period": 14}, Status: types.StatusSelected,
		Symbols: []string{"BTC-USD"},
	}
}

func insertFreeSubaccount(t *testing.T, st *store.Store, id string) {
	t.Helper()
	_, err := st.DB.ExecContext(context.Background(), `
		INSERT INTO subaccounts (id, status, allocated_capital, current_balance, peak_balance, peak_balance_at, daily_pnl_reset_date)
		VALUES (?, 'ACTIVE', '1000', '1000', '1000', ?, ?)`,
		id, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)
}

func TestRunOnceBindsFreeSubaccountAndGoesLive(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := selectedStrategy()
	require.NoError(t, st.Strategies.Insert(context.Background(), s))
	insertFreeSubaccount(t, st, uuid.NewString())

	d := deployer.New(config.DeployerConfig{PollInterval: time.Second}, st, tracker, zap.NewNop())
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusLive, got.Status)

	sub, err := st.Subaccounts.ByStrategy(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
}

func TestRunOnceLeavesStrategySelectedWhenNoFreeSubaccount(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := selectedStrategy()
	require.NoError(t, st.Strategies.Insert(context.Background(), s))

	d := deployer.New(config.DeployerConfig{PollInterval: time.Second}, st, tracker, zap.NewNop())
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusSelected, got.Status)
}

func TestRunOnceBlocksDeployWhenGlobalEmergencyStopActive(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := selectedStrategy()
	require.NoError(t, st.Strategies.Insert(context.Background(), s))
	insertFreeSubaccount(t, st, uuid.NewString())

	require.NoError(t, st.EmergencyStop.Upsert(context.Background(), &types.EmergencyStopState{
		Scope: types.ScopeGlobal, ScopeID: "global", IsStopped: true, Reason: "global_exposure_limit",
		Action: types.ActionPause, StoppedAt: time.Now().UTC(), CooldownUntil: time.Now().UTC().Add(time.Hour),
	}))

	d := deployer.New(config.DeployerConfig{PollInterval: time.Second}, st, tracker, zap.NewNop())
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusSelected, got.Status, "a global emergency stop must block the deploy entirely")

	sub, err := st.Subaccounts.ByStrategy(context.Background(), s.ID)
	require.NoError(t, err)
	require.Nil(t, sub, "the subaccount must remain unbound while the gate is closed")
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	d := deployer.New(config.DeployerConfig{PollInterval: 10 * time.Millisecond}, st, tracker, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Run(ctx), context.DeadlineExceeded)
}

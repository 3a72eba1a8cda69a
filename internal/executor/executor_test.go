package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/executor"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy/builtin"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execCfg() config.ExecutorConfig {
	return config.ExecutorConfig{
		TickInterval:         10 * time.Millisecond,
		BootstrapInterval:    time.Hour,
		MaxOpenPerSubaccount: 3,
		RiskPerTrade:         0.1,
		MinNotional:          1,
		MaxCoinLeverage:      5,
		CandleBootstrapBars:  50,
		DryRun:               true,
	}
}

func TestRunBootstrapsTicksAndStopsOnCancellation(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tracker := events.NewTracker(st.Events, zap.NewNop())
	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)

	tpl := "momentum_rsi"
	s := &types.Strategy{
		ID: uuid.NewString(), Name: "live-exec", Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
		TemplateID: &tpl, Parameters: map[string]float64{"period": 14}, Status: types.StatusLive,
		Symbols: []string{"BTC-USD"},
	}
	require.NoError(t, st.Strategies.Insert(context.Background(), s))

	_, err = st.DB.ExecContext(context.Background(), `
		INSERT INTO subaccounts (id, status, strategy_id, allocated_capital, current_balance, peak_balance, peak_balance_at, daily_pnl_reset_date)
		VALUES (?, 'ACTIVE', ?, '1000', '1000', '1000', ?, ?)`,
		uuid.NewString(), s.ID, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	stream := venue.NewSimulatedStream(time.Millisecond)
	orders := venue.NewSimulatedOrderClient(true)
	ex := executor.New(execCfg(), st, tracker, reg, stream, orders, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, ex.Run(ctx), context.DeadlineExceeded)
}

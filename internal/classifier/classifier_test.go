package classifier_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/classifier"
	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseCfg() config.ClassifierConfig {
	return config.ClassifierConfig{
		PoolCapacity:          10,
		MaxPerCategory:        10,
		MaxPerInterval:        10,
		RetirementScoreFloor:  0,
		RetirementConsecutive: 1,
		RetirementDrawdownPct: 0.5,
		InactivityBound:       24 * time.Hour,
		ArchiveScoreFloor:     0,
		ArchiveMinAge:         time.Hour,
	}
}

func insertSubaccount(t *testing.T, st *store.Store, id, strategyID string, allocated, current, peak float64) {
	t.Helper()
	_, err := st.DB.ExecContext(context.Background(), `
		INSERT INTO subaccounts (id, status, strategy_id, allocated_capital, current_balance, peak_balance, peak_balance_at, daily_pnl_reset_date)
		VALUES (?, 'ACTIVE', ?, ?, ?, ?, ?, ?)`,
		id, strategyID, allocated, current, peak, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)
}

func liveStrategy(name string) *types.Strategy {
	return &types.Strategy{
		ID: uuid.NewString(), Name: name, Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
		Parameters: map[string]float64{"period": 14}, Status: types.StatusLive,
		Symbols: []string{"BTC-USD"},
	}
}

func TestRunCycleRetiresLiveStrategyOnDrawdownBreach(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := liveStrategy("live-drawdown")
	require.NoError(t, st.Strategies.Insert(context.Background(), s))
	insertSubaccount(t, st, uuid.NewString(), s.ID, 1000, 400, 1000) // 60% drawdown

	c := classifier.New(baseCfg(), config.ScoreWeights{Expectancy: 1}, st, tracker, zap.NewNop())
	require.NoError(t, c.RunCycle(context.Background()))

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRetired, got.Status)
}

func TestRunCycleRequiresConsecutiveScoreBreachesBeforeRetiring(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := liveStrategy("live-score-floor")
	s.LiveAt = timePtr(time.Now().UTC())
	require.NoError(t, st.Strategies.Insert(context.Background(), s))
	insertSubaccount(t, st, uuid.NewString(), s.ID, 1000, 1000, 1000)

	cfg := baseCfg()
	cfg.RetirementConsecutive = 2
	cfg.RetirementScoreFloor = 1000 // unreachable score forces score_below_threshold every cycle
	c := classifier.New(cfg, config.ScoreWeights{Expectancy: 1}, st, tracker, zap.NewNop())

	require.NoError(t, c.RunCycle(context.Background()))
	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusLive, got.Status, "first breach should only increment the counter")

	require.NoError(t, c.RunCycle(context.Background()))
	got, err = st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRetired, got.Status, "second consecutive breach should retire")
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRunCyclePromotesTestedIntoSelectedWithinCategoryCap(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	strategies := make([]*types.Strategy, 3)
	for i := range strategies {
		s := &types.Strategy{
			ID: uuid.NewString(), Name: "tested-" + uuid.NewString()[:8], Category: types.CategoryMomentum,
			BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
			Parameters: map[string]float64{"period": 14}, Status: types.StatusTested,
			Symbols: []string{"BTC-USD"},
		}
		require.NoError(t, st.Strategies.Insert(context.Background(), s))
		full := &types.BacktestResult{
			ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodFull,
			Interval: types.Interval1h, IsOptimalInterval: true, Symbols: []string{"BTC-USD"},
			Score: float64(10 - i),
		}
		recent := &types.BacktestResult{
			ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodRecent,
			Interval: types.Interval1h, IsOptimalInterval: true, Symbols: []string{"BTC-USD"},
			Score: float64(10 - i),
		}
		require.NoError(t, st.Backtests.InsertPair(context.Background(), full, recent))
		strategies[i] = s
	}

	cfg := baseCfg()
	cfg.PoolCapacity = 2
	cfg.MaxPerCategory = 2
	c := classifier.New(cfg, config.ScoreWeights{Expectancy: 1}, st, tracker, zap.NewNop())
	require.NoError(t, c.RunCycle(context.Background()))

	promoted := 0
	for _, s := range strategies {
		got, err := st.Strategies.Get(context.Background(), s.ID)
		require.NoError(t, err)
		if got.Status == types.StatusSelected {
			promoted++
		}
	}
	require.Equal(t, 2, promoted, "pool capacity of 2 should promote exactly the top two scores")
}

func TestRunCycleArchivesStaleTestedBelowFloor(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	s := &types.Strategy{
		ID: uuid.NewString(), Name: "stale-loser", Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
		Parameters: map[string]float64{"period": 14}, Status: types.StatusTested,
		Symbols: []string{"BTC-USD"}, CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, st.Strategies.Insert(context.Background(), s))
	// backdate CreatedAt again since Insert may stamp it.
	_, err = st.DB.ExecContext(context.Background(), `UPDATE strategies SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-48*time.Hour), s.ID)
	require.NoError(t, err)

	full := &types.BacktestResult{
		ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodFull,
		Interval: types.Interval1h, IsOptimalInterval: true, Symbols: []string{"BTC-USD"},
		Score: -5,
	}
	recent := &types.BacktestResult{
		ID: uuid.NewString(), StrategyID: s.ID, PeriodType: types.PeriodRecent,
		Interval: types.Interval1h, IsOptimalInterval: true, Symbols: []string{"BTC-USD"},
		Score: -5,
	}
	require.NoError(t, st.Backtests.InsertPair(context.Background(), full, recent))

	cfg := baseCfg()
	cfg.ArchiveScoreFloor = 0
	cfg.ArchiveMinAge = time.Hour
	// no open pool slots, so promotion leaves the row TESTED for archiving.
	cfg.PoolCapacity = 0
	c := classifier.New(cfg, config.ScoreWeights{Expectancy: 1}, st, tracker, zap.NewNop())
	require.NoError(t, c.RunCycle(context.Background()))

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRetired, got.Status)
}

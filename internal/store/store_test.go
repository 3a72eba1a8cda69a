package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newStrategy() *types.Strategy {
	return &types.Strategy{
		ID:           uuid.NewString(),
		Name:         "test-" + uuid.NewString()[:8],
		Category:     types.CategoryMomentum,
		BarInterval:  types.Interval1h,
		SourceText:   "body",
		Parameters:   map[string]float64{"period": 14},
		BaseCodeHash: "hash",
		Status:       types.StatusGenerated,
		Symbols:      []string{"BTC-USD"},
	}
}

func TestStrategyInsertAndClaimNext(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	s := newStrategy()
	require.NoError(t, st.Strategies.Insert(ctx, s))

	claimed, err := st.Strategies.ClaimNext(ctx, types.StatusGenerated, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, s.ID, claimed.ID)
	require.NotNil(t, claimed.ProcessingBy)
	require.Equal(t, "worker-1", *claimed.ProcessingBy)

	_, err = st.Strategies.ClaimNext(ctx, types.StatusGenerated, "worker-2", time.Minute)
	require.ErrorIs(t, err, store.ErrNoWork, "a fresh lease should not be claimable by another worker")
}

func TestStrategyClaimExpiredLeaseIsReclaimable(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	s := newStrategy()
	require.NoError(t, st.Strategies.Insert(ctx, s))

	_, err := st.Strategies.ClaimNext(ctx, types.StatusGenerated, "worker-1", -time.Second)
	require.NoError(t, err)

	claimed, err := st.Strategies.ClaimNext(ctx, types.StatusGenerated, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "worker-2", *claimed.ProcessingBy)
}

func TestStrategyAdvanceAndQueueDepth(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	s := newStrategy()
	require.NoError(t, st.Strategies.Insert(ctx, s))

	depth, err := st.Strategies.QueueDepth(ctx, types.StatusGenerated)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	require.NoError(t, st.Strategies.Advance(ctx, s.ID, types.StatusValidated))

	depth, err = st.Strategies.QueueDepth(ctx, types.StatusGenerated)
	require.NoError(t, err)
	require.Equal(t, 0, depth)

	depth, err = st.Strategies.QueueDepth(ctx, types.StatusValidated)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestStrategyExistsByName(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	s := newStrategy()
	require.NoError(t, st.Strategies.Insert(ctx, s))

	exists, err := st.Strategies.ExistsByName(ctx, s.Name)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = st.Strategies.ExistsByName(ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestScheduledTaskStartAndFinish(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	exec := &types.ScheduledTaskExecution{ID: uuid.NewString(), TaskName: "symbol_universe_refresh", StartedAt: time.Now().UTC()}
	require.NoError(t, st.ScheduledTask.Start(ctx, exec))
	require.NoError(t, st.ScheduledTask.Finish(ctx, exec.ID, true, ""))
}

func TestPairsUpdateLogInsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	err := st.PairsLog.Insert(ctx, &types.PairsUpdateLog{
		ID: uuid.NewString(), RunAt: time.Now().UTC(),
		Added: []string{"SOL-USD"}, Removed: []string{"DOGE-USD"}, Succeeded: true,
	})
	require.NoError(t, err)
}

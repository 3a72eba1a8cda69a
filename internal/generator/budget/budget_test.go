package budget_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/generator/budget"
	"github.com/stretchr/testify/require"
)

func TestTryConsumeRespectsCapAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")
	tr, err := budget.NewTracker(path, 2)
	require.NoError(t, err)

	ok, err := tr.TryConsume()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, tr.Remaining())

	ok, err = tr.TryConsume()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, tr.Remaining())

	ok, err = tr.TryConsume()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrackerReloadsPersistedCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")
	tr, err := budget.NewTracker(path, 5)
	require.NoError(t, err)
	_, err = tr.TryConsume()
	require.NoError(t, err)
	_, err = tr.TryConsume()
	require.NoError(t, err)

	reloaded, err := budget.NewTracker(path, 5)
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.Remaining())
}

func TestNextMidnightIsFutureLocalMidnight(t *testing.T) {
	next := budget.NextMidnight()
	require.True(t, next.After(time.Now()))
	require.Equal(t, 0, next.Hour())
	require.Equal(t, 0, next.Minute())
	require.Equal(t, 0, next.Second())
}

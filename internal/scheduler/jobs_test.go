package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/classifier"
	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/coinregistry"
	"github.com/atlas-quant/strategy-pipeline/internal/scheduler"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifierJobRunsACycle(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	c := classifier.New(config.ClassifierConfig{PoolCapacity: 10, MaxPerCategory: 10, MaxPerInterval: 10},
		config.ScoreWeights{Expectancy: 1}, st, tracker, zap.NewNop())
	job := scheduler.ClassifierJob{Classifier: c}

	assert.Equal(t, "classifier_cycle", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestEmergencyStopJobEvaluatesOnce(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tracker := events.NewTracker(st.Events, zap.NewNop())

	m := emergencystop.New(config.EmergencyConfig{EvalInterval: time.Hour, ConsecutiveLosses: 3}, st, tracker, zap.NewNop())
	job := scheduler.EmergencyStopJob{Manager: m}

	assert.Equal(t, "emergency_stop_evaluate", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestSymbolUniverseJobLogsDiffAndSucceeds(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	source := venue.NewSimulatedVolumeSource([]string{"BTC-USD", "ETH-USD", "SOL-USD"})
	reg := coinregistry.New(source, time.Minute, 2)
	job := scheduler.SymbolUniverseJob{Registry: reg, Log: st.PairsLog}

	assert.Equal(t, "symbol_universe_refresh", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestRegimeRefreshJobWarmsCache(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	source := venue.NewSimulatedVolumeSource([]string{"BTC-USD", "ETH-USD"})
	reg := coinregistry.New(source, time.Minute, 2)
	job := scheduler.RegimeRefreshJob{Registry: reg}

	assert.Equal(t, "regime_refresh", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestCoverageRefreshJobChecksLiveSymbols(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stream := venue.NewSimulatedStream(time.Millisecond)
	job := scheduler.CoverageRefreshJob{
		Strategies: st.Strategies, Stream: stream, MaxStale: time.Hour, Logger: zap.NewNop(),
	}

	assert.Equal(t, "data_coverage_refresh", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

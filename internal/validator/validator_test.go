package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy/builtin"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/validator"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStaticCheckRejectsLookAheadIdioms(t *testing.T) {
	tests := []struct {
		name   string
		source string
		wantOK bool
	}{
		{"clean source passes", "close.rolling(14).mean()", true},
		{"centred rolling window rejected", "close.rolling(14, center=True).mean()", false},
		{"negative shift rejected", "close.shift(-1)", false},
		{"forward iloc offset rejected", "df.iloc[i + 1]", false},
		{"forward slice rejected", "close[i + 1:]", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.StaticCheck(tt.source)
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDynamicCompileMissingTemplateID(t *testing.T) {
	reg := strategy.NewRegistry()
	_, err := validator.DynamicCompile(reg, &types.Strategy{})
	require.Error(t, err)
}

func TestDynamicCompileUnknownTemplate(t *testing.T) {
	reg := strategy.NewRegistry()
	tpl := "nonexistent"
	_, err := validator.DynamicCompile(reg, &types.Strategy{TemplateID: &tpl})
	require.Error(t, err)
}

func TestDynamicCompileInstantiatesRegisteredTemplate(t *testing.T) {
	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)
	tpl := "momentum_rsi"
	strat, err := validator.DynamicCompile(reg, &types.Strategy{TemplateID: &tpl, Parameters: map[string]float64{"period": 14}})
	require.NoError(t, err)
	assert.Equal(t, "momentum_rsi", strat.Name())
}

func TestSyntheticSeriesIsDeterministic(t *testing.T) {
	a := validator.SyntheticSeries(200, 7)
	b := validator.SyntheticSeries(200, 7)
	require.Equal(t, a.Len(), b.Len())
	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, a.Close[i], b.Close[i])
	}
}

func TestShuffledPreservesLengthAndMultiset(t *testing.T) {
	series := validator.SyntheticSeries(100, 1)
	shuffled := validator.Shuffled(series, 2)
	require.Equal(t, series.Len(), shuffled.Len())

	var sum, shuffledSum float64
	for i := 0; i < series.Len(); i++ {
		sum += series.Close[i]
		shuffledSum += shuffled.Close[i]
	}
	assert.InDelta(t, sum, shuffledSum, 1e-6)
}

func TestValidatorProcessesGeneratedStrategyOutOfGenerated(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)
	tracker := events.NewTracker(st.Events, zap.NewNop())

	cfg := config.ValidatorConfig{
		ClaimTTL:              time.Minute,
		Backpressure:          config.Backpressure{SoftLimit: 1000},
		StabilityProbeEnabled: false,
	}
	v := validator.New(cfg, st, tracker, reg, "test-worker", zap.NewNop())

	tpl := "momentum_rsi"
	s := &types.Strategy{
		ID: uuid.NewString(), Name: "momentum-test", Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "close.rolling(14).mean()",
		TemplateID: &tpl, Parameters: map[string]float64{"period": 14}, BaseCodeHash: "hash",
		Status: types.StatusGenerated, Symbols: []string{"BTC-USD"},
	}
	require.NoError(t, st.Strategies.Insert(context.Background(), s))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_ = v.Run(ctx)

	got, err := st.Strategies.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, []types.Status{types.StatusValidated, types.StatusFailed}, got.Status,
		"run loop must have claimed and advanced the row out of GENERATED")
}

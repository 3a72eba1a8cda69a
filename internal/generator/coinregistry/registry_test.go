package coinregistry_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/generator/coinregistry"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/regime"
	"github.com/stretchr/testify/require"
)

type fakeVolumeSource struct {
	volumes map[string]float64
	closes  map[string][]float64
	calls   int
}

func (f *fakeVolumeSource) Top24hVolume(ctx context.Context) (map[string]float64, error) {
	f.calls++
	return f.volumes, nil
}

func (f *fakeVolumeSource) RecentCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	return f.closes[symbol], nil
}

func TestTopSymbolsRanksByVolumeAndCaches(t *testing.T) {
	src := &fakeVolumeSource{volumes: map[string]float64{
		"BTC": 100, "ETH": 300, "SOL": 200,
	}}
	reg := coinregistry.New(src, time.Hour, 2)

	symbols, err := reg.TopSymbols(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"ETH", "SOL"}, symbols)
	require.Equal(t, 1, src.calls)

	_, err = reg.TopSymbols(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.calls, "second call within ttl should not refetch")
}

func TestForceRefreshBypassesTTL(t *testing.T) {
	src := &fakeVolumeSource{volumes: map[string]float64{"BTC": 1, "ETH": 2}}
	reg := coinregistry.New(src, time.Hour, 2)

	_, err := reg.TopSymbols(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	reg.ForceRefresh()
	_, err = reg.TopSymbols(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestNextDirectionRotatesPerSourcePrefix(t *testing.T) {
	reg := coinregistry.New(&fakeVolumeSource{}, time.Hour, 10)

	got := []string{}
	for i := 0; i < 3; i++ {
		got = append(got, string(reg.NextDirection("parametric:momentum_rsi")))
	}
	require.Equal(t, []string{"long", "short", "bidi"}, got)

	// a different source prefix has its own independent cursor.
	require.Equal(t, "long", string(reg.NextDirection("direct_synthesis")))
}

func TestConditionByRegimeFallsBackWhenNoMatch(t *testing.T) {
	src := &fakeVolumeSource{closes: map[string][]float64{
		"BTC": {100, 100, 100, 100},
		"ETH": {100, 100, 100, 100},
	}}
	reg := coinregistry.New(src, time.Hour, 10)

	filtered := reg.ConditionByRegime(context.Background(), []string{"BTC", "ETH"}, regime.Volatile)
	require.ElementsMatch(t, []string{"BTC", "ETH"}, filtered, "falls back to full set when nothing matches volatile")
}

func TestRefreshRegimesWarmsCacheConsultedByConditionByRegime(t *testing.T) {
	src := &fakeVolumeSource{closes: map[string][]float64{
		"BTC": {100, 50, 150, 40, 160, 30},
	}}
	reg := coinregistry.New(src, time.Hour, 10)
	reg.RefreshRegimes(context.Background(), []string{"BTC"})

	filtered := reg.ConditionByRegime(context.Background(), []string{"BTC"}, regime.Volatile)
	require.Equal(t, []string{"BTC"}, filtered)
}

package platform_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.StoreDSN = ":memory:"
	cfg.Generator.BudgetFile = filepath.Join(t.TempDir(), "budget.json")
	return cfg
}

func TestNewWiresEveryRoleSingleton(t *testing.T) {
	cfg := testConfig(t)
	p, err := platform.New(cfg, "test-worker", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	assert.NotNil(t, p.Store)
	assert.NotNil(t, p.Tracker)
	assert.NotNil(t, p.StrategyReg)
	assert.NotNil(t, p.CoinRegistry)
	assert.NotNil(t, p.Budget)
	assert.NotNil(t, p.Metrics)
	assert.NotNil(t, p.Generator)
	assert.NotNil(t, p.Validator)
	assert.NotNil(t, p.Backtester)
	assert.NotNil(t, p.Classifier)
	assert.NotNil(t, p.Deployer)
	assert.NotNil(t, p.Emergency)
	assert.NotNil(t, p.Executor)
	assert.NotNil(t, p.Scheduler)
	assert.NotNil(t, p.Ops)
}

func TestRegisterScheduledJobsAddsEveryJobWithoutError(t *testing.T) {
	cfg := testConfig(t)
	p, err := platform.New(cfg, "test-worker", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.RegisterScheduledJobs(context.Background()))
}

func TestCloseReturnsNoError(t *testing.T) {
	cfg := testConfig(t)
	p, err := platform.New(cfg, "test-worker", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

// Package platform wires every role singleton into one process object,
// adapted from the teacher's internal/orchestrator.TradingOrchestrator but
// reduced to this pipeline's actual component set: no HMM regime detector,
// Kelly sizer, Monte Carlo simulator, or walk-forward optimizer survives
// here, since none of the pipeline's seven roles needs them.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/backtester"
	"github.com/atlas-quant/strategy-pipeline/internal/classifier"
	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/deployer"
	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/executor"
	"github.com/atlas-quant/strategy-pipeline/internal/generator"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/budget"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/coinregistry"
	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/opsserver"
	"github.com/atlas-quant/strategy-pipeline/internal/scheduler"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy/builtin"
	"github.com/atlas-quant/strategy-pipeline/internal/validator"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"go.uber.org/zap"
)

// coinRegistryTTL bounds how long the symbol-universe cache is trusted
// between refreshes; the scheduled SymbolUniverseJob forces an early
// refresh independent of this value.
const coinRegistryTTL = 5 * time.Minute

// coverageMaxStale is the staleness bound the scheduled data-coverage job
// checks LIVE strategies' market data against.
const coverageMaxStale = 2 * time.Hour

// defaultSimulatedUniverse seeds the simulated volume source when no live
// venue integration is configured, standing in for the exchange's tradable
// perpetuals list.
var defaultSimulatedUniverse = []string{
	"BTC-USD", "ETH-USD", "SOL-USD", "AVAX-USD", "LINK-USD",
	"ARB-USD", "OP-USD", "DOGE-USD", "MATIC-USD", "ATOM-USD",
}

// Platform holds every wired singleton and the set of roles this process
// runs; cmd/pipeline selects a subset at startup from its subcommand.
type Platform struct {
	Config *config.Config
	Logger *zap.Logger

	Store        *store.Store
	Tracker      *events.Tracker
	StrategyReg  *strategy.Registry
	CoinRegistry *coinregistry.Registry
	Budget       *budget.Tracker
	Metrics      *metrics.Registry

	Stream venue.MarketDataStream
	Orders venue.OrderClient

	Generator  *generator.Generator
	Validator  *validator.Validator
	Backtester *backtester.Backtester
	Classifier *classifier.Classifier
	Deployer   *deployer.Deployer
	Emergency  *emergencystop.Manager
	Executor   *executor.Executor

	Scheduler *scheduler.Scheduler
	Ops       *opsserver.Server
}

// New wires every singleton from cfg. workerID identifies this process in
// claim/lease columns shared across Validator and Backtester workers.
func New(cfg *config.Config, workerID string, logger *zap.Logger) (*Platform, error) {
	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("platform: open store: %w", err)
	}

	tracker := events.NewTracker(st.Events, logger)
	reg := strategy.NewRegistry()
	builtin.RegisterAll(reg)

	budgetTracker, err := budget.NewTracker(cfg.Generator.BudgetFile, cfg.Generator.DailyBudget)
	if err != nil {
		return nil, fmt.Errorf("platform: open budget tracker: %w", err)
	}

	volumeSource := venue.NewSimulatedVolumeSource(defaultSimulatedUniverse)
	coinReg := coinregistry.New(volumeSource, coinRegistryTTL, cfg.Generator.TopNSymbols)

	metricsReg := metrics.New()

	stream := venue.NewSimulatedStream(time.Second)
	orders := venue.NewSimulatedOrderClient(cfg.Executor.DryRun)

	gen := generator.New(cfg.Generator, st, tracker, coinReg, budgetTracker, generator.NoopSynthesizer{}, generator.DefaultTemplates(), logger)
	val := validator.New(cfg.Validator, st, tracker, reg, workerID, logger)
	history := backtester.StreamHistorySource{Stream: stream, Bars: cfg.Backtester.RecentWindowBars}
	bt := backtester.New(cfg.Backtester, cfg.ScoreWeights, st, tracker, reg, history, workerID, logger)
	cls := classifier.New(cfg.Classifier, cfg.ScoreWeights, st, tracker, logger).WithMetrics(metricsReg)
	dep := deployer.New(cfg.Deployer, st, tracker, logger).WithMetrics(metricsReg)
	emg := emergencystop.New(cfg.Emergency, st, tracker, logger).WithMetrics(metricsReg)
	exec := executor.New(cfg.Executor, st, tracker, reg, stream, orders, logger).WithMetrics(metricsReg)

	sched := scheduler.New(st.ScheduledTask, logger)
	ops := opsserver.New(opsserver.Config{Host: "0.0.0.0", Port: opsPort(cfg.OpsAddr)}, st, metricsReg, logger)

	return &Platform{
		Config: cfg, Logger: logger,
		Store: st, Tracker: tracker, StrategyReg: reg, CoinRegistry: coinReg, Budget: budgetTracker, Metrics: metricsReg,
		Stream: stream, Orders: orders,
		Generator: gen, Validator: val, Backtester: bt, Classifier: cls, Deployer: dep, Emergency: emg, Executor: exec,
		Scheduler: sched, Ops: ops,
	}, nil
}

// RegisterScheduledJobs wires the three periodic jobs named in spec §12
// onto p.Scheduler, plus the Classifier and EmergencyStopManager cycles
// that also run on their own cron schedule rather than a tight loop.
func (p *Platform) RegisterScheduledJobs(ctx context.Context) error {
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{p.Config.Classifier.Cron, scheduler.ClassifierJob{Classifier: p.Classifier}},
		{everyDuration(p.Config.Emergency.EvalInterval), scheduler.EmergencyStopJob{Manager: p.Emergency}},
		{"@every 5m", scheduler.SymbolUniverseJob{Registry: p.CoinRegistry, Log: p.Store.PairsLog}},
		{"@every 15m", scheduler.RegimeRefreshJob{Registry: p.CoinRegistry}},
		{"@every 10m", scheduler.CoverageRefreshJob{
			Strategies: p.Store.Strategies, Stream: p.Stream, MaxStale: coverageMaxStale, Logger: p.Logger,
		}},
	}
	for _, j := range jobs {
		if err := p.Scheduler.AddJob(ctx, j.schedule, j.job); err != nil {
			return fmt.Errorf("platform: register job %s: %w", j.job.Name(), err)
		}
	}
	return nil
}

// Close releases every resource Platform opened.
func (p *Platform) Close() error {
	return p.Store.Close()
}

func everyDuration(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	return fmt.Sprintf("@every %s", d.String())
}

func opsPort(addr string) int {
	port := 9090
	fmt.Sscanf(addr, ":%d", &port)
	return port
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/classifier"
	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/coinregistry"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClassifierJob runs one Classifier cycle (rescoring, retirement, promotion,
// archival).
type ClassifierJob struct {
	Classifier *classifier.Classifier
}

func (j ClassifierJob) Name() string { return "classifier_cycle" }

func (j ClassifierJob) Run(ctx context.Context) error {
	return j.Classifier.RunCycle(ctx)
}

// EmergencyStopJob runs one EmergencyStopManager evaluation pass.
type EmergencyStopJob struct {
	Manager *emergencystop.Manager
}

func (j EmergencyStopJob) Name() string { return "emergency_stop_evaluate" }

func (j EmergencyStopJob) Run(ctx context.Context) error {
	return j.Manager.Evaluate(ctx)
}

// SymbolUniverseJob forces the coin registry to refresh its top-N universe
// by volume and records the before/after diff, grounded on the original's
// src/generator/main_continuous.py periodic pairs refresh.
type SymbolUniverseJob struct {
	Registry *coinregistry.Registry
	Log      *store.PairsUpdateLogRepo
}

func (j SymbolUniverseJob) Name() string { return "symbol_universe_refresh" }

func (j SymbolUniverseJob) Run(ctx context.Context) error {
	before, _ := j.Registry.TopSymbols(ctx)
	j.Registry.ForceRefresh()
	after, err := j.Registry.TopSymbols(ctx)
	if err != nil {
		return fmt.Errorf("symbol universe refresh: %w", err)
	}

	beforeSet := make(map[string]bool, len(before))
	for _, s := range before {
		beforeSet[s] = true
	}
	afterSet := make(map[string]bool, len(after))
	var added, removed []string
	for _, s := range after {
		afterSet[s] = true
		if !beforeSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !afterSet[s] {
			removed = append(removed, s)
		}
	}

	return j.Log.Insert(ctx, &types.PairsUpdateLog{
		ID: uuid.NewString(), RunAt: time.Now().UTC(),
		Added: added, Removed: removed, Succeeded: true,
	})
}

// RegimeRefreshJob re-classifies the market regime for the current symbol
// universe, keeping the coin registry's regime-conditioned selection warm
// between Generator runs (spec §4.2's regime-conditioned symbol selection).
type RegimeRefreshJob struct {
	Registry *coinregistry.Registry
}

func (j RegimeRefreshJob) Name() string { return "regime_refresh" }

func (j RegimeRefreshJob) Run(ctx context.Context) error {
	symbols, err := j.Registry.TopSymbols(ctx)
	if err != nil {
		return fmt.Errorf("regime refresh: list symbols: %w", err)
	}
	j.Registry.RefreshRegimes(ctx, symbols)
	return nil
}

// CoverageRefreshJob checks that every symbol/interval pair in use by a
// LIVE strategy has fresh history available from the market-data stream,
// logging any symbol whose most recent bar has gone stale.
type CoverageRefreshJob struct {
	Strategies *store.StrategyRepo
	Stream     venue.MarketDataStream
	MaxStale   time.Duration
	Logger     *zap.Logger
}

func (j CoverageRefreshJob) Name() string { return "data_coverage_refresh" }

func (j CoverageRefreshJob) Run(ctx context.Context) error {
	live, err := j.Strategies.ListByStatus(ctx, types.StatusLive)
	if err != nil {
		return fmt.Errorf("data coverage refresh: %w", err)
	}
	checked := map[string]bool{}
	for _, s := range live {
		interval := s.BarInterval
		if s.OptimalBarInterval != nil {
			interval = *s.OptimalBarInterval
		}
		for _, sym := range s.Symbols {
			key := sym + "|" + string(interval)
			if checked[key] {
				continue
			}
			checked[key] = true
			series, err := j.Stream.History(ctx, sym, interval, 1)
			if err != nil || series.Len() == 0 {
				j.Logger.Warn("coverage check: no history available", zap.String("symbol", sym), zap.String("interval", string(interval)))
				continue
			}
			last := series.Time[series.Len()-1]
			if age := time.Since(last); age > j.MaxStale {
				j.Logger.Warn("coverage check: stale history",
					zap.String("symbol", sym), zap.String("interval", string(interval)), zap.Duration("age", age))
			}
		}
	}
	return nil
}

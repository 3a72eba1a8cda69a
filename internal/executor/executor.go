// Package executor implements the Executor role: the single process that
// runs every LIVE strategy against a pushed market-data stream, owning all
// writes to Trade rows and Subaccount balance/peak/daily-PnL fields.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"go.uber.org/zap"
)

// Executor drives the single live-trading process.
type Executor struct {
	cfg      config.ExecutorConfig
	store    *store.Store
	tracker  *events.Tracker
	registry *strategy.Registry
	stream   venue.MarketDataStream
	orders   venue.OrderClient
	logger   *zap.Logger
	metrics  *metrics.Registry

	cache        *candleCache
	indicators   *indicatorCache
	prices       *priceCache
	bootstrapped map[string]bool
	bootstrapMu  sync.Mutex
}

// New builds an Executor.
func New(cfg config.ExecutorConfig, st *store.Store, tracker *events.Tracker, reg *strategy.Registry,
	stream venue.MarketDataStream, orders venue.OrderClient, logger *zap.Logger) *Executor {
	return &Executor{
		cfg: cfg, store: st, tracker: tracker, registry: reg, stream: stream, orders: orders,
		logger:       logger.Named("executor"),
		cache:        newCandleCache(),
		indicators:   newIndicatorCache(),
		prices:       newPriceCache(),
		bootstrapped: make(map[string]bool),
	}
}

// WithMetrics attaches a metrics registry the Executor reports into.
func (e *Executor) WithMetrics(m *metrics.Registry) *Executor {
	e.metrics = m
	return e
}

// Run performs startup reconciliation, bootstraps and subscribes market
// data, then drives the per-tick scan, trailing-stop service, and
// incremental bootstrap loops until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		return fmt.Errorf("executor: startup reconciliation: %w", err)
	}
	if err := e.bootstrapAndSubscribe(ctx); err != nil {
		return fmt.Errorf("executor: bootstrap: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.tickLoop(ctx) }()
	go func() { defer wg.Done(); e.trailingLoop(ctx) }()
	go func() { defer wg.Done(); e.incrementalBootstrapLoop(ctx) }()
	wg.Wait()
	return ctx.Err()
}

// reconcile runs the Executor's startup reconciliation pass (spec §4.7.1):
// syncs allocated/current balance from the venue without overwriting a
// non-zero allocation, and repairs pathological peak-balance state.
func (e *Executor) reconcile(ctx context.Context) error {
	subs, err := e.store.Subaccounts.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		balance, err := e.orders.AccountBalance(ctx, sub.ID)
		if err != nil {
			e.logger.Warn("account balance fetch failed", zap.String("subaccount", sub.ID), zap.Error(err))
			continue
		}
		if sub.AllocatedCapital.IsZero() {
			if err := e.store.Subaccounts.SetAllocatedIfZero(ctx, sub.ID, balance); err != nil {
				e.logger.Warn("set allocated failed", zap.String("subaccount", sub.ID), zap.Error(err))
			}
		}
		if err := e.store.Subaccounts.UpdateBalance(ctx, sub.ID, balance); err != nil {
			e.logger.Warn("update balance failed", zap.String("subaccount", sub.ID), zap.Error(err))
		}
		if repaired, err := e.store.Subaccounts.RepairPeak(ctx, sub); err != nil {
			e.logger.Warn("repair peak failed", zap.String("subaccount", sub.ID), zap.Error(err))
		} else if repaired {
			e.logger.Warn("repaired pathological peak balance", zap.String("subaccount", sub.ID))
		}
	}
	return nil
}

// liveSymbolIntervals returns every (symbol, interval) pair currently in
// use by a LIVE strategy, and every bare symbol for the mids subscription.
func (e *Executor) liveSymbolIntervals(ctx context.Context) ([]symbolInterval, []string, error) {
	strategies, err := e.store.Strategies.ListByStatus(ctx, types.StatusLive)
	if err != nil {
		return nil, nil, err
	}
	seen := map[symbolInterval]bool{}
	var pairs []symbolInterval
	symbolSet := map[string]bool{}
	for _, s := range strategies {
		interval := s.BarInterval
		if s.OptimalBarInterval != nil {
			interval = *s.OptimalBarInterval
		}
		for _, sym := range s.Symbols {
			symbolSet[sym] = true
			key := symbolInterval{symbol: sym, interval: interval}
			if !seen[key] {
				seen[key] = true
				pairs = append(pairs, key)
			}
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	return pairs, symbols, nil
}

type symbolInterval struct {
	symbol   string
	interval types.Interval
}

// bootstrapAndSubscribe bootstraps candle history over HTTP for every
// (symbol, interval) in use, then subscribes the pushed streams (spec
// §4.7.2).
func (e *Executor) bootstrapAndSubscribe(ctx context.Context) error {
	pairs, symbols, err := e.liveSymbolIntervals(ctx)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		if err := e.bootstrapOne(ctx, p.symbol, p.interval); err != nil {
			e.logger.Warn("history bootstrap failed", zap.String("symbol", p.symbol), zap.Error(err))
			continue
		}
		e.subscribeCandles(ctx, p.symbol, p.interval)
	}

	if len(symbols) > 0 {
		mids, err := e.stream.SubscribeMids(ctx, symbols)
		if err != nil {
			return fmt.Errorf("subscribe mids: %w", err)
		}
		go e.drainMids(ctx, mids)
	}
	return nil
}

func (e *Executor) bootstrapOne(ctx context.Context, symbol string, interval types.Interval) error {
	key := bootstrapKey(symbol, interval)
	e.bootstrapMu.Lock()
	if e.bootstrapped[key] {
		e.bootstrapMu.Unlock()
		return nil
	}
	e.bootstrapMu.Unlock()

	series, err := e.stream.History(ctx, symbol, interval, e.cfg.CandleBootstrapBars)
	if err != nil {
		return err
	}
	e.cache.seed(symbol, interval, series)

	e.bootstrapMu.Lock()
	e.bootstrapped[key] = true
	e.bootstrapMu.Unlock()
	return nil
}

func bootstrapKey(symbol string, interval types.Interval) string {
	return symbol + "|" + string(interval)
}

func (e *Executor) subscribeCandles(ctx context.Context, symbol string, interval types.Interval) {
	candles, err := e.stream.SubscribeCandles(ctx, symbol, interval)
	if err != nil {
		e.logger.Warn("subscribe candles failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candles:
				if !ok {
					return
				}
				e.cache.append(symbol, interval, c)
				e.indicators.invalidate(symbol, interval)
			}
		}
	}()
}

func (e *Executor) drainMids(ctx context.Context, mids <-chan venue.Mid) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-mids:
			if !ok {
				return
			}
			e.prices.set(m.Symbol, m.Price)
		}
	}
}

// incrementalBootstrapLoop scans for newly introduced (symbol, interval)
// pairs on a slower cadence and bootstraps/subscribes them (spec §4.7.5).
func (e *Executor) incrementalBootstrapLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BootstrapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.bootstrapAndSubscribe(ctx); err != nil {
				e.logger.Warn("incremental bootstrap failed", zap.Error(err))
			}
		}
	}
}

// Package generator implements the Generator role: produces candidate
// strategies from interchangeable sub-sources and enqueues them in
// GENERATED status, subject to backpressure and the daily synthesis budget.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/budget"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/coinregistry"
	"github.com/atlas-quant/strategy-pipeline/internal/generator/regime"
	"github.com/atlas-quant/strategy-pipeline/internal/queue"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Template describes one registered strategy template available for
// parametric expansion: its stable id, source body (with tunable
// placeholders), category/interval, and the grid of tunable parameters.
type Template struct {
	ID       string
	Body     string
	Category types.Category
	Interval types.Interval
	Grid     ParamGrid
}

// Generator drives the Generator role's main loop.
type Generator struct {
	cfg         config.GeneratorConfig
	store       *store.Store
	tracker     *events.Tracker
	registry    *coinregistry.Registry
	budget      *budget.Tracker
	synthesizer Synthesizer
	logger      *zap.Logger

	templates []Template
	seenHash  map[string]bool
}

// DefaultTemplates returns the parametric-expansion grid for the built-in
// strategy templates registered by internal/strategy/builtin.RegisterAll.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID: "momentum_rsi", Category: types.CategoryMomentum, Interval: types.Interval1h,
			Grid: ParamGrid{
				"period":     {7, 14, 21},
				"oversold":   {20, 25, 30},
				"overbought": {70, 75, 80},
			},
		},
		{
			ID: "mean_reversion_bbands", Category: types.CategoryReversal, Interval: types.Interval15m,
			Grid: ParamGrid{
				"period":     {10, 20, 30},
				"deviations": {1.5, 2, 2.5},
			},
		},
		{
			ID: "breakout_donchian", Category: types.CategoryBreakout, Interval: types.Interval4h,
			Grid: ParamGrid{
				"period": {20, 40, 55},
			},
		},
	}
}

// New builds a Generator. synth may be NoopSynthesizer{} when no external
// model is configured for direct synthesis.
func New(cfg config.GeneratorConfig, st *store.Store, tracker *events.Tracker, coinReg *coinregistry.Registry, budgetTracker *budget.Tracker, synth Synthesizer, templates []Template, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:         cfg,
		store:       st,
		tracker:     tracker,
		registry:    coinReg,
		budget:      budgetTracker,
		synthesizer: synth,
		logger:      logger.Named("generator"),
		templates:   templates,
		seenHash:    make(map[string]bool),
	}
}

// Run drives the Generator's main loop until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		depth, err := g.store.Strategies.QueueDepth(ctx, types.StatusGenerated)
		if err != nil {
			g.logger.Warn("queue depth check failed", zap.Error(err))
		} else if depth >= g.cfg.Backpressure.SoftLimit {
			cooldown := queue.Cooldown(depth, g.cfg.Backpressure)
			g.logger.Info("backpressure cooldown", zap.Int("depth", depth), zap.Duration("cooldown", cooldown))
			if !sleepCtx(ctx, cooldown) {
				return ctx.Err()
			}
			continue
		}

		n, err := g.emitParametricBatch(ctx)
		if err != nil {
			g.logger.Warn("parametric batch emission failed", zap.Error(err))
		}

		if m, err := g.emitDirectSynthesis(ctx); err != nil {
			g.logger.Warn("direct synthesis failed", zap.Error(err))
		} else {
			n += m
		}

		if n == 0 {
			if !sleepCtx(ctx, g.cfg.Backpressure.Base) {
				return ctx.Err()
			}
		}
	}
}

// emitDirectSynthesis calls the external-model sub-source once per loop
// iteration, gated by the daily synthesis budget; when the budget is
// exhausted the worker sleeps until the next local midnight per spec §7.
func (g *Generator) emitDirectSynthesis(ctx context.Context) (int, error) {
	ok, err := g.budget.TryConsume()
	if err != nil {
		return 0, fmt.Errorf("generator: budget consume: %w", err)
	}
	if !ok {
		until := time.Until(budget.NextMidnight())
		g.logger.Info("daily synthesis budget exhausted, sleeping until local midnight", zap.Duration("until", until))
		sleepCtx(ctx, until)
		return 0, nil
	}

	syn, err := g.synthesizer.Synthesize(ctx)
	if err != nil {
		return 0, fmt.Errorf("generator: synthesize: %w", err)
	}
	if syn == nil {
		return 0, nil
	}

	symbols, err := g.registry.TopSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("generator: top symbols: %w", err)
	}
	symbols = g.registry.ConditionByRegime(ctx, symbols, regimeFor(types.Category(syn.Category)))

	s := &types.Strategy{
		ID:           uuid.NewString(),
		Name:         UniqueName(SourceDirectSynthesis, syn.TemplateID, uuid.NewString()[:8]),
		Category:     types.Category(syn.Category),
		BarInterval:  types.Interval1h,
		SourceText:   syn.SourceText,
		TemplateID:   &syn.TemplateID,
		Parameters:   map[string]float64{},
		BaseCodeHash: BaseCodeHash(syn.SourceText),
		Status:       types.StatusGenerated,
		Symbols:      assignSymbols(symbols, 2),
	}
	if err := g.store.Strategies.Insert(ctx, s); err != nil {
		return 0, fmt.Errorf("generator: insert synthesized strategy: %w", err)
	}
	g.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventCreated, "generator", "ok", map[string]string{
		"source": string(SourceDirectSynthesis),
	})
	return 1, nil
}

// emitParametricBatch expands every template's grid, dedupes against the
// process-local seen set, and persists each new combination as a GENERATED
// strategy, respecting remaining backpressure capacity one row at a time.
func (g *Generator) emitParametricBatch(ctx context.Context) (int, error) {
	symbols, err := g.registry.TopSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("generator: top symbols: %w", err)
	}

	emitted := 0
	for _, tpl := range g.templates {
		tplSymbols := g.registry.ConditionByRegime(ctx, symbols, regimeFor(tpl.Category))
		combos := Dedupe(Expand(tpl.Grid), g.seenHash)
		for _, params := range combos {
			if ctx.Err() != nil {
				return emitted, ctx.Err()
			}
			depth, err := g.store.Strategies.QueueDepth(ctx, types.StatusGenerated)
			if err == nil && depth >= g.cfg.Backpressure.SoftLimit {
				return emitted, nil
			}

			name := UniqueName(SourceParametric, tpl.ID, ParameterHash(params))
			exists, err := g.store.Strategies.ExistsByName(ctx, name)
			if err != nil {
				return emitted, fmt.Errorf("generator: exists check: %w", err)
			}
			if exists {
				continue
			}

			direction := g.registry.NextDirection(namePrefix(SourceParametric) + tpl.ID)
			assignedSymbols := assignSymbols(tplSymbols, 2)

			withDirection := make(map[string]float64, len(params)+1)
			for k, v := range params {
				withDirection[k] = v
			}
			withDirection[strategy.DirectionParamKey] = strategy.EncodeDirection(direction)

			s := &types.Strategy{
				ID:           uuid.NewString(),
				Name:         name,
				Category:     tpl.Category,
				BarInterval:  tpl.Interval,
				SourceText:   tpl.Body,
				TemplateID:   &tpl.ID,
				Parameters:   withDirection,
				BaseCodeHash: BaseCodeHash(tpl.Body),
				Status:       types.StatusGenerated,
				Symbols:      assignedSymbols,
			}

			if err := g.store.Strategies.Insert(ctx, s); err != nil {
				return emitted, fmt.Errorf("generator: insert strategy: %w", err)
			}
			g.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventCreated, "generator", "ok", map[string]string{
				"source":   string(SourceParametric),
				"template": tpl.ID,
			})
			emitted++
		}
	}
	return emitted, nil
}

// regimeFor maps a template's category onto the market regime its signal
// logic is built for: momentum rides a trend, mean reversion fades a
// range, breakout needs the volatility to clear its channel.
func regimeFor(cat types.Category) regime.Regime {
	switch cat {
	case types.CategoryMomentum:
		return regime.Trending
	case types.CategoryReversal:
		return regime.Ranging
	case types.CategoryBreakout:
		return regime.Volatile
	default:
		return regime.Ranging
	}
}

func assignSymbols(ranked []string, n int) []string {
	if len(ranked) <= n {
		return append([]string(nil), ranked...)
	}
	return append([]string(nil), ranked[:n]...)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

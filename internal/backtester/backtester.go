// Package backtester implements the Backtester role: interval sweep,
// dual-period (full/recent) evaluation, recency weighting, and scoring
// over VALIDATED rows.
package backtester

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
	"github.com/atlas-quant/strategy-pipeline/internal/queue"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistorySource supplies historical OHLCV for the backtester's interval
// sweep and full/recent evaluation.
type HistorySource interface {
	History(ctx context.Context, symbol string, interval types.Interval) (*strategy.Series, error)
}

// Backtester drives the Backtester role.
type Backtester struct {
	cfg      config.BacktesterConfig
	weights  config.ScoreWeights
	store    *store.Store
	tracker  *events.Tracker
	registry *strategy.Registry
	history  HistorySource
	logger   *zap.Logger
	workerID string
}

// New builds a Backtester.
func New(cfg config.BacktesterConfig, weights config.ScoreWeights, st *store.Store, tracker *events.Tracker, reg *strategy.Registry, history HistorySource, workerID string, logger *zap.Logger) *Backtester {
	return &Backtester{cfg: cfg, weights: weights, store: st, tracker: tracker, registry: reg, history: history, workerID: workerID, logger: logger.Named("backtester")}
}

// Run drives the claim loop until ctx is cancelled.
func (b *Backtester) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		depth, err := b.store.Strategies.QueueDepth(ctx, types.StatusTested)
		if err == nil && depth >= b.cfg.Backpressure.SoftLimit {
			cooldown := queue.Cooldown(depth, b.cfg.Backpressure)
			if !sleepCtx(ctx, cooldown) {
				return ctx.Err()
			}
			continue
		}

		s, err := b.store.Strategies.ClaimNext(ctx, types.StatusValidated, b.workerID, b.cfg.ClaimTTL)
		if errors.Is(err, store.ErrNoWork) {
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			b.logger.Warn("claim failed", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		b.processOne(ctx, s)
	}
}

func (b *Backtester) processOne(ctx context.Context, s *types.Strategy) {
	start := time.Now()
	full, recent, score, err := b.evaluate(ctx, s)
	if err != nil {
		if f, ok := pipelineerr.AsFatal(err); ok {
			_ = b.store.Strategies.Fail(ctx, s.ID)
			b.tracker.Emit(ctx, &s.ID, s.Name, &s.BaseCodeHash, types.EventPhaseFailed, f.Phase, "failed", nil,
				map[string]string{"reason": f.Reason})
			return
		}
		_ = b.store.Strategies.ReleaseLease(ctx, s.ID)
		b.logger.Debug("transient backtest error, released lease", zap.String("strategy", s.Name), zap.Error(err))
		return
	}

	if err := b.store.Backtests.InsertPair(ctx, full, recent); err != nil {
		b.logger.Error("persist backtest pair failed", zap.String("strategy", s.Name), zap.Error(err))
		_ = b.store.Strategies.ReleaseLease(ctx, s.ID)
		return
	}
	if err := b.store.Strategies.SetOptimalInterval(ctx, s.ID, full.Interval); err != nil {
		b.logger.Warn("set optimal interval failed", zap.Error(err))
	}

	d := time.Since(start)
	detail := map[string]string{"score": formatScore(score)}
	if score < b.cfg.AdmissionScore {
		_ = b.store.Strategies.Fail(ctx, s.ID)
		b.tracker.Emit(ctx, &s.ID, s.Name, &s.BaseCodeHash, types.EventPhaseFailed, "scoring", "failed", &d, detail)
		return
	}

	if err := b.store.Strategies.Advance(ctx, s.ID, types.StatusTested); err != nil {
		b.logger.Error("advance to tested failed", zap.Error(err))
		return
	}
	b.tracker.Emit(ctx, &s.ID, s.Name, &s.BaseCodeHash, types.EventScored, "backtester", "tested", &d, detail)
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

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

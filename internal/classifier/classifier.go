// Package classifier implements the Classifier role: refreshes live
// metrics, retires underperforming LIVE strategies, ranks and promotes
// backtest survivors into the SELECTED pool, and archives stale losers.
// It is the only role permitted to flip TESTED<->SELECTED and LIVE->RETIRED.
package classifier

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/scoring"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"go.uber.org/zap"
)

// Classifier drives one cycle of the pool/live ranking role.
type Classifier struct {
	cfg     config.ClassifierConfig
	weights config.ScoreWeights
	store   *store.Store
	tracker *events.Tracker
	logger  *zap.Logger
	metrics *metrics.Registry

	mu               sync.Mutex
	consecutiveBelow map[string]int // strategyID -> consecutive cycles below retirement floor
}

// New builds a Classifier.
func New(cfg config.ClassifierConfig, weights config.ScoreWeights, st *store.Store, tracker *events.Tracker, logger *zap.Logger) *Classifier {
	return &Classifier{
		cfg: cfg, weights: weights, store: st, tracker: tracker,
		logger:           logger.Named("classifier"),
		consecutiveBelow: make(map[string]int),
	}
}

// WithMetrics attaches a metrics registry the Classifier reports into.
func (c *Classifier) WithMetrics(m *metrics.Registry) *Classifier {
	c.metrics = m
	return c
}

// liveMetrics is one LIVE strategy's refreshed scoring and retirement input
// for the current cycle.
type liveMetrics struct {
	strategy     *types.Strategy
	metrics      scoring.Metrics
	score        float64
	drawdownPct  float64
	lastActivity time.Time
	tradeCount   int
}

// RunCycle executes the four-step Classifier cycle once.
func (c *Classifier) RunCycle(ctx context.Context) error {
	live, err := c.refreshLiveMetrics(ctx)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.LivePoolSize.Set(float64(len(live)))
	}

	c.retireCandidates(ctx, live)

	if err := c.rankAndPromote(ctx); err != nil {
		return err
	}

	return c.archiveLosers(ctx)
}

// refreshLiveMetrics aggregates closed trades for every LIVE strategy into
// a live score using the same weighting as backtest scoring (spec §4.5.1).
func (c *Classifier) refreshLiveMetrics(ctx context.Context) (map[string]*liveMetrics, error) {
	strategies, err := c.store.Strategies.ListByStatus(ctx, types.StatusLive)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*liveMetrics, len(strategies))
	for _, s := range strategies {
		trades, err := c.store.Trades.RecentClosed(ctx, s.ID, 200)
		if err != nil {
			c.logger.Warn("recent closed trades failed", zap.String("strategy", s.Name), zap.Error(err))
			continue
		}

		// trades is ordered most-recent-exit-first.
		m := computeLiveMetrics(trades)
		m.score = scoring.Weighted(m.metrics, c.weights)
		m.strategy = s
		if len(trades) > 0 && trades[0].ExitTime != nil {
			m.lastActivity = *trades[0].ExitTime
		} else if s.LiveAt != nil {
			m.lastActivity = *s.LiveAt
		}

		if sub, err := c.store.Subaccounts.ByStrategy(ctx, s.ID); err == nil && sub != nil {
			m.drawdownPct = subaccountDrawdown(sub)
		}

		out[s.ID] = &m
	}
	return out, nil
}

// subaccountDrawdown reports the fraction a subaccount's current balance
// has fallen below its peak.
func subaccountDrawdown(s *types.Subaccount) float64 {
	peak, _ := s.PeakBalance.Float64()
	current, _ := s.CurrentBalance.Float64()
	if peak <= 0 {
		return 0
	}
	dd := (peak - current) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

// retireCandidates applies the retirement predicates to every LIVE
// strategy and transitions chosen rows to RETIRED, freeing their
// subaccount (spec §4.5.2).
func (c *Classifier) retireCandidates(ctx context.Context, live map[string]*liveMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(live))
	for id, m := range live {
		seen[id] = true
		reason := c.retirementReason(m)
		if reason == "" {
			c.consecutiveBelow[id] = 0
			continue
		}
		if reason == "score_below_threshold" {
			c.consecutiveBelow[id]++
			if c.consecutiveBelow[id] < c.cfg.RetirementConsecutive {
				continue
			}
		}
		c.retire(ctx, m.strategy, reason)
		delete(c.consecutiveBelow, id)
	}

	for id := range c.consecutiveBelow {
		if !seen[id] {
			delete(c.consecutiveBelow, id)
		}
	}
}

// retirementReason returns the first predicate that fires for m, or "" if
// the strategy should remain LIVE.
func (c *Classifier) retirementReason(m *liveMetrics) string {
	switch {
	case m.drawdownPct >= c.cfg.RetirementDrawdownPct:
		return "drawdown_breach"
	case !m.lastActivity.IsZero() && time.Since(m.lastActivity) >= c.cfg.InactivityBound:
		return "inactivity"
	case m.score < c.cfg.RetirementScoreFloor:
		return "score_below_threshold"
	default:
		return ""
	}
}

func (c *Classifier) retire(ctx context.Context, s *types.Strategy, reason string) {
	if err := c.store.Strategies.Advance(ctx, s.ID, types.StatusRetired); err != nil {
		c.logger.Error("retire failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}
	if sub, err := c.store.Subaccounts.ByStrategy(ctx, s.ID); err == nil && sub != nil {
		if err := c.store.Subaccounts.Unassign(ctx, sub.ID); err != nil {
			c.logger.Error("unassign subaccount failed", zap.String("subaccount", sub.ID), zap.Error(err))
		}
	}
	c.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventRetired, "classifier", "retired", map[string]string{"reason": reason})
	if c.metrics != nil {
		c.metrics.ClassifierRetirements.WithLabelValues(reason).Inc()
	}
}

// rankAndPromote ranks TESTED/SELECTED survivors by score, applies
// diversification caps, and promotes up to the open slot budget (spec
// §4.5.3).
func (c *Classifier) rankAndPromote(ctx context.Context) error {
	tested, err := c.store.Strategies.ListByStatus(ctx, types.StatusTested)
	if err != nil {
		return err
	}
	selected, err := c.store.Strategies.ListByStatus(ctx, types.StatusSelected)
	if err != nil {
		return err
	}
	liveCount, err := c.store.Strategies.QueueDepth(ctx, types.StatusLive)
	if err != nil {
		return err
	}

	slotBudget := c.cfg.PoolCapacity - liveCount
	if slotBudget <= 0 {
		return nil
	}

	candidates := append(append([]*types.Strategy{}, selected...), tested...)
	scored := make([]scoredStrategy, 0, len(candidates))
	for _, s := range candidates {
		full, _, err := c.store.Backtests.LatestForStrategy(ctx, s.ID)
		if err != nil || full == nil {
			continue
		}
		scored = append(scored, scoredStrategy{strategy: s, score: full.Score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	perCategory := map[types.Category]int{}
	perInterval := map[types.Interval]int{}
	promoted := 0

	for _, cand := range scored {
		if promoted >= slotBudget {
			break
		}
		s := cand.strategy
		if perCategory[s.Category] >= c.cfg.MaxPerCategory {
			continue
		}
		interval := s.BarInterval
		if s.OptimalBarInterval != nil {
			interval = *s.OptimalBarInterval
		}
		if perInterval[interval] >= c.cfg.MaxPerInterval {
			continue
		}

		if s.Status == types.StatusTested {
			if err := c.store.Strategies.Advance(ctx, s.ID, types.StatusSelected); err != nil {
				c.logger.Error("promote to selected failed", zap.String("strategy", s.Name), zap.Error(err))
				continue
			}
			c.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventEntered, "classifier", "selected", nil)
			if c.metrics != nil {
				c.metrics.ClassifierPromotions.Inc()
			}
		}
		perCategory[s.Category]++
		perInterval[interval]++
		promoted++
	}
	return nil
}

type scoredStrategy struct {
	strategy *types.Strategy
	score    float64
}

// archiveLosers retires TESTED rows that have fallen below the archival
// score threshold, are older than the minimum age, and are not currently
// SELECTED (spec §4.5.4).
func (c *Classifier) archiveLosers(ctx context.Context) error {
	tested, err := c.store.Strategies.ListByStatus(ctx, types.StatusTested)
	if err != nil {
		return err
	}
	for _, s := range tested {
		if time.Since(s.CreatedAt) < c.cfg.ArchiveMinAge {
			continue
		}
		full, _, err := c.store.Backtests.LatestForStrategy(ctx, s.ID)
		if err != nil || full == nil {
			continue
		}
		if full.Score >= c.cfg.ArchiveScoreFloor {
			continue
		}
		if err := c.store.Strategies.Advance(ctx, s.ID, types.StatusRetired); err != nil {
			c.logger.Error("archive failed", zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		c.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventArchived, "classifier", "retired",
			map[string]string{"reason": "score_below_threshold"})
	}
	return nil
}

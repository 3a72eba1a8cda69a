// Package emergencystop implements the EmergencyStopManager role:
// condition evaluation, scoped upserts, the can_trade gate, and auto-reset.
package emergencystop

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"go.uber.org/zap"
)

// Manager evaluates emergency-stop conditions on its own throttled cadence.
type Manager struct {
	cfg     config.EmergencyConfig
	store   *store.Store
	tracker *events.Tracker
	logger  *zap.Logger
	metrics *metrics.Registry

	lastEval time.Time
}

// New builds a Manager.
func New(cfg config.EmergencyConfig, st *store.Store, tracker *events.Tracker, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, store: st, tracker: tracker, logger: logger.Named("emergencystop")}
}

// WithMetrics attaches a metrics registry the Manager reports into.
func (m *Manager) WithMetrics(reg *metrics.Registry) *Manager {
	m.metrics = reg
	return m
}

// Run evaluates conditions on cfg.EvalInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Evaluate(ctx); err != nil {
				m.logger.Warn("emergency evaluation failed", zap.Error(err))
			}
		}
	}
}

// Evaluate is internally throttled to at most once per EvalInterval even
// if called more often, per spec §4.8's "at most once per fixed interval".
func (m *Manager) Evaluate(ctx context.Context) error {
	if !m.lastEval.IsZero() && time.Since(m.lastEval) < m.cfg.EvalInterval {
		return nil
	}
	m.lastEval = time.Now()

	if err := m.evaluateSubaccounts(ctx); err != nil {
		return err
	}
	if err := m.evaluateGlobalExposure(ctx); err != nil {
		return err
	}
	return m.autoReset(ctx)
}

// evaluateSubaccounts checks per-subaccount drawdown and daily PnL loss,
// and per-strategy consecutive losing trades.
func (m *Manager) evaluateSubaccounts(ctx context.Context) error {
	subs, err := m.store.Subaccounts.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.StrategyID == nil {
			continue
		}
		peak, _ := sub.PeakBalance.Float64()
		current, _ := sub.CurrentBalance.Float64()
		if peak > 0 && (peak-current)/peak >= m.cfg.DrawdownPct {
			m.trigger(ctx, types.ScopeSubaccount, sub.ID, "drawdown_breach", types.ActionClosePositions, m.cfg.CooldownSubaccount)
			continue
		}

		dailyPnL, _ := sub.DailyPnL.Float64()
		allocated, _ := sub.AllocatedCapital.Float64()
		lossAbs := m.cfg.DailyLossAbs > 0 && -dailyPnL >= m.cfg.DailyLossAbs
		lossPct := m.cfg.DailyLossPct > 0 && allocated > 0 && -dailyPnL/allocated >= m.cfg.DailyLossPct
		if lossAbs || lossPct {
			m.trigger(ctx, types.ScopeSubaccount, sub.ID, "daily_loss_limit", types.ActionPause, m.cfg.CooldownSubaccount)
			continue
		}

		trades, err := m.store.Trades.RecentClosed(ctx, *sub.StrategyID, m.cfg.ConsecutiveLosses)
		if err != nil {
			m.logger.Warn("recent closed trades lookup failed", zap.Error(err))
			continue
		}
		if consecutiveLosses(trades) >= m.cfg.ConsecutiveLosses {
			m.trigger(ctx, types.ScopeStrategy, *sub.StrategyID, "consecutive_losses", types.ActionPause, m.cfg.CooldownStrategy)
		}
	}
	return nil
}

func consecutiveLosses(trades []*types.Trade) int {
	streak := 0
	for _, t := range trades { // most-recent-first
		pnl, _ := t.RealizedPnL.Float64()
		if pnl >= 0 {
			break
		}
		streak++
	}
	return streak
}

// evaluateGlobalExposure sums allocated capital across ACTIVE subaccounts
// that have a strategy bound (the strategy's status is not checked) against
// a configured ceiling.
func (m *Manager) evaluateGlobalExposure(ctx context.Context) error {
	if m.cfg.GlobalExposureLimit <= 0 {
		return nil
	}
	subs, err := m.store.Subaccounts.ListAll(ctx)
	if err != nil {
		return err
	}
	total := 0.0
	for _, sub := range subs {
		if sub.StrategyID == nil || sub.Status != types.SubaccountActive {
			continue
		}
		allocated, _ := sub.AllocatedCapital.Float64()
		total += allocated
	}
	if total >= m.cfg.GlobalExposureLimit {
		m.trigger(ctx, types.ScopeGlobal, "global", "global_exposure_limit", types.ActionPause, m.cfg.CooldownGlobal)
	}
	return nil
}

func (m *Manager) trigger(ctx context.Context, scope types.Scope, scopeID, reason string, action types.StopAction, cooldown time.Duration) {
	now := time.Now().UTC()
	state := &types.EmergencyStopState{
		Scope: scope, ScopeID: scopeID, IsStopped: true, Reason: reason, Action: action,
		StoppedAt: now, CooldownUntil: now.Add(cooldown),
	}
	if err := m.store.EmergencyStop.Upsert(ctx, state); err != nil {
		m.logger.Error("emergency upsert failed", zap.String("scope_id", scopeID), zap.Error(err))
		return
	}
	m.tracker.Emit(ctx, nil, fmt.Sprintf("%s:%s", scope, scopeID), nil, types.EventEmergencyStop, string(scope), "stopped", nil,
		map[string]string{"reason": reason, "action": string(action)})
	if m.metrics != nil {
		m.metrics.EmergencyStopsTriggered.WithLabelValues(string(scope)).Inc()
	}
}

// autoReset clears rows whose cool-down has elapsed and whose reset
// trigger is absent or satisfied.
func (m *Manager) autoReset(ctx context.Context) error {
	stopped, err := m.store.EmergencyStop.ListStopped(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, s := range stopped {
		if now.Before(s.CooldownUntil) {
			continue
		}
		if s.ResetTrigger != nil && !m.resetTriggerSatisfied(ctx, s) {
			continue
		}
		if err := m.store.EmergencyStop.Clear(ctx, s.Scope, s.ScopeID); err != nil {
			m.logger.Error("emergency clear failed", zap.String("scope_id", s.ScopeID), zap.Error(err))
			continue
		}
		m.tracker.Emit(ctx, nil, fmt.Sprintf("%s:%s", s.Scope, s.ScopeID), nil, types.EventEmergencyReset, string(s.Scope), "reset", nil, nil)
	}
	return nil
}

// resetTriggerSatisfied does not inspect the trigger's value. For a
// subaccount scope it requires the subaccount's current drawdown from its
// peak balance to be below DrawdownPct; any other scope is satisfied.
func (m *Manager) resetTriggerSatisfied(ctx context.Context, s *types.EmergencyStopState) bool {
	if s.Scope != types.ScopeSubaccount {
		return true
	}
	sub, err := m.store.Subaccounts.Get(ctx, s.ScopeID)
	if err != nil || sub == nil {
		return false
	}
	peak, _ := sub.PeakBalance.Float64()
	current, _ := sub.CurrentBalance.Float64()
	if peak <= 0 {
		return true
	}
	return (peak-current)/peak < m.cfg.DrawdownPct
}

// CanTrade reports whether trading is permitted: false iff any of the
// three scopes is stopped and its cool-down has not expired (spec §4.8).
// The error is non-nil only when a state lookup fails.
func CanTrade(ctx context.Context, repo *store.EmergencyStopRepo, subaccountID, strategyID string) (bool, error) {
	now := time.Now().UTC()
	for _, key := range []struct {
		scope types.Scope
		id    string
	}{
		{types.ScopeGlobal, "global"},
		{types.ScopeSubaccount, subaccountID},
		{types.ScopeStrategy, strategyID},
	} {
		state, err := repo.Get(ctx, key.scope, key.id)
		if err != nil {
			return false, err
		}
		if state != nil && state.IsStopped && !store.CooldownExpired(state, now) {
			return false, nil
		}
	}
	return true, nil
}

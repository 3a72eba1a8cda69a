// Package deployer implements the Deployer role: binds SELECTED strategies
// to a free subaccount and flips them LIVE.
package deployer

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/emergencystop"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"go.uber.org/zap"
)

// Deployer drives the deploy loop.
type Deployer struct {
	cfg     config.DeployerConfig
	store   *store.Store
	tracker *events.Tracker
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New builds a Deployer.
func New(cfg config.DeployerConfig, st *store.Store, tracker *events.Tracker, logger *zap.Logger) *Deployer {
	return &Deployer{cfg: cfg, store: st, tracker: tracker, logger: logger.Named("deployer")}
}

// WithMetrics attaches a metrics registry the Deployer reports into.
func (d *Deployer) WithMetrics(m *metrics.Registry) *Deployer {
	d.metrics = m
	return d
}

// Run polls for SELECTED rows on a fixed interval until ctx is cancelled.
func (d *Deployer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Warn("deploy cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce attempts to deploy every currently SELECTED strategy.
func (d *Deployer) RunOnce(ctx context.Context) error {
	selected, err := d.store.Strategies.ListByStatus(ctx, types.StatusSelected)
	if err != nil {
		return err
	}
	for _, s := range selected {
		d.deployOne(ctx, s)
	}
	return nil
}

func (d *Deployer) deployOne(ctx context.Context, s *types.Strategy) {
	sub, err := d.store.Subaccounts.FreeActive(ctx)
	if err != nil {
		d.logger.Warn("free subaccount lookup failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}
	if sub == nil {
		d.logger.Debug("no free subaccount available", zap.String("strategy", s.Name))
		return
	}

	ok, err := emergencystop.CanTrade(ctx, d.store.EmergencyStop, sub.ID, s.ID)
	if err != nil {
		d.logger.Warn("can_trade check failed", zap.String("strategy", s.Name), zap.Error(err))
		return
	}
	if !ok {
		d.logger.Debug("deploy blocked by emergency stop", zap.String("strategy", s.Name))
		return
	}

	if err := d.store.Subaccounts.BindStrategy(ctx, sub.ID, s.ID, sub.AllocatedCapital); err != nil {
		d.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventDeployFailed, "deployer", "failed",
			map[string]string{"reason": err.Error()})
		if d.metrics != nil {
			d.metrics.DeploysFailed.Inc()
		}
		return
	}

	if err := d.store.Strategies.Advance(ctx, s.ID, types.StatusLive); err != nil {
		d.logger.Error("advance to live failed", zap.String("strategy", s.Name), zap.Error(err))
		_ = d.store.Subaccounts.Unassign(ctx, sub.ID)
		if d.metrics != nil {
			d.metrics.DeploysFailed.Inc()
		}
		return
	}

	d.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventDeploySucceeded, "deployer", "live",
		map[string]string{"subaccount_id": sub.ID})
	if d.metrics != nil {
		d.metrics.DeploysSucceeded.Inc()
	}
}

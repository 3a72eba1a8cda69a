package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/events"
	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
	"github.com/atlas-quant/strategy-pipeline/internal/queue"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"go.uber.org/zap"
)

// Validator drives the Validator role: claims GENERATED rows and runs the
// fixed phase sequence from spec §4.3.
type Validator struct {
	cfg      config.ValidatorConfig
	store    *store.Store
	tracker  *events.Tracker
	registry *strategy.Registry
	logger   *zap.Logger
	workerID string
}

// New builds a Validator.
func New(cfg config.ValidatorConfig, st *store.Store, tracker *events.Tracker, reg *strategy.Registry, workerID string, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, store: st, tracker: tracker, registry: reg, workerID: workerID, logger: logger.Named("validator")}
}

// Run drives the claim loop until ctx is cancelled.
func (v *Validator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		depth, err := v.store.Strategies.QueueDepth(ctx, types.StatusValidated)
		if err == nil && depth >= v.cfg.Backpressure.SoftLimit {
			cooldown := queue.Cooldown(depth, v.cfg.Backpressure)
			if !sleepCtx(ctx, cooldown) {
				return ctx.Err()
			}
			continue
		}

		s, err := v.store.Strategies.ClaimNext(ctx, types.StatusGenerated, v.workerID, v.cfg.ClaimTTL)
		if errors.Is(err, store.ErrNoWork) {
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			v.logger.Warn("claim failed", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		v.processOne(ctx, s)
	}
}

func (v *Validator) processOne(ctx context.Context, s *types.Strategy) {
	start := time.Now()
	err := v.runPhases(ctx, s)
	if err == nil {
		d := time.Since(start)
		if advErr := v.store.Strategies.Advance(ctx, s.ID, types.StatusValidated); advErr != nil {
			v.logger.Error("advance after validation failed", zap.String("strategy", s.Name), zap.Error(advErr))
			return
		}
		v.tracker.Emit(ctx, &s.ID, s.Name, &s.BaseCodeHash, types.EventPhasePassed, "validator", "validated", &d, nil)
		return
	}

	if f, ok := pipelineerr.AsFatal(err); ok {
		if failErr := v.store.Strategies.Fail(ctx, s.ID); failErr != nil {
			v.logger.Error("fail transition failed", zap.String("strategy", s.Name), zap.Error(failErr))
		}
		v.tracker.Emit(ctx, &s.ID, s.Name, &s.BaseCodeHash, types.EventPhaseFailed, f.Phase, "failed", nil,
			map[string]string{"reason": f.Reason})
		return
	}

	// Transient: release the lease so another worker may retry; status and
	// lease fields both stay untouched other than the release itself.
	if releaseErr := v.store.Strategies.ReleaseLease(ctx, s.ID); releaseErr != nil {
		v.logger.Error("release lease failed", zap.String("strategy", s.Name), zap.Error(releaseErr))
	}
	v.logger.Debug("transient validation error, released lease", zap.String("strategy", s.Name), zap.Error(err))
}

func (v *Validator) runPhases(ctx context.Context, s *types.Strategy) error {
	if err := StaticCheck(s.SourceText); err != nil {
		return err
	}

	strat, err := DynamicCompile(v.registry, s)
	if err != nil {
		return err
	}

	series := SyntheticSeries(500, 7)
	if err := runSmokeTestRecovered(strat, series); err != nil {
		return err
	}

	cached, passed, err := ShuffleTest(ctx, v.store.Validation, strat, s.BaseCodeHash)
	if err != nil {
		return pipelineerr.NewTransient("shuffle_test", err)
	}
	if cached {
		v.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventCached, "validator", boolStatus(passed), map[string]string{"cached": "true"})
	} else {
		v.tracker.EmitSimple(ctx, &s.ID, s.Name, types.EventValidated, "validator", boolStatus(passed), map[string]string{"phase": "shuffle_test"})
	}
	if !passed {
		return pipelineerr.NewFatal("shuffle_test", "shuffle_robustness_failed", nil)
	}

	if v.cfg.StabilityProbeEnabled {
		ok, cv := StabilityProbe(strat, v.cfg.StabilityWindows, v.cfg.StabilityCVThreshold)
		if !ok {
			return pipelineerr.NewFatal("stability_probe", fmt.Sprintf("coefficient_of_variation %.3f exceeds threshold", cv), nil)
		}
	}

	return nil
}

func boolStatus(b bool) string {
	if b {
		return "pass"
	}
	return "fail"
}

// runSmokeTestRecovered runs SmokeTest under a panic boundary, translating
// a strategy-code panic into the smoke test's fatal failure mode.
func runSmokeTestRecovered(strat strategy.Strategy, series *strategy.Series) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pipelineerr.NewFatal("smoke_test", fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return SmokeTest(strat, series)
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

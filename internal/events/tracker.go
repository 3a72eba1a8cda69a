// Package events is the thin append-only writer fronting StrategyEvent plus
// a standalone in-process pub/sub bus, adapted from the teacher's
// internal/events/event_bus.go.
package events

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracker writes StrategyEvent rows best-effort: persistence failures are
// logged and swallowed, never propagated to the caller's work unit.
type Tracker struct {
	repo   *store.EventRepo
	logger *zap.Logger
}

// NewTracker builds a Tracker over repo, logging failures via logger.
func NewTracker(repo *store.EventRepo, logger *zap.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger.Named("events")}
}

// Emit appends an event. strategyID may be nil for events with no surviving
// row reference; strategyName/baseCodeHash are always denormalised.
func (t *Tracker) Emit(ctx context.Context, strategyID *string, strategyName string, baseCodeHash *string, eventType types.EventType, stage, status string, duration *time.Duration, detail map[string]string) {
	if detail == nil {
		detail = map[string]string{}
	}
	e := &types.StrategyEvent{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		StrategyID:   strategyID,
		StrategyName: strategyName,
		BaseCodeHash: baseCodeHash,
		EventType:    eventType,
		Stage:        stage,
		Status:       status,
		Duration:     duration,
		Detail:       detail,
	}
	if err := t.repo.Insert(ctx, e); err != nil {
		t.logger.Warn("failed to persist strategy event",
			zap.String("strategy_name", strategyName),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// EmitSimple is a convenience wrapper for the common case of no duration.
func (t *Tracker) EmitSimple(ctx context.Context, strategyID *string, strategyName string, eventType types.EventType, stage, status string, detail map[string]string) {
	t.Emit(ctx, strategyID, strategyName, nil, eventType, stage, status, nil, detail)
}

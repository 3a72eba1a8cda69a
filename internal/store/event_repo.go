package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// EventRepo is the append-only StrategyEvent log. Rows are never updated or
// deleted and remain queryable after the referenced Strategy is gone,
// because strategy_name and base_code_hash are denormalised onto each row.
type EventRepo struct {
	db *sql.DB
}

// Insert appends a single event row.
func (r *EventRepo) Insert(ctx context.Context, e *types.StrategyEvent) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("store: marshal event detail: %w", err)
	}
	var durationNs interface{}
	if e.Duration != nil {
		durationNs = e.Duration.Nanoseconds()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO strategy_events (id, "timestamp", strategy_id, strategy_name, base_code_hash,
			event_type, stage, status, duration_ns, detail_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp, e.StrategyID, e.StrategyName, e.BaseCodeHash, string(e.EventType),
		e.Stage, e.Status, durationNs, string(detail))
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// ByStrategyName returns events for a strategy name in timestamp order,
// usable even after the Strategy row itself has been hard-deleted.
func (r *EventRepo) ByStrategyName(ctx context.Context, name string) ([]*types.StrategyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, "timestamp", strategy_id, strategy_name, base_code_hash, event_type, stage,
			status, duration_ns, detail_json
		FROM strategy_events WHERE strategy_name = ? ORDER BY "timestamp" ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("store: events by strategy name: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByStageStatus supports throughput/failure-breakdown views computed purely
// from the event log.
func (r *EventRepo) ByStageStatus(ctx context.Context, stage, status string) ([]*types.StrategyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, "timestamp", strategy_id, strategy_name, base_code_hash, event_type, stage,
			status, duration_ns, detail_json
		FROM strategy_events WHERE stage = ? AND status = ? ORDER BY "timestamp" ASC`, stage, status)
	if err != nil {
		return nil, fmt.Errorf("store: events by stage/status: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*types.StrategyEvent, error) {
	var out []*types.StrategyEvent
	for rows.Next() {
		var e types.StrategyEvent
		var strategyID, baseCodeHash sql.NullString
		var durationNs sql.NullInt64
		var eventType, detailJSON string
		if err := rows.Scan(&e.ID, &e.Timestamp, &strategyID, &e.StrategyName, &baseCodeHash,
			&eventType, &e.Stage, &e.Status, &durationNs, &detailJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.EventType = types.EventType(eventType)
		if strategyID.Valid {
			e.StrategyID = &strategyID.String
		}
		if baseCodeHash.Valid {
			e.BaseCodeHash = &baseCodeHash.String
		}
		if durationNs.Valid {
			d := nsToDuration(durationNs.Int64)
			e.Duration = &d
		}
		if err := json.Unmarshal([]byte(detailJSON), &e.Detail); err != nil {
			return nil, fmt.Errorf("store: unmarshal event detail: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// ScheduledTaskRepo records per-run bookkeeping for periodic jobs (symbol
// universe refresh, regime refresh, data coverage refresh).
type ScheduledTaskRepo struct {
	db *sql.DB
}

// Start inserts the run's start record.
func (r *ScheduledTaskRepo) Start(ctx context.Context, e *types.ScheduledTaskExecution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_task_executions (id, task_name, started_at, succeeded, detail)
		VALUES (?,?,?,0,?)`, e.ID, e.TaskName, e.StartedAt, e.Detail)
	if err != nil {
		return fmt.Errorf("store: start scheduled task: %w", err)
	}
	return nil
}

// Finish marks the run complete with its outcome.
func (r *ScheduledTaskRepo) Finish(ctx context.Context, id string, succeeded bool, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_task_executions SET finished_at = CURRENT_TIMESTAMP, succeeded = ?, detail = ?
		WHERE id = ?`, boolToInt(succeeded), detail, id)
	if err != nil {
		return fmt.Errorf("store: finish scheduled task: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PairsUpdateLogRepo records symbol-universe refresh runs.
type PairsUpdateLogRepo struct {
	db *sql.DB
}

// Insert records a completed pairs-refresh run.
func (r *PairsUpdateLogRepo) Insert(ctx context.Context, l *types.PairsUpdateLog) error {
	added, err := json.Marshal(l.Added)
	if err != nil {
		return err
	}
	removed, err := json.Marshal(l.Removed)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pairs_update_log (id, run_at, added_json, removed_json, succeeded)
		VALUES (?,?,?,?,?)`, l.ID, l.RunAt, string(added), string(removed), boolToInt(l.Succeeded))
	if err != nil {
		return fmt.Errorf("store: insert pairs update log: %w", err)
	}
	return nil
}

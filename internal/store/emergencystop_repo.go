package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// EmergencyStopRepo manages EmergencyStopState rows keyed by (scope, scope_id).
type EmergencyStopRepo struct {
	db *sql.DB
}

// Upsert sets or refreshes a scope's stop flag.
func (r *EmergencyStopRepo) Upsert(ctx context.Context, s *types.EmergencyStopState) error {
	stopped := 0
	if s.IsStopped {
		stopped = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emergency_stop_state (scope, scope_id, is_stopped, reason, action, stopped_at, cooldown_until, reset_trigger)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(scope, scope_id) DO UPDATE SET
			is_stopped = excluded.is_stopped, reason = excluded.reason, action = excluded.action,
			stopped_at = excluded.stopped_at, cooldown_until = excluded.cooldown_until,
			reset_trigger = excluded.reset_trigger`,
		string(s.Scope), s.ScopeID, stopped, s.Reason, string(s.Action), s.StoppedAt, s.CooldownUntil, s.ResetTrigger)
	if err != nil {
		return fmt.Errorf("store: upsert emergency stop: %w", err)
	}
	return nil
}

// Get fetches a scope's current state, or nil if it was never triggered.
func (r *EmergencyStopRepo) Get(ctx context.Context, scope types.Scope, scopeID string) (*types.EmergencyStopState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT scope, scope_id, is_stopped, reason, action, stopped_at, cooldown_until, reset_trigger
		FROM emergency_stop_state WHERE scope = ? AND scope_id = ?`, string(scope), scopeID)
	s, err := scanStopState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get emergency stop: %w", err)
	}
	return s, nil
}

// ListStopped returns every row currently flagged is_stopped, used by the
// auto-reset sweep.
func (r *EmergencyStopRepo) ListStopped(ctx context.Context) ([]*types.EmergencyStopState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, scope_id, is_stopped, reason, action, stopped_at, cooldown_until, reset_trigger
		FROM emergency_stop_state WHERE is_stopped = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: list stopped: %w", err)
	}
	defer rows.Close()
	var out []*types.EmergencyStopState
	for rows.Next() {
		s, err := scanStopState(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan stop state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Clear marks a scope reset (is_stopped=false), run by auto-reset once the
// cool-down has elapsed and any reset trigger is satisfied.
func (r *EmergencyStopRepo) Clear(ctx context.Context, scope types.Scope, scopeID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emergency_stop_state SET is_stopped = 0 WHERE scope = ? AND scope_id = ?`,
		string(scope), scopeID)
	if err != nil {
		return fmt.Errorf("store: clear emergency stop: %w", err)
	}
	return nil
}

func scanStopState(row scanner) (*types.EmergencyStopState, error) {
	var s types.EmergencyStopState
	var scope string
	var stopped int
	var reason, action, resetTrigger sql.NullString
	var stoppedAt, cooldownUntil sql.NullTime

	if err := row.Scan(&scope, &s.ScopeID, &stopped, &reason, &action, &stoppedAt, &cooldownUntil, &resetTrigger); err != nil {
		return nil, err
	}
	s.Scope = types.Scope(scope)
	s.IsStopped = stopped != 0
	if reason.Valid {
		s.Reason = reason.String
	}
	if action.Valid {
		s.Action = types.StopAction(action.String)
	}
	if stoppedAt.Valid {
		s.StoppedAt = stoppedAt.Time
	}
	if cooldownUntil.Valid {
		s.CooldownUntil = cooldownUntil.Time
	}
	if resetTrigger.Valid {
		s.ResetTrigger = &resetTrigger.String
	}
	return &s, nil
}

// CooldownExpired reports whether s's cool-down deadline has passed.
func CooldownExpired(s *types.EmergencyStopState, now time.Time) bool {
	return now.After(s.CooldownUntil)
}

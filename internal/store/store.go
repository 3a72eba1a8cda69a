// Package store is the pipeline's relational persistence layer: a pure-Go,
// CGO-free SQLite driver behind database/sql, with one repository type per
// table and the claim/lease protocol implemented as a single serialisable
// transaction per claim.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the shared *sql.DB handle and exposes one repo per table.
type Store struct {
	DB *sql.DB

	Strategies    *StrategyRepo
	Validation    *ValidationCacheRepo
	Backtests     *BacktestRepo
	Trades        *TradeRepo
	Subaccounts   *SubaccountRepo
	EmergencyStop *EmergencyStopRepo
	Events        *EventRepo
	ScheduledTask *ScheduledTaskRepo
	PairsLog      *PairsUpdateLogRepo
}

// Open connects to dsn (a modernc.org/sqlite DSN, e.g.
// "file:pipeline.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
// applies the schema, and wires every repo.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Claims are single-writer transactions; SQLite serialises writers
	// regardless, but capping the pool avoids "database is locked" churn
	// under modernc.org/sqlite's driver-level locking.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{DB: db}
	s.Strategies = &StrategyRepo{db: db}
	s.Validation = &ValidationCacheRepo{db: db}
	s.Backtests = &BacktestRepo{db: db}
	s.Trades = &TradeRepo{db: db}
	s.Subaccounts = &SubaccountRepo{db: db}
	s.EmergencyStop = &EmergencyStopRepo{db: db}
	s.Events = &EventRepo{db: db}
	s.ScheduledTask = &ScheduledTaskRepo{db: db}
	s.PairsLog = &PairsUpdateLogRepo{db: db}
	return s, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// withTx runs fn inside a database/sql transaction with default options
// (SQLite's deferred BEGIN; the one-connection pool keeps transactions from
// interleaving), committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

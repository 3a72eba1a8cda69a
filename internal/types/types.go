// Package types holds the shared domain model for the strategy pipeline,
// mirroring the data model of the pipeline's relational store.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the pipeline state of a Strategy. Transitions are a DAG:
// GENERATED -> VALIDATED -> TESTED -> SELECTED -> LIVE -> RETIRED, with a
// sink edge to FAILED from any non-terminal state.
type Status string

const (
	StatusGenerated Status = "GENERATED"
	StatusValidated Status = "VALIDATED"
	StatusTested    Status = "TESTED"
	StatusSelected  Status = "SELECTED"
	StatusLive      Status = "LIVE"
	StatusRetired   Status = "RETIRED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether a status never returns to a queue state.
func (s Status) Terminal() bool {
	return s == StatusRetired || s == StatusFailed
}

// AllStatuses lists every status in DAG order, for status-pool reporting.
var AllStatuses = []Status{
	StatusGenerated, StatusValidated, StatusTested, StatusSelected, StatusLive, StatusRetired, StatusFailed,
}

// Category is a strategy's category tag.
type Category string

const (
	CategoryMomentum   Category = "momentum"
	CategoryReversal   Category = "reversal"
	CategoryTrend      Category = "trend"
	CategoryBreakout   Category = "breakout"
	CategoryVolatility Category = "volatility"
	CategoryScalping   Category = "scalping"
	CategoryAdvanced   Category = "advanced"
)

// Interval is one of the fixed bar intervals from the strategy contract.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
)

// AllIntervals is the configured sweep order for the Backtester's interval sweep.
var AllIntervals = []Interval{
	Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h, Interval1d,
}

// Direction is a strategy's declared trading direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBidi  Direction = "bidi"
)

// PeriodType distinguishes a BacktestResult's full-history row from its
// trailing-window row.
type PeriodType string

const (
	PeriodFull   PeriodType = "full"
	PeriodRecent PeriodType = "recent"
)

// Strategy is the primary pipeline artifact.
type Strategy struct {
	ID                  string
	Name                string
	Category            Category
	BarInterval         Interval
	OptimalBarInterval  *Interval
	SourceText          string
	TemplateID          *string
	Parameters          map[string]float64
	BaseCodeHash        string
	Status              Status
	ProcessingBy        *string
	ProcessingStartedAt *time.Time
	ValidatedAt         *time.Time
	TestedAt            *time.Time
	SelectedAt          *time.Time
	LiveAt              *time.Time
	RetiredAt           *time.Time
	Symbols             []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LeaseExpired reports whether the claim on this row has expired by ttl.
func (s *Strategy) LeaseExpired(now time.Time, ttl time.Duration) bool {
	if s.ProcessingStartedAt == nil {
		return true
	}
	return now.After(s.ProcessingStartedAt.Add(ttl))
}

// Claimable reports whether the row is eligible for a new claim.
func (s *Strategy) Claimable(now time.Time, ttl time.Duration) bool {
	return s.ProcessingBy == nil || s.LeaseExpired(now, ttl)
}

// ValidationCacheEntry is a ValidationCache row keyed by base_code_hash.
type ValidationCacheEntry struct {
	CodeHash  string
	Passed    bool
	CheckedAt time.Time
}

// BacktestResult is a BacktestResult row.
type BacktestResult struct {
	ID                   string
	StrategyID           string
	PeriodType           PeriodType
	FullResultID         *string // set on 'recent' rows, references the paired 'full' row
	Interval             Interval
	IsOptimalInterval    bool
	Symbols              []string
	Sharpe               float64
	WinRate              float64
	Expectancy           float64
	MaxDrawdown          float64
	TradeCount           int
	TotalReturn          float64
	WalkForwardStability float64
	WeightedSharpe       float64
	WeightedWinRate      float64
	WeightedExpectancy   float64
	RecencyRatio         float64
	RecencyPenalty       float64
	Score                float64
	CreatedAt            time.Time
}

// TradeDirection mirrors the direction a Trade was opened in.
type TradeDirection string

const (
	TradeLong  TradeDirection = "long"
	TradeShort TradeDirection = "short"
)

// ExitReason records why a Trade was closed.
type ExitReason string

const (
	ExitReasonSignal     ExitReason = "signal"
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonTimeExit   ExitReason = "time_exit"
	ExitReasonEmergency  ExitReason = "emergency_stop"
	ExitReasonReconcile  ExitReason = "reconcile"
)

// Trade is an open or closed position.
type Trade struct {
	ID               string
	StrategyID       string
	SubaccountID     string
	Symbol           string
	Direction        TradeDirection
	EntryTime        time.Time
	EntryPrice       decimal.Decimal
	Size             decimal.Decimal
	Leverage         decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	TrailingStop     bool
	ExitTime         *time.Time
	ExitPrice        decimal.Decimal
	ExitReason       ExitReason
	RealizedPnL      decimal.Decimal
	RealizedPnLRatio decimal.Decimal
	EntryFee         decimal.Decimal
	ExitFee          decimal.Decimal
	VenueDedupeID    *string
}

func (t *Trade) Open() bool { return t.ExitTime == nil }

// SubaccountStatus is the lifecycle state of a capital bucket.
type SubaccountStatus string

const (
	SubaccountActive  SubaccountStatus = "ACTIVE"
	SubaccountPaused  SubaccountStatus = "PAUSED"
	SubaccountStopped SubaccountStatus = "STOPPED"
	SubaccountRetired SubaccountStatus = "RETIRED"
)

// Subaccount is a capital bucket bound to at most one live strategy.
type Subaccount struct {
	ID                string
	Status            SubaccountStatus
	StrategyID        *string
	AllocatedCapital  decimal.Decimal
	CurrentBalance    decimal.Decimal
	PeakBalance       decimal.Decimal
	PeakBalanceAt     time.Time
	DailyPnL          decimal.Decimal
	DailyPnLResetDate time.Time
}

// Scope is the unit at which an emergency stop applies.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeSubaccount Scope = "subaccount"
	ScopeStrategy   Scope = "strategy"
)

// StopAction is the action to perform when a scope is stopped.
type StopAction string

const (
	ActionPause          StopAction = "pause"
	ActionClosePositions StopAction = "close_positions"
)

// EmergencyStopState is keyed by (scope, scope_id).
type EmergencyStopState struct {
	Scope         Scope
	ScopeID       string
	IsStopped     bool
	Reason        string
	Action        StopAction
	StoppedAt     time.Time
	CooldownUntil time.Time
	ResetTrigger  *string
}

// EventType enumerates the StrategyEvent taxonomy used across roles.
type EventType string

const (
	EventCreated         EventType = "created"
	EventPhasePassed     EventType = "phase_passed"
	EventPhaseFailed     EventType = "phase_failed"
	EventCached          EventType = "cached"
	EventValidated       EventType = "validated"
	EventScored          EventType = "scored"
	EventEntered         EventType = "entered"
	EventArchived        EventType = "archived"
	EventRetired         EventType = "retired"
	EventDeploySucceeded EventType = "succeeded"
	EventDeployFailed    EventType = "failed"
	EventPromoted        EventType = "promoted"
	EventEmergencyStop   EventType = "emergency_stop"
	EventEmergencyReset  EventType = "emergency_reset"
)

// StrategyEvent is an append-only, denormalised audit row.
type StrategyEvent struct {
	ID           string
	Timestamp    time.Time
	StrategyID   *string
	StrategyName string
	BaseCodeHash *string
	EventType    EventType
	Stage        string
	Status       string
	Duration     *time.Duration
	Detail       map[string]string
}

// ScheduledTaskExecution is a per-run record for a periodic job.
type ScheduledTaskExecution struct {
	ID         string
	TaskName   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Succeeded  bool
	Detail     string
}

// PairsUpdateLog records a symbol-universe refresh run.
type PairsUpdateLog struct {
	ID        string
	RunAt     time.Time
	Added     []string
	Removed   []string
	Succeeded bool
}

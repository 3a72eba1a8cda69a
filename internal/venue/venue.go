// Package venue defines the Executor's external collaborators as Go
// interfaces: a pushed-stream market-data client and an order client. The
// pipeline reads only from the in-memory cache these interfaces populate;
// no HTTP call is permitted on the per-tick path.
package venue

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/shopspring/decimal"
)

// Mid is a single best-bid/best-offer midpoint update.
type Mid struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Candle is one completed OHLCV bar pushed for a subscribed (symbol, interval).
type Candle struct {
	Symbol                         string
	Interval                       types.Interval
	Open, High, Low, Close, Volume float64
	Time                           time.Time
}

// AccountState is a user-account snapshot (balances, positions).
type AccountState struct {
	SubaccountID string
	Balance      decimal.Decimal
	Positions    []Position
}

// Position is one open venue position as reported by the account stream.
type Position struct {
	Symbol string
	Size   decimal.Decimal
	Entry  decimal.Decimal
}

// MarketDataStream is the push client the Executor subscribes to at
// startup. Subscriptions deliver onto the returned channels until the
// context is cancelled or Close is called; the Executor owns draining and
// caching them, never re-requesting history mid-tick.
type MarketDataStream interface {
	SubscribeMids(ctx context.Context, symbols []string) (<-chan Mid, error)
	SubscribeCandles(ctx context.Context, symbol string, interval types.Interval) (<-chan Candle, error)
	SubscribeAccount(ctx context.Context, subaccountID string) (<-chan AccountState, error)
	// History bootstraps a candle cache over HTTP before subscribing,
	// the one permitted out-of-band call (spec §4.7.2/4.7.5).
	History(ctx context.Context, symbol string, interval types.Interval, bars int) (*strategy.Series, error)
	Close() error
}

// BracketOrder describes a bracketed entry order.
type BracketOrder struct {
	SubaccountID string
	Symbol       string
	Direction    types.TradeDirection
	Size         decimal.Decimal
	Leverage     decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
}

// OrderResult is the venue's acknowledgement of an order-placing call.
type OrderResult struct {
	VenueDedupeID string
	FillPrice     decimal.Decimal
	Fee           decimal.Decimal
}

// OrderClient places and manages orders at the venue. The dry-run flag
// (spec §6) is handed to NewSimulatedOrderClient; there is no wrapping
// OrderClient, and the Executor writes local Trade rows in either mode.
type OrderClient interface {
	SetIsolatedLeverage(ctx context.Context, subaccountID, symbol string, leverage decimal.Decimal) error
	PlaceBracketOrder(ctx context.Context, order BracketOrder) (*OrderResult, error)
	AdvanceTrailingStop(ctx context.Context, subaccountID, symbol string, newStop decimal.Decimal) error
	ClosePosition(ctx context.Context, subaccountID, symbol string) (*OrderResult, error)
	AccountBalance(ctx context.Context, subaccountID string) (decimal.Decimal, error)
	ListSubaccounts(ctx context.Context) ([]string, error)
}

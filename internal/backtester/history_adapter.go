package backtester

import (
	"context"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
)

// StreamHistorySource adapts a venue.MarketDataStream's bar-bounded
// History call to the Backtester's HistorySource interface, always
// requesting a fixed lookback window.
type StreamHistorySource struct {
	Stream venue.MarketDataStream
	Bars   int
}

// History satisfies HistorySource.
func (s StreamHistorySource) History(ctx context.Context, symbol string, interval types.Interval) (*strategy.Series, error) {
	return s.Stream.History(ctx, symbol, interval, s.Bars)
}

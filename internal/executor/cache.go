package executor

import (
	"sync"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/atlas-quant/strategy-pipeline/internal/venue"
	"github.com/shopspring/decimal"
)

// candleCache holds the in-memory OHLCV series for every subscribed
// (symbol, interval) pair; the per-tick path reads only from here, never
// over HTTP (spec §4.7.2's "reads only from the resulting in-memory cache").
type candleCache struct {
	mu     sync.RWMutex
	series map[cacheKey]*strategy.Series
}

type cacheKey struct {
	symbol   string
	interval types.Interval
}

func newCandleCache() *candleCache {
	return &candleCache{series: make(map[cacheKey]*strategy.Series)}
}

func (c *candleCache) seed(symbol string, interval types.Interval, series *strategy.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[cacheKey{symbol, interval}] = series
}

// append adds one completed candle to the cached series, dropping the
// oldest bar once the series exceeds a bounded retention window.
func (c *candleCache) append(symbol string, interval types.Interval, candle venue.Candle) {
	const maxBars = 2000
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{symbol, interval}
	s, ok := c.series[key]
	if !ok {
		s = strategy.NewSeries(0)
	}
	s.Time = append(s.Time, candle.Time)
	s.Open = append(s.Open, candle.Open)
	s.High = append(s.High, candle.High)
	s.Low = append(s.Low, candle.Low)
	s.Close = append(s.Close, candle.Close)
	s.Volume = append(s.Volume, candle.Volume)
	if s.Len() > maxBars {
		drop := s.Len() - maxBars
		s.Time = s.Time[drop:]
		s.Open = s.Open[drop:]
		s.High = s.High[drop:]
		s.Low = s.Low[drop:]
		s.Close = s.Close[drop:]
		s.Volume = s.Volume[drop:]
	}
	c.series[key] = s
}

func (c *candleCache) get(symbol string, interval types.Interval) *strategy.Series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series[cacheKey{symbol, interval}]
}

// indicatorCache keys precomputed indicator series by (strategy, symbol,
// interval, length) so repeated ticks skip recomputation until a new bar
// invalidates the cached length (spec §4.7.3).
type indicatorCache struct {
	mu      sync.Mutex
	entries map[indicatorKey]*strategy.Series
	lengths map[cacheKey]int
}

type indicatorKey struct {
	strategyID string
	symbol     string
	interval   types.Interval
	length     int
}

func newIndicatorCache() *indicatorCache {
	return &indicatorCache{
		entries: make(map[indicatorKey]*strategy.Series),
		lengths: make(map[cacheKey]int),
	}
}

// invalidate marks a (symbol, interval) pair as having grown, so the next
// getOrCompute call for a strategy on that pair recomputes.
func (ic *indicatorCache) invalidate(symbol string, interval types.Interval) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.lengths, cacheKey{symbol, interval})
}

// getOrCompute returns the cached precomputed series for (strategyID,
// symbol, interval) if it already reflects raw's current length, else
// recomputes via compute and caches the result.
func (ic *indicatorCache) getOrCompute(strategyID, symbol string, interval types.Interval, raw *strategy.Series, compute func(*strategy.Series) *strategy.Series) *strategy.Series {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ck := cacheKey{symbol, interval}
	key := indicatorKey{strategyID, symbol, interval, raw.Len()}
	if cached, ok := ic.entries[key]; ok && ic.lengths[ck] == raw.Len() {
		return cached
	}
	computed := compute(raw)
	ic.entries[key] = computed
	ic.lengths[ck] = raw.Len()
	return computed
}

// priceCache holds the latest best-bid/best-offer midpoint per symbol.
type priceCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func newPriceCache() *priceCache {
	return &priceCache{prices: make(map[string]decimal.Decimal)}
}

func (p *priceCache) set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *priceCache) get(symbol string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok
}

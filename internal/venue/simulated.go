package venue

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatedStream is an in-process MarketDataStream with no wire protocol:
// it generates a deterministic seeded random walk per symbol, standing in
// for the pushed-stream client named in spec §6.
type SimulatedStream struct {
	mu      sync.Mutex
	rng     map[string]*rand.Rand
	closed  chan struct{}
	once    sync.Once
	tickDur time.Duration
}

// NewSimulatedStream builds a stream that emits a tick every tickDur.
func NewSimulatedStream(tickDur time.Duration) *SimulatedStream {
	return &SimulatedStream{rng: make(map[string]*rand.Rand), closed: make(chan struct{}), tickDur: tickDur}
}

func (s *SimulatedStream) rngFor(symbol string) *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rng[symbol]
	if !ok {
		seed := int64(0)
		for _, c := range symbol {
			seed = seed*31 + int64(c)
		}
		r = rand.New(rand.NewSource(seed))
		s.rng[symbol] = r
	}
	return r
}

// SubscribeMids emits a synthetic midpoint for every symbol on each tick.
func (s *SimulatedStream) SubscribeMids(ctx context.Context, symbols []string) (<-chan Mid, error) {
	out := make(chan Mid, len(symbols)*4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.tickDur)
		defer ticker.Stop()
		prices := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			prices[sym] = 100
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-ticker.C:
				for _, sym := range symbols {
					r := s.rngFor(sym)
					prices[sym] *= 1 + (r.Float64()-0.5)*0.002
					select {
					case out <- Mid{Symbol: sym, Price: decimal.NewFromFloat(prices[sym]), At: time.Now()}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// SubscribeCandles emits one completed synthetic candle per interval tick.
func (s *SimulatedStream) SubscribeCandles(ctx context.Context, symbol string, interval types.Interval) (<-chan Candle, error) {
	out := make(chan Candle, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.tickDur)
		defer ticker.Stop()
		r := s.rngFor(symbol + string(interval))
		price := 100.0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-ticker.C:
				open := price
				price *= 1 + (r.Float64()-0.5)*0.004
				high := math.Max(open, price) * (1 + r.Float64()*0.001)
				low := math.Min(open, price) * (1 - r.Float64()*0.001)
				c := Candle{Symbol: symbol, Interval: interval, Open: open, High: high, Low: low, Close: price,
					Volume: 1000 + r.Float64()*500, Time: time.Now()}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SubscribeAccount emits one zero-position snapshot and then closes the
// channel; the Executor owns all balance bookkeeping via the store, not
// this stream.
func (s *SimulatedStream) SubscribeAccount(ctx context.Context, subaccountID string) (<-chan AccountState, error) {
	out := make(chan AccountState, 2)
	go func() {
		defer close(out)
		select {
		case out <- AccountState{SubaccountID: subaccountID}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// History synthesizes a deterministic OHLCV window, the one permitted
// out-of-band call used to bootstrap the candle cache before subscribing.
func (s *SimulatedStream) History(ctx context.Context, symbol string, interval types.Interval, bars int) (*strategy.Series, error) {
	r := s.rngFor(symbol + string(interval) + "-history")
	series := strategy.NewSeries(bars)
	price := 100.0
	now := time.Now()
	barDur := intervalDuration(interval)
	for i := 0; i < bars; i++ {
		open := price
		price *= 1 + (r.Float64()-0.5)*0.004
		series.Open[i] = open
		series.Close[i] = price
		series.High[i] = math.Max(open, price) * (1 + r.Float64()*0.001)
		series.Low[i] = math.Min(open, price) * (1 - r.Float64()*0.001)
		series.Volume[i] = 1000 + r.Float64()*500
		series.Time[i] = now.Add(-time.Duration(bars-i) * barDur)
	}
	return series, nil
}

// Close stops every outstanding subscription goroutine.
func (s *SimulatedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func intervalDuration(interval types.Interval) time.Duration {
	switch interval {
	case types.Interval1m:
		return time.Minute
	case types.Interval3m:
		return 3 * time.Minute
	case types.Interval5m:
		return 5 * time.Minute
	case types.Interval15m:
		return 15 * time.Minute
	case types.Interval30m:
		return 30 * time.Minute
	case types.Interval1h:
		return time.Hour
	case types.Interval2h:
		return 2 * time.Hour
	case types.Interval4h:
		return 4 * time.Hour
	case types.Interval6h:
		return 6 * time.Hour
	case types.Interval8h:
		return 8 * time.Hour
	case types.Interval12h:
		return 12 * time.Hour
	case types.Interval1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// SimulatedOrderClient fills every order immediately at a nominal price and
// always succeeds. The dryRun flag is stored but does not change its
// behaviour; the Executor writes local Trade rows in either mode.
type SimulatedOrderClient struct {
	dryRun bool
}

// NewSimulatedOrderClient builds an order client in dry-run or live-sim mode.
func NewSimulatedOrderClient(dryRun bool) *SimulatedOrderClient {
	return &SimulatedOrderClient{dryRun: dryRun}
}

func (c *SimulatedOrderClient) SetIsolatedLeverage(ctx context.Context, subaccountID, symbol string, leverage decimal.Decimal) error {
	return nil
}

func (c *SimulatedOrderClient) PlaceBracketOrder(ctx context.Context, order BracketOrder) (*OrderResult, error) {
	return &OrderResult{
		VenueDedupeID: uuid.NewString(),
		FillPrice:     decimal.NewFromFloat(100),
		Fee:           order.Size.Mul(decimal.NewFromFloat(0.0004)),
	}, nil
}

func (c *SimulatedOrderClient) AdvanceTrailingStop(ctx context.Context, subaccountID, symbol string, newStop decimal.Decimal) error {
	return nil
}

func (c *SimulatedOrderClient) ClosePosition(ctx context.Context, subaccountID, symbol string) (*OrderResult, error) {
	return &OrderResult{VenueDedupeID: uuid.NewString(), FillPrice: decimal.NewFromFloat(100)}, nil
}

// AccountBalance reports a fixed nominal balance: the simulated venue has
// no independent ledger, so startup reconciliation always observes the
// same figure rather than a live exchange balance.
func (c *SimulatedOrderClient) AccountBalance(ctx context.Context, subaccountID string) (decimal.Decimal, error) {
	return decimal.NewFromFloat(1000), nil
}

func (c *SimulatedOrderClient) ListSubaccounts(ctx context.Context) ([]string, error) {
	return nil, nil
}

// SimulatedVolumeSource implements coinregistry.VolumeSource over a fixed
// candidate universe, deriving a deterministic synthetic 24h volume and
// recent-closes series per symbol the same way SimulatedStream does.
type SimulatedVolumeSource struct {
	Universe []string
	stream   *SimulatedStream
}

// NewSimulatedVolumeSource builds a volume source over universe, backed by
// its own SimulatedStream instance for deterministic per-symbol series.
func NewSimulatedVolumeSource(universe []string) *SimulatedVolumeSource {
	return &SimulatedVolumeSource{Universe: universe, stream: NewSimulatedStream(time.Second)}
}

func (v *SimulatedVolumeSource) Top24hVolume(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(v.Universe))
	for _, sym := range v.Universe {
		r := v.stream.rngFor(sym + "-volume")
		out[sym] = 1_000_000 + r.Float64()*9_000_000
	}
	return out, nil
}

func (v *SimulatedVolumeSource) RecentCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	series, err := v.stream.History(ctx, symbol, types.Interval1h, n)
	if err != nil {
		return nil, err
	}
	return series.Close, nil
}

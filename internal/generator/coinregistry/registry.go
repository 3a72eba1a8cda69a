// Package coinregistry is the Generator's symbol-selection registry: top-N
// symbols by 24h volume, optionally conditioned by market regime, plus a
// per-source round-robin direction rotation recovered from the original's
// src/generator/coin_direction_selector.py.
package coinregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/generator/regime"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// VolumeSource supplies the 24h-volume universe the registry ranks.
type VolumeSource interface {
	Top24hVolume(ctx context.Context) (map[string]float64, error)
	RecentCloses(ctx context.Context, symbol string, n int) ([]float64, error)
}

// Registry caches the ranked symbol universe and refreshes it on a TTL,
// modelling the source's five-minute in-process cache as an explicit
// "refresh if older than TTL" check per spec §9's design note on global
// singletons.
type Registry struct {
	mu          sync.Mutex
	source      VolumeSource
	detector    *regime.Detector
	ttl         time.Duration
	topN        int
	lastRefresh time.Time
	ranked      []string

	rotMu    sync.Mutex
	rotation map[string]int // source-family prefix -> rotation cursor

	regimeMu    sync.Mutex
	regimeCache map[string]regime.Regime
}

// New builds a Registry backed by source, refreshing at most every ttl and
// keeping the top n symbols by volume.
func New(source VolumeSource, ttl time.Duration, topN int) *Registry {
	return &Registry{
		source:      source,
		detector:    regime.NewDetector(),
		ttl:         ttl,
		topN:        topN,
		rotation:    make(map[string]int),
		regimeCache: make(map[string]regime.Regime),
	}
}

// RefreshRegimes recomputes and caches the regime classification for each
// of symbols, used by the scheduled regime-refresh job to keep
// ConditionByRegime's lookups warm between Generator runs.
func (r *Registry) RefreshRegimes(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		closes, err := r.source.RecentCloses(ctx, s, 50)
		if err != nil || len(closes) == 0 {
			continue
		}
		classified := r.detector.Classify(closes)
		r.regimeMu.Lock()
		r.regimeCache[s] = classified
		r.regimeMu.Unlock()
	}
}

// TopSymbols returns the current top-N ranked universe, refreshing if the
// cache is older than ttl.
func (r *Registry) TopSymbols(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastRefresh) < r.ttl && len(r.ranked) > 0 {
		return append([]string(nil), r.ranked...), nil
	}
	volumes, err := r.source.Top24hVolume(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(volumes))
	for s := range volumes {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool { return volumes[symbols[i]] > volumes[symbols[j]] })
	if len(symbols) > r.topN {
		symbols = symbols[:r.topN]
	}
	r.ranked = symbols
	r.lastRefresh = time.Now()
	return append([]string(nil), r.ranked...), nil
}

// ForceRefresh expires the cached ranking so the next TopSymbols call
// re-fetches volumes, used by the scheduled symbol-universe refresh job
// rather than waiting out the TTL.
func (r *Registry) ForceRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRefresh = time.Time{}
}

// ConditionByRegime filters symbols down to those matching want, falling
// back to the full candidate set if none match (a regime filter should
// narrow the field, never starve the Generator of candidates).
func (r *Registry) ConditionByRegime(ctx context.Context, symbols []string, want regime.Regime) []string {
	var matched []string
	for _, s := range symbols {
		r.regimeMu.Lock()
		cached, ok := r.regimeCache[s]
		r.regimeMu.Unlock()
		if ok {
			if cached == want {
				matched = append(matched, s)
			}
			continue
		}
		closes, err := r.source.RecentCloses(ctx, s, 50)
		if err != nil || len(closes) == 0 {
			continue
		}
		classified := r.detector.Classify(closes)
		r.regimeMu.Lock()
		r.regimeCache[s] = classified
		r.regimeMu.Unlock()
		if classified == want {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return symbols
	}
	return matched
}

// NextDirection rotates long -> short -> bidi for sourcePrefix, preventing
// long-bias accumulation across a sub-source's emitted candidates.
func (r *Registry) NextDirection(sourcePrefix string) types.Direction {
	order := []types.Direction{types.DirectionLong, types.DirectionShort, types.DirectionBidi}
	r.rotMu.Lock()
	defer r.rotMu.Unlock()
	idx := r.rotation[sourcePrefix] % len(order)
	r.rotation[sourcePrefix] = r.rotation[sourcePrefix] + 1
	return order[idx]
}

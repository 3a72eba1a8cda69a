package validator

import (
	"math"
	"math/rand"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
)

// SyntheticSeries builds deterministic synthetic OHLCV data (seeded, so
// repeated validator runs on the same candidate see the same bars) for the
// smoke test and shuffle test phases.
func SyntheticSeries(n int, seed int64) *strategy.Series {
	r := rand.New(rand.NewSource(seed))
	s := strategy.NewSeries(n)
	price := 100.0
	t := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		drift := math.Sin(float64(i)/20) * 0.5
		noise := r.NormFloat64() * 0.8
		price += drift + noise
		if price < 1 {
			price = 1
		}
		high := price + r.Float64()*0.5
		low := price - r.Float64()*0.5
		if low < 0.1 {
			low = 0.1
		}
		s.Time[i] = t.Add(time.Duration(i) * time.Hour)
		s.Open[i] = price
		s.High[i] = high
		s.Low[i] = low
		s.Close[i] = price
		s.Volume[i] = 1000 + r.Float64()*500
	}
	return s
}

// Shuffled returns a copy of series with bar order randomly permuted
// (Fisher-Yates), used by the robustness test to compare outcome
// distributions against the unshuffled series.
func Shuffled(series *strategy.Series, seed int64) *strategy.Series {
	n := series.Len()
	out := strategy.NewSeries(n)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	for dst, src := range perm {
		out.Time[dst] = series.Time[src]
		out.Open[dst] = series.Open[src]
		out.High[dst] = series.High[src]
		out.Low[dst] = series.Low[src]
		out.Close[dst] = series.Close[src]
		out.Volume[dst] = series.Volume[src]
	}
	return out
}

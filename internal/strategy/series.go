// Package strategy defines the two-phase strategy contract: a pure
// precompute_indicators step over the full series, and a per-bar
// generate_signal step that may only see a prefix of the series.
package strategy

import "time"

// Series is a columnar OHLCV frame with named indicator columns appended
// by precompute. All columns are the same length, indexed in parallel with
// Time.
type Series struct {
	Time   []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64

	columns map[string][]float64
	order   []string
}

// NewSeries builds an empty series with the given capacity.
func NewSeries(n int) *Series {
	return &Series{
		Time:    make([]time.Time, n),
		Open:    make([]float64, n),
		High:    make([]float64, n),
		Low:     make([]float64, n),
		Close:   make([]float64, n),
		Volume:  make([]float64, n),
		columns: make(map[string][]float64),
	}
}

// Len reports the number of bars.
func (s *Series) Len() int { return len(s.Close) }

// SetColumn assigns an indicator column by name. col must have the same
// length as the series; precompute_indicators is prefix-preserving, so
// earlier-than-ready values should be NaN rather than omitted.
func (s *Series) SetColumn(name string, col []float64) {
	if _, exists := s.columns[name]; !exists {
		s.order = append(s.order, name)
	}
	s.columns[name] = col
}

// Column returns a named indicator column, or nil if absent.
func (s *Series) Column(name string) []float64 { return s.columns[name] }

// ColumnNames returns the indicator columns in the order they were set.
func (s *Series) ColumnNames() []string { return append([]string(nil), s.order...) }

// PrefixView is a read-only cursor over a Series that exposes only indices
// up to a movable "last visible index". It is the Go equivalent of the
// source language's cursor objects that pretend to be a truncated series:
// random future access is rejected by construction, not by convention.
type PrefixView struct {
	series *Series
	last   int // inclusive index of the last visible bar
}

// NewPrefixView builds a view over series truncated at lastVisible
// (inclusive). lastVisible must be within [0, series.Len()-1].
func NewPrefixView(series *Series, lastVisible int) *PrefixView {
	if lastVisible < 0 {
		lastVisible = 0
	}
	if lastVisible >= series.Len() {
		lastVisible = series.Len() - 1
	}
	return &PrefixView{series: series, last: lastVisible}
}

// Advance moves the visible frontier forward by one bar, returning false if
// already at the end of the underlying series.
func (v *PrefixView) Advance() bool {
	if v.last+1 >= v.series.Len() {
		return false
	}
	v.last++
	return true
}

// Len reports the number of bars currently visible (last+1).
func (v *PrefixView) Len() int { return v.last + 1 }

// At returns the close price at offset bars before the last visible bar
// (0 = current bar), or (0, false) if that offset would reach before the
// start of the series or past the visible frontier.
func (v *PrefixView) At(offsetFromEnd int) (float64, bool) {
	idx := v.last - offsetFromEnd
	if idx < 0 || idx > v.last {
		return 0, false
	}
	return v.series.Close[idx], true
}

// Last returns the most recent visible bar's OHLCV.
func (v *PrefixView) Last() (open, high, low, close, volume float64, t time.Time) {
	i := v.last
	return v.series.Open[i], v.series.High[i], v.series.Low[i], v.series.Close[i], v.series.Volume[i], v.series.Time[i]
}

// Column returns the visible prefix (index 0..last inclusive) of a named
// indicator column. It never exposes values beyond the frontier.
func (v *PrefixView) Column(name string) []float64 {
	col := v.series.Column(name)
	if col == nil {
		return nil
	}
	end := v.last + 1
	if end > len(col) {
		end = len(col)
	}
	return col[:end]
}

// ColumnLast returns the most recent visible value of a named column.
func (v *PrefixView) ColumnLast(name string) (float64, bool) {
	col := v.Column(name)
	if len(col) == 0 {
		return 0, false
	}
	return col[len(col)-1], true
}

// ColumnTail returns the last n visible values of a named column (fewer if
// the visible prefix is shorter), matching iloc[-N:] style access.
func (v *PrefixView) ColumnTail(name string, n int) []float64 {
	col := v.Column(name)
	if len(col) <= n {
		return col
	}
	return col[len(col)-n:]
}

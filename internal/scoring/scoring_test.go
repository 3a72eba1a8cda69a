package scoring_test

import (
	"testing"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/scoring"
	"github.com/stretchr/testify/assert"
)

func TestWeighted(t *testing.T) {
	w := config.ScoreWeights{Expectancy: 0.35, Sharpe: 0.3, WinRate: 0.15, WalkForward: 0.2}
	m := scoring.Metrics{Expectancy: 1.0, Sharpe: 2.0, WinRate: 0.6, WalkForwardStability: 0.8}

	got := scoring.Weighted(m, w)
	want := 0.35*1.0 + 0.3*2.0 + 0.15*0.6 + 0.2*0.8
	assert.InDelta(t, want, got, 1e-9)
}

func TestRecencyPenalty(t *testing.T) {
	tests := []struct {
		name         string
		recencyRatio float64
		maxPenalty   float64
		want         float64
	}{
		{"ratio at parity applies nothing", 1.0, 0.2, 0},
		{"ratio above parity applies nothing", 1.5, 0.2, 0},
		{"ratio below parity scales linearly", 0.8, 0.5, 0.2},
		{"penalty capped at max", 0.1, 0.2, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoring.RecencyPenalty(tt.recencyRatio, tt.maxPenalty)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestApplyRecencyPenalty(t *testing.T) {
	got := scoring.ApplyRecencyPenalty(10.0, 0.25)
	assert.InDelta(t, 7.5, got, 1e-9)
}

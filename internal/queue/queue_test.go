package queue_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
	"github.com/atlas-quant/strategy-pipeline/internal/queue"
	"github.com/stretchr/testify/assert"
)

func backpressure() config.Backpressure {
	return config.Backpressure{
		SoftLimit: 100,
		Base:      5 * time.Second,
		Increment: 2 * time.Second,
		Max:       30 * time.Second,
	}
}

func TestCooldownAtOrBelowLimit(t *testing.T) {
	bp := backpressure()
	assert.Equal(t, bp.Base, queue.Cooldown(50, bp))
	assert.Equal(t, bp.Base, queue.Cooldown(100, bp))
}

func TestCooldownGrowsLinearly(t *testing.T) {
	bp := backpressure()
	assert.Equal(t, bp.Base+10*bp.Increment, queue.Cooldown(110, bp))
}

func TestCooldownSaturatesAtMax(t *testing.T) {
	bp := backpressure()
	assert.Equal(t, bp.Max, queue.Cooldown(1000, bp))
}

func TestOvershootForMax(t *testing.T) {
	bp := backpressure()
	overshoot := queue.OvershootForMax(bp)
	assert.Equal(t, bp.Max, queue.Cooldown(bp.SoftLimit+overshoot, bp))
	assert.Less(t, queue.Cooldown(bp.SoftLimit+overshoot-1, bp), bp.Max)
}

func TestOvershootForMaxZeroIncrement(t *testing.T) {
	bp := backpressure()
	bp.Increment = 0
	assert.Equal(t, 0, queue.OvershootForMax(bp))
}

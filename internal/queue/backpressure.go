// Package queue implements the cross-stage claim/lease protocol and the
// adaptive backpressure cool-down shared by every emitting role.
package queue

import (
	"math"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/config"
)

// Cooldown computes cooldown = clamp(B + k*(depth-limit), B, M). depth at
// or below limit yields the base cool-down; overshoot grows it linearly up
// to the configured max.
func Cooldown(depth int, bp config.Backpressure) time.Duration {
	overshoot := depth - bp.SoftLimit
	if overshoot <= 0 {
		return bp.Base
	}
	grown := bp.Base + time.Duration(overshoot)*bp.Increment
	if grown > bp.Max {
		return bp.Max
	}
	return grown
}

// OvershootForMax returns the smallest non-negative overshoot (depth -
// limit) at which Cooldown saturates at bp.Max, i.e. ceil((M-B)/k).
func OvershootForMax(bp config.Backpressure) int {
	if bp.Increment <= 0 {
		return 0
	}
	if bp.Max <= bp.Base {
		return 0
	}
	return int(math.Ceil(float64(bp.Max-bp.Base) / float64(bp.Increment)))
}

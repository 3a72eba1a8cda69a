package queue

import (
	"context"
	"time"
)

// Claimer is satisfied by any stage-specific repository that can perform
// the atomic claim described in the pipeline queue protocol: select one row
// in the ready state whose lease is free or expired, and mark it claimed,
// all inside a single serialisable transaction.
type Claimer[T any] interface {
	ClaimNext(ctx context.Context, workerID string, ttl time.Duration) (T, bool, error)
}

// Releaser clears a row's lease without advancing its status, used after a
// transient failure so another worker may retry it.
type Releaser interface {
	ReleaseLease(ctx context.Context, id string) error
}

// DepthCounter reports the number of ready rows waiting in a stage, used by
// the backpressure check against the downstream queue.
type DepthCounter interface {
	QueueDepth(ctx context.Context) (int, error)
}

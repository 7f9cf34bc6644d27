package cache

import (
	"context"

	"github.com/durablehq/go-durable/core"
	"github.com/durablehq/go-durable/replay"
)

// Factory builds a new Decider for a run from scratch, typically by fetching
// the run's full history and replaying it. It is invoked on a cache miss and
// may block, that is intentional backpressure on the calling poller.
type Factory func(ctx context.Context) (replay.Decider, error)

// ReleaseFunc unpins a Decider borrowed from the cache. It must be called
// exactly once when the caller is done with the Decider, typically via
// defer. An entry evicted while borrowed is closed by the final release.
type ReleaseFunc func()

// Cache holds the sticky replay state of workflow runs, keyed by run
// identity. At most one live Decider exists per run.
type Cache interface {
	// GetOrCreate returns the cached Decider for the run, building one via
	// factory on a miss. Only one factory invocation is in flight per run
	// at a time, concurrent callers wait for and share its result. The
	// returned Decider is pinned until the ReleaseFunc is called, it will
	// not be closed by eviction while pinned.
	//
	// A factory error leaves no trace in the cache, the next call for the
	// same run invokes its factory again.
	GetOrCreate(ctx context.Context, run *core.WorkflowRun, factory Factory) (replay.Decider, ReleaseFunc, error)

	// Invalidate evicts and closes the entry for the run, if present. Used
	// when a run reaches a terminal decision or the server reports it gone.
	Invalidate(ctx context.Context, run *core.WorkflowRun) error

	// Size returns the current number of resident entries.
	Size() int

	// StartEviction runs background eviction until the context is canceled.
	// Implementations without background work return immediately.
	StartEviction(ctx context.Context)
}

func getKey(run *core.WorkflowRun) string {
	return run.String()
}

func deciderCost(d replay.Decider) int {
	if ce, ok := d.(replay.CostEstimator); ok {
		if c := ce.Cost(); c > 0 {
			return c
		}
	}

	return 1
}

package replay

import (
	"context"

	"github.com/durablehq/go-durable/service"
)

// Decider is the per-run deterministic replay engine. One live Decider holds
// the in-memory replay state (coroutine stacks, local bindings, timers) of a
// single workflow run. Implementations are supplied by the embedding
// workflow engine, the dispatch and cache layers treat them opaquely.
type Decider interface {
	// Decide advances the run with one decision task and returns the
	// decisions to send back to the server. Returns a
	// *NonDeterministicError when the task's history is inconsistent with
	// the cached replay state; other errors are considered transient.
	Decide(ctx context.Context, task *service.DecisionTask) (*DecisionResult, error)

	// Query answers a point-in-time query against the current replay state.
	// It must not produce decisions or other server-visible side effects.
	Query(ctx context.Context, task *service.DecisionTask, query *service.WorkflowQuery) (service.Payload, error)

	// Close releases all resources held by the replay state. Idempotent.
	Close()
}

// CostEstimator is optionally implemented by Deciders to report the resource
// cost they occupy while cached (for example the number of blocked workflow
// coroutines). Deciders without it count as cost 1.
type CostEstimator interface {
	Cost() int
}

// DecisionResult is the outcome of replaying one decision task.
type DecisionResult struct {
	// Decisions to send to the server, applied in order.
	Decisions []*service.Decision

	// QueryResults answers the queries delivered with the task, keyed by
	// query ID.
	QueryResults map[string]*service.QueryResult

	// ForceCreateNewDecisionTask requests an immediate follow-up decision
	// task for this run, for example when local activities are unresolved.
	ForceCreateNewDecisionTask bool

	// FinalDecision is true when one of the decisions completes, fails, or
	// cancels the workflow. The run's cached state can be dropped after
	// this task.
	FinalDecision bool
}

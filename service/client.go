package service

import (
	"context"

	"github.com/durablehq/go-durable/metrics"
)

// Client is the subset of the orchestration service RPC surface the dispatch
// layer depends on. The wire protocol and retries live behind this interface.
type Client interface {
	// PollDecisionTask long-polls for the next decision task on the given
	// task queues. Returns nil when the poll times out without a task.
	PollDecisionTask(ctx context.Context, taskQueues []string, opts ...CallOption) (*DecisionTask, error)

	// RespondDecisionTaskCompleted acknowledges a decision task with the
	// decisions produced by replay.
	RespondDecisionTaskCompleted(ctx context.Context, req *RespondDecisionTaskCompletedRequest, opts ...CallOption) error

	// RespondDecisionTaskFailed reports that a decision task could not be
	// completed. Not retried by callers in this module.
	RespondDecisionTaskFailed(ctx context.Context, req *RespondDecisionTaskFailedRequest, opts ...CallOption) error

	// RespondQueryTaskCompleted answers a query-only decision task.
	RespondQueryTaskCompleted(ctx context.Context, req *RespondQueryTaskCompletedRequest, opts ...CallOption) error
}

// CallOption modifies a single service call.
type CallOption interface {
	applyCallOption(*CallOptions)
}

// CallOptions is the resolved set of per-call options. Client
// implementations read it via ResolveCallOptions.
type CallOptions struct {
	// MetricsTags are attached to the request metrics emitted by the client
	// implementation.
	MetricsTags metrics.Tags
}

type callOptionFunc func(*CallOptions)

func (f callOptionFunc) applyCallOption(o *CallOptions) {
	f(o)
}

// WithMetricsTags tags the metrics emitted for this call.
func WithMetricsTags(tags metrics.Tags) CallOption {
	return callOptionFunc(func(o *CallOptions) {
		o.MetricsTags = tags
	})
}

// ResolveCallOptions collapses opts into a CallOptions value.
func ResolveCallOptions(opts ...CallOption) *CallOptions {
	o := &CallOptions{}
	for _, opt := range opts {
		opt.applyCallOption(o)
	}

	return o
}

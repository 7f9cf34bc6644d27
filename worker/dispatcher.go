package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/durablehq/go-durable/internal/log"
	"github.com/durablehq/go-durable/internal/metrickeys"
	im "github.com/durablehq/go-durable/internal/metrics"
	"github.com/durablehq/go-durable/metrics"
	"github.com/durablehq/go-durable/service"
)

// ErrDispatcherShutdown is returned by Process after Shutdown. The caller
// must stop feeding tasks, retrying locally cannot succeed.
var ErrDispatcherShutdown = errors.New("dispatcher is shut down")

// State of a Dispatcher. The transition is one-way.
type State int32

const (
	StateRunning State = iota
	StateShutdown
)

// Subscriber receives every decision task polled for one task queue. It is
// expected to enqueue or execute asynchronously, Process does not wait for
// replay to finish.
type Subscriber func(task *service.DecisionTask)

// Dispatcher routes polled decision tasks to the subscriber registered for
// their task queue. Tasks for queues without a subscriber are failed back to
// the server with a reset-sticky-task-queue cause so the server stops
// routing the run to a queue nobody listens on, for example after a worker
// restart lost its in-memory state.
type Dispatcher struct {
	service service.Client
	mc      metrics.Client
	tracer  trace.Tracer
	logger  *slog.Logger

	// errorSink receives errors with no remaining recovery path, such as a
	// failed attempt to report an unrouted task.
	errorSink func(error)

	mu          sync.RWMutex
	subscribers map[string]Subscriber

	state atomic.Int32
}

type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used by the dispatcher.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics client used by the dispatcher.
func WithMetrics(mc metrics.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.mc = mc
	}
}

// WithTracer sets the tracer used for per-task dispatch spans.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithErrorSink replaces the handler for errors that have no recovery path.
// The default logs and continues.
func WithErrorSink(sink func(error)) DispatcherOption {
	return func(d *Dispatcher) {
		if sink != nil {
			d.errorSink = sink
		}
	}
}

func NewDispatcher(svc service.Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		service:     svc,
		mc:          im.NewNoopMetricsClient(),
		tracer:      noop.NewTracerProvider().Tracer("go-durable"),
		logger:      slog.Default(),
		subscribers: map[string]Subscriber{},
	}

	d.errorSink = func(err error) {
		d.logger.Error("uncaught dispatcher error", "error", err)
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers handler for all future decision tasks on the given
// task queue. The last registration for a queue wins.
func (d *Dispatcher) Subscribe(taskQueue string, handler Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscribers[taskQueue] = handler
}

// Process routes one polled decision task. Unrouted tasks are failed back to
// the server rather than surfaced to the caller, only a shutdown dispatcher
// rejects tasks.
func (d *Dispatcher) Process(ctx context.Context, task *service.DecisionTask) error {
	if d.State() == StateShutdown {
		return ErrDispatcherShutdown
	}

	ctx, span := d.tracer.Start(ctx, "DispatchDecisionTask", trace.WithAttributes(
		attribute.String(log.TaskQueueKey, task.TaskQueue),
	))
	defer span.End()

	d.mu.RLock()
	handler, ok := d.subscribers[task.TaskQueue]
	d.mu.RUnlock()

	if ok {
		d.mc.Counter(metrickeys.DecisionTaskDispatched, metrics.Tags{metrickeys.TaskQueue: task.TaskQueue}, 1)

		handler(task)

		return nil
	}

	d.mc.Counter(metrickeys.DecisionTaskUnrouted, metrics.Tags{metrickeys.TaskQueue: task.TaskQueue}, 1)

	err := fmt.Errorf("no handler is subscribed for task queue %q", task.TaskQueue)
	d.logger.WarnContext(ctx, "received decision task for unsubscribed task queue",
		slog.String(log.TaskQueueKey, task.TaskQueue))

	req := &service.RespondDecisionTaskFailedRequest{
		TaskToken: task.TaskToken,
		Cause:     service.FailedCauseResetStickyTaskQueue,
		Failure:   service.ConvertError(err),
	}

	if rerr := d.service.RespondDecisionTaskFailed(ctx, req, service.WithMetricsTags(
		metrics.Tags{metrickeys.TaskQueue: task.TaskQueue},
	)); rerr != nil {
		// No further recovery is possible here, hand the error to the sink
		// instead of blocking the poll loop.
		d.errorSink(fmt.Errorf("reporting unrouted decision task: %w", rerr))
	}

	return nil
}

// Shutdown stops the dispatcher. Idempotent. In-flight Process calls are not
// interrupted, draining is the subscribers' responsibility.
func (d *Dispatcher) Shutdown() {
	d.state.Store(int32(StateShutdown))
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// WaitForCompletion returns immediately, the dispatcher has no background
// work of its own.
func (d *Dispatcher) WaitForCompletion() error {
	return nil
}

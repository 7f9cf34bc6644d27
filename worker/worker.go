package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/durablehq/go-durable/internal/log"
	"github.com/durablehq/go-durable/internal/metrickeys"
	im "github.com/durablehq/go-durable/internal/metrics"
	"github.com/durablehq/go-durable/metrics"
	"github.com/durablehq/go-durable/replay"
	"github.com/durablehq/go-durable/replay/cache"
	"github.com/durablehq/go-durable/service"
)

// DeciderFactory builds the replay engine for a run when its sticky state is
// not cached. The build typically fetches the run's full history, it may
// block.
type DeciderFactory func(ctx context.Context, task *service.DecisionTask) (replay.Decider, error)

// DecisionWorker polls decision tasks for a set of task queues, routes them
// through a Dispatcher, and executes them against cached replay state.
type DecisionWorker struct {
	svc        service.Client
	dispatcher *Dispatcher
	cache      cache.Cache
	factory    DeciderFactory
	queues     []string

	options *Options

	logger *slog.Logger
	mc     metrics.Client
	tracer trace.Tracer

	wq *workQueue

	pollersWg sync.WaitGroup
	tasksDone chan struct{}
}

// NewDecisionWorker creates a worker listening on the given task queues. The
// worker shares the dispatcher's logger, metrics client and tracer.
func NewDecisionWorker(svc service.Client, dispatcher *Dispatcher, factory DeciderFactory, queues []string, options *Options) (*DecisionWorker, error) {
	if options == nil {
		options = &DefaultOptions
	}

	c := options.StickyCache
	if c == nil {
		lc, err := cache.NewLRU(dispatcher.mc, options.StickyCacheSize, options.StickyCacheCostCeiling)
		if err != nil {
			return nil, fmt.Errorf("creating sticky cache: %w", err)
		}

		c = lc
	}

	return &DecisionWorker{
		svc:        svc,
		dispatcher: dispatcher,
		cache:      c,
		factory:    factory,
		queues:     queues,

		options: options,

		logger: dispatcher.logger,
		mc:     dispatcher.mc,
		tracer: dispatcher.tracer,

		wq: newWorkQueue(options.MaxParallelDecisionTasks),

		tasksDone: make(chan struct{}, 1),
	}, nil
}

// Cache returns the sticky execution cache used by this worker.
func (w *DecisionWorker) Cache() cache.Cache {
	return w.cache
}

// Start subscribes the worker's pipeline for its task queues and begins
// polling. Cancel the context to stop, then call WaitForCompletion.
func (w *DecisionWorker) Start(ctx context.Context) error {
	for _, q := range w.queues {
		w.dispatcher.Subscribe(q, func(task *service.DecisionTask) {
			if err := w.wq.add(ctx, task); err != nil {
				w.logger.ErrorContext(ctx, "could not enqueue decision task", "error", err)
			}
		})
	}

	go w.cache.StartEviction(ctx)

	w.pollersWg.Add(w.options.Pollers)
	for i := 0; i < w.options.Pollers; i++ {
		go w.poller(ctx)
	}

	go w.runTasks()

	return nil
}

// WaitForCompletion waits for the pollers to stop and all accepted tasks to
// finish. The dispatcher keeps accepting tasks for the worker's queues
// afterwards, they are rejected by the stopped work queue.
func (w *DecisionWorker) WaitForCompletion() error {
	w.pollersWg.Wait()

	w.wq.stop()
	<-w.tasksDone

	return nil
}

func (w *DecisionWorker) poller(ctx context.Context) {
	defer w.pollersWg.Done()

	ticker := time.NewTicker(w.options.PollingInterval)
	defer ticker.Stop()

	for {
		task, err := w.poll(ctx, 30*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			w.logger.ErrorContext(ctx, "error polling decision task", "error", err)
		} else if task != nil {
			if err := w.dispatcher.Process(ctx, task); err != nil {
				if errors.Is(err, ErrDispatcherShutdown) {
					return
				}

				w.logger.ErrorContext(ctx, "error dispatching decision task", "error", err)
			}

			continue // check for new tasks right away
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (w *DecisionWorker) poll(ctx context.Context, timeout time.Duration) (*service.DecisionTask, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task, err := w.svc.PollDecisionTask(ctx, w.queues)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}

		return nil, err
	}

	return task, nil
}

func (w *DecisionWorker) runTasks() {
	var wg sync.WaitGroup

	for {
		var task *service.DecisionTask

		select {
		case <-w.wq.quit:
			wg.Wait()
			w.tasksDone <- struct{}{}

			return
		case task = <-w.wq.tasks:
		}

		// If limited max tasks, wait for a slot to open up. Accepted tasks
		// still run during shutdown, so this does not observe quit.
		if err := w.wq.reserve(context.Background()); err != nil {
			break
		}

		wg.Add(1)

		go func(task *service.DecisionTask) {
			defer wg.Done()
			defer w.wq.release()

			// Allow tasks to complete even when the root context is
			// already canceled.
			w.handleTask(context.Background(), task)
		}(task)
	}

	wg.Wait()

	w.tasksDone <- struct{}{}
}

func (w *DecisionWorker) handleTask(ctx context.Context, task *service.DecisionTask) {
	run := task.WorkflowRun

	logger := w.logger.With(
		slog.String(log.NamespaceKey, run.Namespace),
		slog.String(log.WorkflowIDKey, run.WorkflowID),
		slog.String(log.RunIDKey, run.RunID),
		slog.String(log.TaskQueueKey, task.TaskQueue),
	)

	ctx, span := w.tracer.Start(ctx, "HandleDecisionTask", trace.WithAttributes(
		attribute.String(log.TaskQueueKey, task.TaskQueue),
		attribute.String(log.WorkflowIDKey, run.WorkflowID),
		attribute.String(log.RunIDKey, run.RunID),
	))
	defer span.End()

	tags := metrics.Tags{metrickeys.TaskQueue: task.TaskQueue}
	timer := im.NewTimer(w.mc, metrickeys.DecisionTaskLatency, tags)
	defer timer.Stop()
	defer w.mc.Counter(metrickeys.DecisionTaskProcessed, tags, 1)

	decider, release, err := w.cache.GetOrCreate(ctx, run, func(ctx context.Context) (replay.Decider, error) {
		return w.factory(ctx, task)
	})
	if err != nil {
		logger.ErrorContext(ctx, "could not build decider", "error", err)

		w.respondFailed(ctx, logger, task, service.FailedCauseUnhandledFailure, err)

		return
	}

	if task.Query != nil {
		w.handleQuery(ctx, logger, task, decider)
		release()

		return
	}

	result, err := decider.Decide(ctx, task)
	if err != nil {
		release()

		// Drop the poisoned replay state so the next task for this run gets
		// a clean rebuild.
		if ierr := w.cache.Invalidate(ctx, run); ierr != nil {
			logger.ErrorContext(ctx, "could not invalidate decider", "error", ierr)
		}

		cause := service.FailedCauseUnhandledFailure
		var nde *replay.NonDeterministicError
		if errors.As(err, &nde) {
			cause = service.FailedCauseNonDeterministicError
		}

		logger.ErrorContext(ctx, "decision task failed", "error", err)
		w.respondFailed(ctx, logger, task, cause, err)

		return
	}

	req := &service.RespondDecisionTaskCompletedRequest{
		TaskToken:                  task.TaskToken,
		Decisions:                  result.Decisions,
		QueryResults:               result.QueryResults,
		ForceCreateNewDecisionTask: result.ForceCreateNewDecisionTask,
	}

	if err := w.svc.RespondDecisionTaskCompleted(ctx, req, service.WithMetricsTags(tags)); err != nil {
		logger.ErrorContext(ctx, "could not complete decision task", "error", err)

		// The server may not have seen the completion, the cached state can
		// no longer be trusted to match the server's history.
		release()
		if ierr := w.cache.Invalidate(ctx, run); ierr != nil {
			logger.ErrorContext(ctx, "could not invalidate decider", "error", ierr)
		}

		return
	}

	release()

	if result.FinalDecision {
		if err := w.cache.Invalidate(ctx, run); err != nil {
			logger.ErrorContext(ctx, "could not invalidate decider", "error", err)
		}
	}
}

func (w *DecisionWorker) handleQuery(ctx context.Context, logger *slog.Logger, task *service.DecisionTask, decider replay.Decider) {
	req := &service.RespondQueryTaskCompletedRequest{
		TaskToken: task.TaskToken,
	}

	result, err := decider.Query(ctx, task, task.Query)
	if err != nil {
		req.ErrorMessage = err.Error()
	} else {
		req.Result = result
	}

	if err := w.svc.RespondQueryTaskCompleted(ctx, req, service.WithMetricsTags(
		metrics.Tags{metrickeys.TaskQueue: task.TaskQueue},
	)); err != nil {
		logger.ErrorContext(ctx, "could not complete query task", "error", err)
	}
}

func (w *DecisionWorker) respondFailed(ctx context.Context, logger *slog.Logger, task *service.DecisionTask, cause service.FailedCause, err error) {
	req := &service.RespondDecisionTaskFailedRequest{
		TaskToken: task.TaskToken,
		Cause:     cause,
		Failure:   service.ConvertError(err),
	}

	if rerr := w.svc.RespondDecisionTaskFailed(ctx, req, service.WithMetricsTags(
		metrics.Tags{metrickeys.TaskQueue: task.TaskQueue},
	)); rerr != nil {
		logger.ErrorContext(ctx, "could not fail decision task", "error", rerr)
	}
}

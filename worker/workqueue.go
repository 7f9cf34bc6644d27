package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/durablehq/go-durable/service"
)

var errWorkQueueStopped = errors.New("work queue is stopped")

// workQueue hands polled decision tasks from pollers to the executing
// goroutine, with an optional bound on tasks executing in parallel. The
// tasks channel is never closed, producers may outlive the consumer, so
// shutdown is signaled via quit instead.
type workQueue struct {
	tasks chan *service.DecisionTask
	slots chan struct{}

	quit     chan struct{}
	stopOnce sync.Once
}

func newWorkQueue(maxParallelTasks int) *workQueue {
	var slots chan struct{}
	if maxParallelTasks > 0 {
		slots = make(chan struct{}, maxParallelTasks)
	}

	return &workQueue{
		tasks: make(chan *service.DecisionTask),
		slots: slots,
		quit:  make(chan struct{}),
	}
}

func (w *workQueue) reserve(ctx context.Context) error {
	if w.slots == nil {
		return nil // No limit on parallel tasks, no reservation needed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.slots <- struct{}{}:
		return nil
	}
}

func (w *workQueue) add(ctx context.Context, task *service.DecisionTask) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return errWorkQueueStopped
	case w.tasks <- task:
		return nil
	}
}

// stop rejects further adds and unblocks the consumer. Idempotent.
func (w *workQueue) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}

func (w *workQueue) release() {
	if w.slots == nil {
		return
	}

	<-w.slots
}

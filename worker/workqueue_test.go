package worker

import (
	"context"
	"testing"
	"time"

	"github.com/durablehq/go-durable/service"
	"github.com/stretchr/testify/require"
)

func Test_WorkQueue_UnlimitedParallelism(t *testing.T) {
	wq := newWorkQueue(0)

	require.Nil(t, wq.slots)

	// reserve and release are no-ops without a limit
	require.NoError(t, wq.reserve(context.Background()))
	wq.release()
}

func Test_WorkQueue_ReserveBlocksWhenSlotsFull(t *testing.T) {
	wq := newWorkQueue(1)

	require.NoError(t, wq.reserve(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := wq.reserve(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Releasing frees the slot again
	wq.release()
	require.NoError(t, wq.reserve(context.Background()))
}

func Test_WorkQueue_AddHandsTaskToReader(t *testing.T) {
	wq := newWorkQueue(0)

	task := &service.DecisionTask{TaskToken: []byte("t")}

	received := make(chan *service.DecisionTask, 1)
	go func() {
		received <- <-wq.tasks
	}()

	require.NoError(t, wq.add(context.Background(), task))
	require.Same(t, task, <-received)
}

func Test_WorkQueue_AddAfterStop(t *testing.T) {
	wq := newWorkQueue(0)

	wq.stop()
	wq.stop() // idempotent

	// No consumer is running, add must not block or panic
	err := wq.add(context.Background(), &service.DecisionTask{})
	require.ErrorIs(t, err, errWorkQueueStopped)
}

func Test_WorkQueue_AddRespectsContext(t *testing.T) {
	wq := newWorkQueue(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := wq.add(ctx, &service.DecisionTask{})
	require.ErrorIs(t, err, context.Canceled)
}

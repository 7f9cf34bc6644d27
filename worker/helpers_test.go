package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/durablehq/go-durable/replay"
	"github.com/durablehq/go-durable/service"
)

// fakeService records responses sent by the code under test and serves polls
// from a channel.
type fakeService struct {
	mu sync.Mutex

	pollCh chan *service.DecisionTask

	failed    []*service.RespondDecisionTaskFailedRequest
	completed []*service.RespondDecisionTaskCompletedRequest
	queries   []*service.RespondQueryTaskCompletedRequest

	respondFailedErr error
}

var _ service.Client = (*fakeService)(nil)

func newFakeService() *fakeService {
	return &fakeService{
		pollCh: make(chan *service.DecisionTask, 16),
	}
}

func (s *fakeService) PollDecisionTask(ctx context.Context, taskQueues []string, opts ...service.CallOption) (*service.DecisionTask, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task := <-s.pollCh:
		return task, nil
	}
}

func (s *fakeService) RespondDecisionTaskCompleted(ctx context.Context, req *service.RespondDecisionTaskCompletedRequest, opts ...service.CallOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = append(s.completed, req)

	return nil
}

func (s *fakeService) RespondDecisionTaskFailed(ctx context.Context, req *service.RespondDecisionTaskFailedRequest, opts ...service.CallOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.respondFailedErr != nil {
		return s.respondFailedErr
	}

	s.failed = append(s.failed, req)

	return nil
}

func (s *fakeService) RespondQueryTaskCompleted(ctx context.Context, req *service.RespondQueryTaskCompletedRequest, opts ...service.CallOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, req)

	return nil
}

func (s *fakeService) failedRequests() []*service.RespondDecisionTaskFailedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*service.RespondDecisionTaskFailedRequest{}, s.failed...)
}

func (s *fakeService) completedRequests() []*service.RespondDecisionTaskCompletedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*service.RespondDecisionTaskCompletedRequest{}, s.completed...)
}

func (s *fakeService) queryRequests() []*service.RespondQueryTaskCompletedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*service.RespondQueryTaskCompletedRequest{}, s.queries...)
}

// scriptedDecider returns canned results from Decide and Query.
type scriptedDecider struct {
	result    *replay.DecisionResult
	decideErr error

	queryResult service.Payload
	queryErr    error

	decides atomic.Int32
	closes  atomic.Int32
}

var _ replay.Decider = (*scriptedDecider)(nil)

func (d *scriptedDecider) Decide(ctx context.Context, task *service.DecisionTask) (*replay.DecisionResult, error) {
	d.decides.Add(1)

	if d.decideErr != nil {
		return nil, d.decideErr
	}

	return d.result, nil
}

func (d *scriptedDecider) Query(ctx context.Context, task *service.DecisionTask, query *service.WorkflowQuery) (service.Payload, error) {
	return d.queryResult, d.queryErr
}

func (d *scriptedDecider) Close() {
	d.closes.Add(1)
}

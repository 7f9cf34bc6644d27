package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/durablehq/go-durable/metrics"
	"github.com/durablehq/go-durable/replay"
	"github.com/durablehq/go-durable/service"
)

type fakeDecider struct {
	id   int
	cost int

	closes atomic.Int32
}

var _ replay.Decider = (*fakeDecider)(nil)
var _ replay.CostEstimator = (*fakeDecider)(nil)

func (d *fakeDecider) Decide(ctx context.Context, task *service.DecisionTask) (*replay.DecisionResult, error) {
	return &replay.DecisionResult{}, nil
}

func (d *fakeDecider) Query(ctx context.Context, task *service.DecisionTask, query *service.WorkflowQuery) (service.Payload, error) {
	return nil, nil
}

func (d *fakeDecider) Close() {
	d.closes.Add(1)
}

func (d *fakeDecider) Cost() int {
	return d.cost
}

// capturingMetricsClient records counter and gauge values for assertions.
type capturingMetricsClient struct {
	mu sync.Mutex

	counters      map[string]int64
	gauges        map[string]int64
	distributions map[string]int
}

var _ metrics.Client = (*capturingMetricsClient)(nil)

func newCapturingMetricsClient() *capturingMetricsClient {
	return &capturingMetricsClient{
		counters:      map[string]int64{},
		gauges:        map[string]int64{},
		distributions: map[string]int{},
	}
}

func (c *capturingMetricsClient) Counter(name string, tags metrics.Tags, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[name] += value
}

func (c *capturingMetricsClient) Distribution(name string, tags metrics.Tags, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.distributions[name]++
}

func (c *capturingMetricsClient) Gauge(name string, tags metrics.Tags, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gauges[name] = value
}

func (c *capturingMetricsClient) Timing(name string, tags metrics.Tags, duration time.Duration) {
}

func (c *capturingMetricsClient) WithTags(tags metrics.Tags) metrics.Client {
	return c
}

func (c *capturingMetricsClient) counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counters[name]
}

func (c *capturingMetricsClient) gauge(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gauges[name]
}

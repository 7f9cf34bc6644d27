package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/durablehq/go-durable/core"
	"github.com/durablehq/go-durable/internal/metrickeys"
	"github.com/durablehq/go-durable/metrics"
	"github.com/durablehq/go-durable/replay"
)

type evictionReason string

const (
	evictionReasonCapacity     evictionReason = "capacity"
	evictionReasonThreadBudget evictionReason = "thread_budget"
	evictionReasonInvalidated  evictionReason = "invalidated"
)

// LRU is the default sticky execution cache. It bounds both the number of
// resident entries and their total estimated cost, evicting
// least-recently-used entries first.
type LRU struct {
	mc    metrics.Client
	clock clock.Clock

	costCeiling int

	group singleflight.Group

	// mu guards index mutations and cost accounting. It is never held
	// while a factory builds a Decider.
	mu        sync.Mutex
	index     *lru.Cache[string, *entry]
	totalCost int

	// reason tells the eviction callback why the current removal happens.
	// Only written under mu, and the index only invokes the callback from
	// mutations made under mu.
	reason evictionReason
}

type LRUOption func(*LRU)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) LRUOption {
	return func(l *LRU) {
		l.clock = c
	}
}

var _ Cache = (*LRU)(nil)

// NewLRU creates a sticky execution cache holding at most maxEntries entries
// whose summed cost estimate stays at or below costCeiling. A costCeiling of
// 0 disables cost-based eviction, leaving only the entry count bound.
func NewLRU(mc metrics.Client, maxEntries, costCeiling int, opts ...LRUOption) (*LRU, error) {
	c := &LRU{
		mc:          mc,
		clock:       clock.New(),
		costCeiling: costCeiling,
	}

	for _, opt := range opts {
		opt(c)
	}

	index, err := lru.NewWithEvict[string, *entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating cache index: %w", err)
	}

	c.index = index

	return c, nil
}

func (c *LRU) GetOrCreate(ctx context.Context, run *core.WorkflowRun, factory Factory) (replay.Decider, ReleaseFunc, error) {
	key := getKey(run)

	for {
		c.mu.Lock()
		if e, ok := c.index.Get(key); ok {
			// Entries still in the index cannot be evicted while mu is
			// held, so the pin always succeeds here.
			e.pin()
			c.mu.Unlock()

			c.mc.Counter(metrickeys.StickyCacheHit, metrics.Tags{}, 1)

			return e.decider, e.release, nil
		}
		c.mu.Unlock()

		c.mc.Counter(metrickeys.StickyCacheMiss, metrics.Tags{}, 1)

		v, err, _ := c.group.Do(key, func() (any, error) {
			// A build for this key may have finished between the index
			// check and joining the flight, reuse its entry.
			c.mu.Lock()
			if e, ok := c.index.Get(key); ok {
				c.mu.Unlock()
				return e, nil
			}
			c.mu.Unlock()

			decider, err := factory(ctx)
			if err != nil {
				return nil, err
			}

			e := newEntry(decider, deciderCost(decider), c.clock.Now())
			c.insert(key, e)

			return e, nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building decider: %w", err)
		}

		// Callers sharing a factory result pin individually. The entry can
		// already be evicted again by then, rebuild in that case.
		e := v.(*entry)
		if e.pin() {
			return e.decider, e.release, nil
		}
	}
}

func (c *LRU) Invalidate(ctx context.Context, run *core.WorkflowRun) error {
	c.mu.Lock()
	c.reason = evictionReasonInvalidated
	c.index.Remove(getKey(run))
	size := c.index.Len()
	c.mu.Unlock()

	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

	return nil
}

func (c *LRU) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.index.Len()
}

// StartEviction implements Cache. The LRU cache evicts inline on insert and
// has no background work.
func (c *LRU) StartEviction(ctx context.Context) {
}

// TrimToBudget force-evicts least-recently-used entries until the total
// resident cost is at or below budget. Called by the embedding worker when
// its thread/resource budget is exhausted, these evictions are counted
// separately from the insert-path ones.
func (c *LRU) TrimToBudget(ctx context.Context, budget int) {
	c.mu.Lock()
	c.reason = evictionReasonThreadBudget
	for c.totalCost > budget && c.index.Len() > 0 {
		c.index.RemoveOldest()
	}
	size := c.index.Len()
	c.mu.Unlock()

	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))
}

// insert adds a freshly built entry and restores the cost ceiling. Evicting
// never removes the entry being inserted, a single entry costing more than
// the ceiling stays resident until a later insert displaces it.
func (c *LRU) insert(key string, e *entry) {
	c.mu.Lock()
	c.reason = evictionReasonCapacity
	c.index.Add(key, e)
	c.totalCost += e.cost

	if c.costCeiling > 0 {
		for c.totalCost > c.costCeiling && c.index.Len() > 1 {
			c.index.RemoveOldest()
		}
	}

	size := c.index.Len()
	c.mu.Unlock()

	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))
}

// onEvict runs for every removal from the index, from mutations made while
// mu is held.
func (c *LRU) onEvict(key string, e *entry) {
	c.totalCost -= e.cost

	switch c.reason {
	case evictionReasonCapacity:
		c.mc.Counter(metrickeys.StickyCacheTotalForcedEviction, metrics.Tags{metrickeys.EvictionReason: string(c.reason)}, 1)
	case evictionReasonThreadBudget:
		c.mc.Counter(metrickeys.StickyCacheTotalForcedEviction, metrics.Tags{metrickeys.EvictionReason: string(c.reason)}, 1)
		c.mc.Counter(metrickeys.StickyCacheThreadForcedEviction, metrics.Tags{}, 1)
	}

	c.mc.Distribution(metrickeys.StickyCacheResidentDuration, metrics.Tags{metrickeys.EvictionReason: string(c.reason)},
		float64(c.clock.Since(e.storedAt)/time.Millisecond))

	e.evict()
}

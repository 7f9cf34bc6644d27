package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/durablehq/go-durable/core"
	"github.com/durablehq/go-durable/internal/metrickeys"
	"github.com/durablehq/go-durable/metrics"
	"github.com/durablehq/go-durable/replay"
)

// TTL is a sticky execution cache that additionally expires entries that
// have been idle for longer than the configured duration. Capacity is
// entry-count based, it does not track cost estimates or a thread budget.
type TTL struct {
	mc metrics.Client
	c  *ttlcache.Cache[string, *entry]

	group singleflight.Group

	// mu guards entries, a synchronous mirror of the resident set. The
	// library delivers eviction events on their own goroutine, but a
	// displaced decider has to be closed before its slot is reused.
	mu      sync.Mutex
	entries map[string]*entry
}

var _ Cache = (*TTL)(nil)

// NewTTL creates a sticky execution cache holding at most size entries,
// idle entries expire after the given duration. StartEviction must be
// running for expiration to take effect.
func NewTTL(mc metrics.Client, size int, expiration time.Duration) *TTL {
	tc := &TTL{
		mc:      mc,
		entries: map[string]*entry{},
	}

	c := ttlcache.New(
		ttlcache.WithCapacity[string, *entry](uint64(size)),
		ttlcache.WithTTL[string, *entry](expiration),
	)

	// Telemetry, plus the close backstop for entries the expiration loop
	// collects. Explicit removal paths close synchronously before this
	// event arrives, evict is idempotent.
	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *entry]) {
		e := i.Value()

		tc.mu.Lock()
		if cur, ok := tc.entries[i.Key()]; ok && cur == e {
			delete(tc.entries, i.Key())
		}
		tc.mu.Unlock()

		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
			mc.Counter(metrickeys.StickyCacheTotalForcedEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
		case ttlcache.EvictionReasonDeleted:
			reason = "invalidated"
		}

		mc.Distribution(metrickeys.StickyCacheResidentDuration, metrics.Tags{metrickeys.EvictionReason: reason},
			float64(time.Since(e.storedAt)/time.Millisecond))

		e.evict()
	})

	tc.c = c

	return tc
}

func (tc *TTL) GetOrCreate(ctx context.Context, run *core.WorkflowRun, factory Factory) (replay.Decider, ReleaseFunc, error) {
	key := getKey(run)

	for {
		if i := tc.c.Get(key); i != nil {
			// Expiry runs concurrently, a stale item may already be
			// evicted. Treat that as a miss.
			if e := i.Value(); e.pin() {
				tc.mc.Counter(metrickeys.StickyCacheHit, metrics.Tags{}, 1)

				return e.decider, e.release, nil
			}
		}

		tc.mc.Counter(metrickeys.StickyCacheMiss, metrics.Tags{}, 1)

		v, err, _ := tc.group.Do(key, func() (any, error) {
			// A build for this key may have finished between the lookup
			// and joining the flight, reuse its entry.
			if i := tc.c.Get(key); i != nil {
				return i.Value(), nil
			}

			decider, err := factory(ctx)
			if err != nil {
				return nil, err
			}

			e := newEntry(decider, deciderCost(decider), time.Now())
			stale, displaced, size := tc.insert(key, e)

			// Replaced deciders are closed before the new entry is handed
			// out.
			if stale != nil {
				stale.evict()
			}
			for _, de := range displaced {
				de.evict()
			}

			tc.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

			return e, nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building decider: %w", err)
		}

		e := v.(*entry)
		if e.pin() {
			return e.decider, e.release, nil
		}
	}
}

// insert stores a freshly built entry. It returns the idle-expired entry the
// key still held, if any, and the entries the library dropped to stay within
// capacity. The library only reports those on its own goroutine, the mirror
// lets the caller close them before the insert becomes visible.
func (tc *TTL) insert(key string, e *entry) (stale *entry, displaced []*entry, size int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	// Setting over an idle-expired key updates the item in place without
	// an eviction event, remove it explicitly so its decider is closed.
	if stale = tc.entries[key]; stale != nil {
		tc.c.Delete(key)
	}

	tc.c.Set(key, e, ttlcache.DefaultTTL)
	tc.entries[key] = e

	resident := make(map[string]struct{}, tc.c.Len())
	for _, k := range tc.c.Keys() {
		resident[k] = struct{}{}
	}

	for k, cur := range tc.entries {
		if _, ok := resident[k]; !ok {
			delete(tc.entries, k)
			displaced = append(displaced, cur)
		}
	}

	return stale, displaced, len(tc.entries)
}

func (tc *TTL) Invalidate(ctx context.Context, run *core.WorkflowRun) error {
	key := getKey(run)

	tc.mu.Lock()
	e := tc.entries[key]
	delete(tc.entries, key)
	tc.c.Delete(key)
	size := len(tc.entries)
	tc.mu.Unlock()

	if e != nil {
		e.evict()
	}

	tc.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

	return nil
}

func (tc *TTL) Size() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return len(tc.entries)
}

// StartEviction runs the expiration loop until ctx is canceled.
func (tc *TTL) StartEviction(ctx context.Context) {
	go tc.c.Start()

	<-ctx.Done()

	tc.c.Stop()
}

package cache

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	im "github.com/durablehq/go-durable/internal/metrics"
	"github.com/durablehq/go-durable/replay"
	"github.com/stretchr/testify/require"
)

func Test_TTL_GetOrCreate(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 8, 10*time.Second)

	d := &fakeDecider{id: 1, cost: 1}
	var builds atomic.Int32

	got, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d, &builds))
	require.NoError(t, err)
	require.Same(t, replay.Decider(d), got)
	release()

	got2, release2, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d, &builds))
	require.NoError(t, err)
	require.Same(t, got, got2)
	release2()

	require.Equal(t, int32(1), builds.Load())
	require.Equal(t, 1, c.Size())
}

func Test_TTL_CapacityEvictionClosesDecider(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 1, 10*time.Second)

	d1 := &fakeDecider{id: 1, cost: 1}
	d2 := &fakeDecider{id: 2, cost: 1}
	var builds atomic.Int32

	_, release1, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d1, &builds))
	require.NoError(t, err)
	release1()

	_, release2, err := c.GetOrCreate(context.Background(), run("r2"), factoryFor(d2, &builds))
	require.NoError(t, err)
	release2()

	require.Equal(t, int32(1), d1.closes.Load())
	require.Equal(t, 1, c.Size())
}

func Test_TTL_Invalidate(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 8, 10*time.Second)

	d1 := &fakeDecider{id: 1, cost: 1}
	d2 := &fakeDecider{id: 2, cost: 1}
	var builds atomic.Int32

	_, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d1, &builds))
	require.NoError(t, err)
	release()

	require.NoError(t, c.Invalidate(context.Background(), run("r1")))
	require.Equal(t, int32(1), d1.closes.Load())
	require.Equal(t, 0, c.Size())

	got, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d2, &builds))
	require.NoError(t, err)
	require.Same(t, replay.Decider(d2), got)
	release()
}

func Test_TTL_ExpiredEntryReplacedAndClosed(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 8, 5*time.Millisecond)

	d1 := &fakeDecider{id: 1, cost: 1}
	d2 := &fakeDecider{id: 2, cost: 1}
	var builds atomic.Int32

	_, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d1, &builds))
	require.NoError(t, err)
	release()

	// Let the entry idle-expire without the eviction loop running
	time.Sleep(20 * time.Millisecond)

	got, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d2, &builds))
	require.NoError(t, err)
	require.Same(t, replay.Decider(d2), got)
	require.Equal(t, int32(2), builds.Load())

	// The replaced decider is closed by the time the rebuild is handed out
	require.Equal(t, int32(1), d1.closes.Load())
	require.Equal(t, 1, c.Size())
	release()
}

func Test_TTL_IdleExpiration(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 8, time.Millisecond)

	d := &fakeDecider{id: 1, cost: 1}
	var builds atomic.Int32

	_, release, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d, &builds))
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	evictionDone := make(chan struct{})
	go func() {
		c.StartEviction(ctx)
		close(evictionDone)
	}()

	require.Eventually(t, func() bool {
		runtime.Gosched()
		return d.closes.Load() == 1 && c.Size() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-evictionDone
}

func Test_TTL_PinnedEntryNotClosedUntilReleased(t *testing.T) {
	c := NewTTL(im.NewNoopMetricsClient(), 1, 10*time.Second)

	d1 := &fakeDecider{id: 1, cost: 1}
	d2 := &fakeDecider{id: 2, cost: 1}
	var builds atomic.Int32

	_, release1, err := c.GetOrCreate(context.Background(), run("r1"), factoryFor(d1, &builds))
	require.NoError(t, err)

	_, release2, err := c.GetOrCreate(context.Background(), run("r2"), factoryFor(d2, &builds))
	require.NoError(t, err)
	release2()

	require.Equal(t, int32(0), d1.closes.Load())

	release1()
	require.Equal(t, int32(1), d1.closes.Load())
}

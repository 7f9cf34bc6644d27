package cache

import (
	"sync"
	"time"

	"github.com/durablehq/go-durable/replay"
)

// entry wraps a cached Decider with a borrow count. Eviction of a borrowed
// entry is deferred: the entry leaves the cache index immediately, but the
// Decider is only closed once the last borrower releases it. This keeps an
// in-flight Decide call from racing the Decider's Close.
type entry struct {
	decider replay.Decider
	cost    int

	storedAt time.Time

	mu      sync.Mutex
	pins    int
	evicted bool
	closed  bool
}

func newEntry(decider replay.Decider, cost int, storedAt time.Time) *entry {
	return &entry{
		decider:  decider,
		cost:     cost,
		storedAt: storedAt,
	}
}

// pin marks the entry as borrowed. Returns false if the entry has already
// been evicted, the caller must treat that as a cache miss.
func (e *entry) pin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return false
	}

	e.pins++

	return true
}

// release returns a borrow. The last release of an evicted entry closes the
// Decider.
func (e *entry) release() {
	e.mu.Lock()
	e.pins--
	closeNow := e.evicted && e.pins == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.mu.Unlock()

	if closeNow {
		e.decider.Close()
	}
}

// evict removes the entry from circulation. Unborrowed entries are closed
// immediately, borrowed ones when the final borrow is released.
func (e *entry) evict() {
	e.mu.Lock()
	e.evicted = true
	closeNow := e.pins == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.mu.Unlock()

	if closeNow {
		e.decider.Close()
	}
}

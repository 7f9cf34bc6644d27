package worker

import (
	"time"

	"github.com/durablehq/go-durable/replay/cache"
)

type Options struct {
	// Pollers is the number of decision task pollers to start. Defaults to 2.
	Pollers int

	// MaxParallelDecisionTasks determines the maximum number of concurrent
	// decision tasks processed by the worker. The default is 0 which is no
	// limit.
	MaxParallelDecisionTasks int

	// PollingInterval is the interval between polling for new decision
	// tasks when the previous poll came back empty. Defaults to 200ms.
	PollingInterval time.Duration

	// StickyCacheSize is the max number of deciders kept in the sticky
	// execution cache. Ignored when StickyCache is set. Defaults to 128.
	StickyCacheSize int

	// StickyCacheCostCeiling bounds the summed cost estimate of resident
	// deciders. 0 leaves only the entry count bound. Ignored when
	// StickyCache is set.
	StickyCacheCostCeiling int

	// StickyCache is the cache to use for replay state. If nil, a cost-aware
	// LRU cache is created from the settings above.
	StickyCache cache.Cache
}

var DefaultOptions = Options{
	Pollers:                  2,
	PollingInterval:          200 * time.Millisecond,
	MaxParallelDecisionTasks: 0,

	StickyCacheSize:        128,
	StickyCacheCostCeiling: 0,
	StickyCache:            nil,
}

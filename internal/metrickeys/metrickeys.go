package metrickeys

const (
	Prefix = "durable."

	// Decision tasks
	DecisionTaskDispatched = Prefix + "decision.task.dispatched"
	DecisionTaskUnrouted   = Prefix + "decision.task.unrouted"
	DecisionTaskProcessed  = Prefix + "decision.task.processed"
	DecisionTaskLatency    = Prefix + "decision.task.latency"

	// Sticky execution cache
	StickyCacheHit  = Prefix + "sticky_cache.hit"
	StickyCacheMiss = Prefix + "sticky_cache.miss"
	StickyCacheSize = Prefix + "sticky_cache.size"

	// Forced evictions triggered by the cost ceiling on insert vs. by an
	// explicit thread/resource budget trim. Tracked separately.
	StickyCacheTotalForcedEviction  = Prefix + "sticky_cache.total_forced_eviction"
	StickyCacheThreadForcedEviction = Prefix + "sticky_cache.thread_forced_eviction"

	// Resident duration of an entry at the time it is evicted
	StickyCacheResidentDuration = Prefix + "sticky_cache.resident_duration"
)

// Tag names
const (
	// Task queue a decision task was dispatched to
	TaskQueue = "task_queue"

	// Reason for evicting an entry from the sticky execution cache
	EvictionReason = "reason"
)

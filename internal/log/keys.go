package log

const (
	NamespaceKey  = "namespace"
	WorkflowIDKey = "workflow_id"
	RunIDKey      = "run_id"
	TaskQueueKey  = "task_queue"
)

package service

import (
	"github.com/durablehq/go-durable/core"
)

// Payload is a serialized value exchanged with the orchestration service. Its
// encoding is owned by the embedding application's converter, this layer
// treats it as opaque bytes.
type Payload []byte

// DecisionTask is one unit of work polled from the orchestration service,
// asking the client to advance a single workflow run.
type DecisionTask struct {
	// TaskToken identifies this task when acknowledging or failing it.
	TaskToken []byte `json:"task_token,omitempty"`

	// TaskQueue is the name of the task queue this task was polled from.
	TaskQueue string `json:"task_queue,omitempty"`

	// WorkflowRun is the run this task advances.
	WorkflowRun *core.WorkflowRun `json:"workflow_run,omitempty"`

	// PreviousStartedEventID is the ID of the last event the server knows the
	// client has seen. Events after it are new since the last decision task.
	PreviousStartedEventID int64 `json:"previous_started_event_id,omitempty"`

	// History contains the run's history events. Opaque to the dispatch
	// layer, only the replay engine interprets it.
	History []Payload `json:"history,omitempty"`

	// Queries are consistent queries to be answered together with this
	// decision task, keyed by query ID.
	Queries map[string]*WorkflowQuery `json:"queries,omitempty"`

	// Query is set for query-only tasks. Such tasks produce no decisions.
	Query *WorkflowQuery `json:"query,omitempty"`
}

// WorkflowQuery is a point-in-time introspection request for a running
// workflow.
type WorkflowQuery struct {
	QueryType string  `json:"query_type,omitempty"`
	QueryArgs Payload `json:"query_args,omitempty"`
}

// Decision is a single command produced by replaying a decision task. The
// server applies decisions in the order they are sent.
type Decision struct {
	Kind       string  `json:"kind,omitempty"`
	Attributes Payload `json:"attributes,omitempty"`
}

// QueryResult is the answer to one query delivered with a decision task.
type QueryResult struct {
	Result Payload `json:"result,omitempty"`

	// ErrorMessage is set when answering the query failed.
	ErrorMessage string `json:"error_message,omitempty"`
}

// FailedCause tells the server why a decision task could not be completed.
type FailedCause int

const (
	FailedCauseUnspecified FailedCause = iota

	// FailedCauseResetStickyTaskQueue asks the server to clear the sticky
	// queue affinity for the run, no worker in this process is listening on
	// the queue the task was routed to.
	FailedCauseResetStickyTaskQueue

	// FailedCauseNonDeterministicError reports that the task's history did
	// not match the cached replay state.
	FailedCauseNonDeterministicError

	// FailedCauseUnhandledFailure reports any other unhandled error while
	// processing the task.
	FailedCauseUnhandledFailure
)

func (c FailedCause) String() string {
	switch c {
	case FailedCauseResetStickyTaskQueue:
		return "ResetStickyTaskQueue"
	case FailedCauseNonDeterministicError:
		return "NonDeterministicError"
	case FailedCauseUnhandledFailure:
		return "UnhandledFailure"
	default:
		return "Unspecified"
	}
}

type RespondDecisionTaskCompletedRequest struct {
	TaskToken []byte `json:"task_token,omitempty"`

	Decisions []*Decision `json:"decisions,omitempty"`

	QueryResults map[string]*QueryResult `json:"query_results,omitempty"`

	// ForceCreateNewDecisionTask requests an immediate follow-up decision
	// task for the same run, local work remains.
	ForceCreateNewDecisionTask bool `json:"force_create_new_decision_task,omitempty"`
}

type RespondDecisionTaskFailedRequest struct {
	TaskToken []byte      `json:"task_token,omitempty"`
	Cause     FailedCause `json:"cause,omitempty"`
	Failure   *Failure    `json:"failure,omitempty"`
}

type RespondQueryTaskCompletedRequest struct {
	TaskToken    []byte  `json:"task_token,omitempty"`
	Result       Payload `json:"result,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

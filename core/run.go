package core

import (
	"fmt"

	"github.com/google/uuid"
)

// WorkflowRun identifies one execution attempt of a workflow. It is the key
// under which sticky replay state is cached.
type WorkflowRun struct {
	// Namespace the workflow was started in.
	Namespace string `json:"namespace,omitempty"`

	// WorkflowID is the user-assigned ID of the workflow.
	WorkflowID string `json:"workflow_id,omitempty"`

	// RunID is the ID of the current execution attempt of the workflow.
	RunID string `json:"run_id,omitempty"`
}

func NewWorkflowRun(namespace, workflowID string) *WorkflowRun {
	return &WorkflowRun{
		Namespace:  namespace,
		WorkflowID: workflowID,
		RunID:      uuid.NewString(),
	}
}

// String returns the canonical key for this run. Two WorkflowRun values
// compare equal iff their keys are equal.
func (r *WorkflowRun) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Namespace, r.WorkflowID, r.RunID)
}

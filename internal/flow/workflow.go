package flow

import (
	"time"

	"github.com/civicrelay/civicrelay/internal/models"
)

// ApplyDecision applies the workflow transition a decision implies. The
// current step becomes the decision's action tag, classification labels are
// overwritten when provided, the needed-fields list is replaced, and any
// freshly extracted fields are merged into the collected data with later
// values winning on key collision. Completion is not decided here; only a
// successful registration or submission handler completes a workflow.
func ApplyDecision(state *models.ConversationState, d models.Decision) {
	state.Workflow.CurrentStep = string(d.Action)
	if d.Intent != "" {
		state.Workflow.Intent = d.Intent
	}
	if d.UserType != "" {
		state.Workflow.UserType = d.UserType
	}
	state.Workflow.DataNeeded = append([]string(nil), d.DataNeeded...)
	state.Workflow.NextAction = d.NextStep

	if len(d.DataCollected) > 0 {
		if state.CollectedData == nil {
			state.CollectedData = make(map[string]any, len(d.DataCollected))
		}
		for k, v := range d.DataCollected {
			state.CollectedData[k] = v
		}
	}
}

// CompleteWorkflow marks the workflow completed and stamps the completion
// time.
func CompleteWorkflow(state *models.ConversationState) {
	now := time.Now()
	state.Workflow.Status = models.WorkflowStatusCompleted
	state.Workflow.CompletedAt = &now
}

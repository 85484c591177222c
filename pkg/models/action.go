package models

import "time"

// Pending action names understood by the UI client.
const (
	ActionApplyMutations          = "applyMutations"
	ActionOpenGraph               = "openGraph"
	ActionAddNodePrototype        = "addNodePrototype"
	ActionCreateAndAssignGraphDef = "createAndAssignGraphDefinition"
	ActionSetActiveGraph          = "setActiveGraph"
)

// ActionMeta correlates a pending action back to its conversation and goal.
type ActionMeta struct {
	CID         string    `json:"cid,omitempty"`
	PatchID     string    `json:"patchId,omitempty"`
	GraphID     string    `json:"graphId,omitempty"`
	AgenticLoop bool      `json:"agenticLoop,omitempty"`
	Goal        *GoalMeta `json:"-"`
}

// PendingAction is a UI-bound work item the committer has approved. The UI
// client leases it via GET /api/bridge/pending-actions, applies it, and
// acknowledges with POST /api/bridge/action-completed.
type PendingAction struct {
	ID        string      `json:"id"`
	Action    string      `json:"action"`
	Params    []any       `json:"params"`
	Meta      *ActionMeta `json:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Package models defines the data types shared across the orchestration
// pipeline: planner output, goals/tasks/patches/reviews, pending actions,
// and the projected graph state exchanged with the UI client.
package models

// Op is a single graph mutation. Type selects the operation; Params carry
// the operation arguments in UI-store shape.
type Op struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Mutation op types understood by the auditor and the UI client.
const (
	OpCreateNewGraph      = "createNewGraph"
	OpAddNodePrototype    = "addNodePrototype"
	OpAddNodeInstance     = "addNodeInstance"
	OpMoveNodeInstance    = "moveNodeInstance"
	OpAddEdge             = "addEdge"
	OpDeleteEdge          = "deleteEdge"
	OpUpdateNodePrototype = "updateNodePrototype"
	OpUpdateGraph         = "updateGraph"
	OpRemoveNodeInstance  = "removeNodeInstance"
	OpDeleteGraph         = "deleteGraph"
)

// KnownOp reports whether the op type is part of the mutation catalogue.
func KnownOp(opType string) bool {
	switch opType {
	case OpCreateNewGraph, OpAddNodePrototype, OpAddNodeInstance,
		OpMoveNodeInstance, OpAddEdge, OpDeleteEdge, OpUpdateNodePrototype,
		OpUpdateGraph, OpRemoveNodeInstance, OpDeleteGraph:
		return true
	default:
		return false
	}
}

// Task is one unit of work inside a goal's DAG. DependsOn references
// sibling tasks by tool name.
type Task struct {
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args,omitempty"`
	ThreadID  string         `json:"threadId"`
	DependsOn []string       `json:"dependsOn,omitempty"`
}

// DAG is the ordered task list of a goal. Order is the enqueue order;
// dependency edges further constrain execution.
type DAG struct {
	Tasks []Task `json:"tasks"`
}

// ChainState carries the not-yet-planned subgoals of a decomposed goal
// through the continuation loop.
type ChainState struct {
	RemainingSubgoals []string `json:"remainingSubgoals,omitempty"`
}

// ChatTurn is one prior conversation turn forwarded to the planner for
// context. Role is "user" or "assistant".
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIConfig selects the model provider for planner and continuation calls.
type APIConfig struct {
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	FallbackModels []string `json:"fallbackModels,omitempty"`
	BaseURL        string   `json:"baseUrl,omitempty"`
}

// GoalMeta travels with a goal through every pipeline stage so that
// continuation calls remain stateless on the network but context-rich.
type GoalMeta struct {
	Iteration           int         `json:"iteration,omitempty"`
	AgenticLoop         bool        `json:"agenticLoop,omitempty"`
	APIKey              string      `json:"apiKey,omitempty"`
	APIConfig           *APIConfig  `json:"apiConfig,omitempty"`
	OriginalMessage     string      `json:"originalMessage,omitempty"`
	ConversationHistory []ChatTurn  `json:"conversationHistory,omitempty"`
	ChainState          *ChainState `json:"chainState,omitempty"`
	IsTest              bool        `json:"isTest,omitempty"`
}

// Goal is the top-level pipeline message: a natural-language goal plus the
// task DAG the executor derived for it. ThreadID is the conversation id.
type Goal struct {
	ID       string   `json:"id"`
	Goal     string   `json:"goal"`
	DAG      DAG      `json:"dag"`
	ThreadID string   `json:"threadId"`
	Meta     GoalMeta `json:"meta"`
}

// Patch is a proposed set of mutations against one graph. PatchID is the
// idempotency key: an already-committed PatchID is dropped on re-submit.
// BaseHash, when set, must match the graph's current head or the auditor
// rejects with stale_base; a head advanced only by an earlier patch of the
// same goal is forward progress, not a conflict, and is exempt.
type Patch struct {
	PatchID  string    `json:"patchId"`
	GraphID  string    `json:"graphId"`
	GoalID   string    `json:"goalId,omitempty"`
	ThreadID string    `json:"threadId,omitempty"`
	BaseHash string    `json:"baseHash,omitempty"`
	Ops      []Op      `json:"ops"`
	Meta     *GoalMeta `json:"meta,omitempty"`
}

// Decision is the auditor's verdict on a patch.
type Decision string

// Auditor decisions.
const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Review is the auditor's output for one or more patches.
type Review struct {
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons,omitempty"`
	GraphID  string   `json:"graphId,omitempty"`
	Patch    *Patch   `json:"patch,omitempty"`
	Patches  []Patch  `json:"patches,omitempty"`
}

// AllPatches returns the reviewed patches regardless of which field the
// submitter used (single patch or batch).
func (r *Review) AllPatches() []Patch {
	if len(r.Patches) > 0 {
		return r.Patches
	}
	if r.Patch != nil {
		return []Patch{*r.Patch}
	}
	return nil
}

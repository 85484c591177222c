package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// Safety caps for the agentic loop.
const (
	MaxPhases     = 8
	MaxTotalNodes = 100
)

// ContinueInput is the body of POST /api/ai/agent/continue.
type ContinueInput struct {
	CID        string            `json:"cid"`
	LastAction string            `json:"lastAction,omitempty"`
	GraphState models.GraphState `json:"graphState"`
	Iteration  int               `json:"iteration"`
	ReadResult any               `json:"readResult,omitempty"`
	Meta       *models.GoalMeta  `json:"meta,omitempty"`
}

// ContinueResult is the continuation decision returned to the caller.
type ContinueResult struct {
	Success   bool   `json:"success"`
	Completed bool   `json:"completed"`
	Reason    string `json:"reason,omitempty"`
	Response  string `json:"response,omitempty"`
	GoalID    string `json:"goalId,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
}

// Continuation implements the agentic loop: after each committed phase it
// decides whether to chain the next subgoal, stop on a safety cap, or ask
// the model to continue or complete.
type Continuation struct {
	planner  *Planner
	executor *Executor
	store    *store.Store
	tracer   *trace.Tracer
	logger   *slog.Logger
}

// NewContinuation wires the continuation loop.
func NewContinuation(planner *Planner, executor *Executor, st *store.Store, tracer *trace.Tracer, logger *slog.Logger) *Continuation {
	return &Continuation{planner: planner, executor: executor, store: st, tracer: tracer, logger: logger}
}

// Continue evaluates the termination conditions in order: pending subgoal
// chain, phase cap, node cap, then the model's own continue/complete
// decision.
func (c *Continuation) Continue(ctx context.Context, in ContinueInput) (ContinueResult, error) {
	meta := in.Meta
	if meta == nil {
		meta = &models.GoalMeta{}
	}

	if meta.ChainState != nil && len(meta.ChainState.RemainingSubgoals) > 0 {
		return c.nextSubgoal(ctx, in, meta)
	}

	if in.Iteration >= MaxPhases {
		return ContinueResult{
			Success:   true,
			Completed: true,
			Reason:    "phases_complete",
			Response:  fmt.Sprintf("Finished after %d expansion phases. The graph now has %d nodes.", in.Iteration, in.GraphState.NodeCount),
		}, nil
	}

	if in.GraphState.NodeCount >= MaxTotalNodes {
		return ContinueResult{
			Success:   true,
			Completed: true,
			Reason:    "node_limit",
			Response:  fmt.Sprintf("Stopping here: the graph reached %d nodes (limit %d).", in.GraphState.NodeCount, MaxTotalNodes),
		}, nil
	}

	plan, err := c.planner.Evaluate(ctx, meta, in.GraphState)
	if err != nil {
		return ContinueResult{}, err
	}

	if plan.Decision == "continue" && plan.GraphSpec != nil && len(plan.GraphSpec.Nodes) > 0 {
		goalID := c.enqueuePhase(plan, meta, in)
		return ContinueResult{
			Success:   true,
			Completed: false,
			Response:  plan.Response,
			GoalID:    goalID,
			Iteration: in.Iteration + 1,
		}, nil
	}

	return ContinueResult{
		Success:   true,
		Completed: true,
		Response:  plan.Response,
	}, nil
}

// nextSubgoal pops the next subgoal of a decomposed goal and re-plans it.
func (c *Continuation) nextSubgoal(ctx context.Context, in ContinueInput, meta *models.GoalMeta) (ContinueResult, error) {
	next := meta.ChainState.RemainingSubgoals[0]
	rest := meta.ChainState.RemainingSubgoals[1:]
	var chain *models.ChainState
	if len(rest) > 0 {
		chain = &models.ChainState{RemainingSubgoals: rest}
	}

	req := PlanRequest{
		Message:             next,
		CID:                 in.CID,
		APIKey:              meta.APIKey,
		APIConfig:           meta.APIConfig,
		ConversationHistory: meta.ConversationHistory,
		IsTest:              meta.IsTest,
	}
	plan, err := c.planner.Plan(ctx, req)
	if err != nil {
		return ContinueResult{}, err
	}
	res, err := c.executor.dispatch(ctx, plan, req, chain)
	if err != nil {
		return ContinueResult{}, err
	}
	return ContinueResult{
		Success:   true,
		Completed: false,
		Response:  res.Response,
		GoalID:    res.GoalID,
		Iteration: in.Iteration,
	}, nil
}

// enqueuePhase turns the evaluation's graph spec into the next agentic
// goal: create_subgraph followed by define_connections.
func (c *Continuation) enqueuePhase(plan models.Plan, meta *models.GoalMeta, in ContinueInput) string {
	graphID := in.GraphState.GraphID
	newGraph := graphID == ""
	if newGraph {
		graphID = uuid.New().String()
	}
	graphName := in.GraphState.GraphName
	if plan.Graph != nil && plan.Graph.Name != "" {
		graphName = plan.Graph.Name
	}

	nodes, nameToInstance := materializeNodes(plan.GraphSpec.Nodes)
	createTask := models.Task{
		ToolName: "create_subgraph",
		ThreadID: in.CID,
		Args: map[string]any{
			"graphId":   graphID,
			"graphName": graphName,
			"nodes":     nodes,
			"extend":    !newGraph,
		},
	}
	connectTask := models.Task{
		ToolName:  "define_connections",
		ThreadID:  in.CID,
		DependsOn: []string{"create_subgraph"},
		Args: map[string]any{
			"graphId":   graphID,
			"edges":     edgeArgs(plan.GraphSpec.Edges),
			"instances": nameToInstance,
		},
	}

	nextMeta := *meta
	nextMeta.Iteration = in.Iteration + 1
	nextMeta.AgenticLoop = true
	nextMeta.ChainState = nil
	return c.executor.enqueueGoal("create_subgraph", []models.Task{createTask, connectTask}, nextMeta, in.CID)
}

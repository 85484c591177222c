package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// ToolCall reports one queued unit of work back to the client.
type ToolCall struct {
	Name   string         `json:"name"`
	Status string         `json:"status"`
	Args   map[string]any `json:"args,omitempty"`
}

// Result is the executor's answer to a dispatched plan.
type Result struct {
	Response  string     `json:"response"`
	ToolCalls []ToolCall `json:"toolCalls"`
	GoalID    string     `json:"goalId,omitempty"`
}

// Executor maps planner intents onto pipeline goals and compiles queued
// tasks into patches. Name resolution happens against the projected store;
// failed lookups produce a conversational response and no enqueue.
type Executor struct {
	store   *store.Store
	queues  *queue.Manager
	events  *events.Log
	tracer  *trace.Tracer
	logger  *slog.Logger
	planner *Planner
}

// NewExecutor wires the executor. planner is used for decompose_goal
// recursion (an in-process call, not a network round trip).
func NewExecutor(st *store.Store, queues *queue.Manager, evLog *events.Log, tracer *trace.Tracer, logger *slog.Logger, planner *Planner) *Executor {
	return &Executor{store: st, queues: queues, events: evLog, tracer: tracer, logger: logger, planner: planner}
}

// Dispatch routes a plan: conversational intents answer directly, mutating
// intents enqueue a goal, decompose_goal recurses into the planner for its
// first subgoal and chains the rest through meta.
func (e *Executor) Dispatch(ctx context.Context, plan models.Plan, req PlanRequest) (Result, error) {
	e.tracer.RecordStage(req.CID, trace.StageExecutor, map[string]any{"intent": string(plan.Intent)})
	res, err := e.dispatch(ctx, plan, req, nil)
	if err != nil {
		e.tracer.CompleteStage(req.CID, trace.StageExecutor, trace.StatusError, map[string]any{"error": err.Error()})
		return res, err
	}
	e.tracer.CompleteStage(req.CID, trace.StageExecutor, trace.StatusSuccess, map[string]any{"goalId": res.GoalID})
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if !plan.Intent.IsKnown() {
		// Unknown intents are conversational, never errors.
		resp := plan.Response
		if resp == "" {
			resp = "I'm not sure how to help with that yet, but I can create and edit graphs, nodes, and connections."
		}
		return Result{Response: resp, ToolCalls: []ToolCall{}}, nil
	}

	switch plan.Intent {
	case models.IntentQA, models.IntentAnalyze:
		return Result{Response: plan.Response, ToolCalls: []ToolCall{}}, nil

	case models.IntentDecomposeGoal:
		return e.dispatchDecompose(ctx, plan, req)

	case models.IntentCreateGraph:
		if plan.GraphSpec != nil && len(plan.GraphSpec.Nodes) > 0 {
			return e.dispatchPopulatedGraph(plan, req, chain, 0)
		}
		return e.dispatchCreateGraph(plan, req, chain)

	case models.IntentCreateNode:
		return e.dispatchCreateNode(plan, req, chain)

	case models.IntentUpdateNode, models.IntentEnrichNode:
		return e.dispatchUpdateNode(plan, req, chain)

	case models.IntentDeleteNode:
		return e.dispatchDeleteNode(plan, req, chain)

	case models.IntentBulkDelete:
		return e.dispatchBulkDelete(plan, req, chain)

	case models.IntentDeleteGraph:
		return e.dispatchDeleteGraph(plan, req, chain)

	case models.IntentCreateEdge, models.IntentDefineConnections:
		return e.dispatchCreateEdges(plan, req, chain)

	case models.IntentUpdateEdge, models.IntentDeleteEdge:
		return e.dispatchEdgeChange(plan, req, chain)
	}

	return Result{Response: plan.Response, ToolCalls: []ToolCall{}}, nil
}

// dispatchDecompose re-plans the first subgoal in-process and carries the
// remaining subgoals in meta.chainState for the continuation loop.
func (e *Executor) dispatchDecompose(ctx context.Context, plan models.Plan, req PlanRequest) (Result, error) {
	if len(plan.Subgoals) == 0 {
		return Result{Response: plan.Response, ToolCalls: []ToolCall{}}, nil
	}
	first := plan.Subgoals[0]
	chain := &models.ChainState{RemainingSubgoals: plan.Subgoals[1:]}

	subReq := req
	subReq.Message = first
	subPlan, err := e.planner.Plan(ctx, subReq)
	if err != nil {
		return Result{}, err
	}
	if subPlan.Intent == models.IntentDecomposeGoal {
		// A subgoal must not decompose again; treat it as conversational.
		return Result{Response: subPlan.Response, ToolCalls: []ToolCall{}}, nil
	}
	res, err := e.dispatch(ctx, subPlan, subReq, chain)
	if err != nil {
		return res, err
	}
	if plan.Response != "" && res.Response != plan.Response {
		res.Response = plan.Response + " " + res.Response
	}
	return res, nil
}

func (e *Executor) dispatchCreateGraph(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if plan.Graph == nil || plan.Graph.Name == "" {
		return Result{Response: "What should the new graph be called?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := uuid.New().String()
	task := models.Task{
		ToolName: "create_graph",
		ThreadID: req.CID,
		Args: map[string]any{
			"graphId":   graphID,
			"graphName": plan.Graph.Name,
		},
	}
	goalID := e.enqueueGoal("create_graph", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response: plan.Response,
		ToolCalls: []ToolCall{
			{Name: "create_graph", Status: "queued", Args: map[string]any{"graphName": plan.Graph.Name}},
		},
		GoalID: goalID,
	}, nil
}

// dispatchPopulatedGraph issues the two-task agentic DAG:
// create_populated_graph then define_connections. Prototype and instance
// ids are pre-generated here so both tasks compile independently.
func (e *Executor) dispatchPopulatedGraph(plan models.Plan, req PlanRequest, chain *models.ChainState, iteration int) (Result, error) {
	name := ""
	if plan.Graph != nil {
		name = plan.Graph.Name
	}
	if name == "" {
		name = "New Graph"
	}
	graphID := uuid.New().String()

	nodes, nameToInstance := materializeNodes(plan.GraphSpec.Nodes)
	createTask := models.Task{
		ToolName: "create_populated_graph",
		ThreadID: req.CID,
		Args: map[string]any{
			"graphId":         graphID,
			"graphName":       name,
			"nodes":           nodes,
			"layoutAlgorithm": plan.GraphSpec.LayoutAlgorithm,
		},
	}
	connectTask := models.Task{
		ToolName:  "define_connections",
		ThreadID:  req.CID,
		DependsOn: []string{"create_populated_graph"},
		Args: map[string]any{
			"graphId":   graphID,
			"edges":     edgeArgs(plan.GraphSpec.Edges),
			"instances": nameToInstance,
		},
	}

	meta := e.buildMeta(req, chain, true, iteration)
	goalID := e.enqueueGoal("create_populated_graph", []models.Task{createTask, connectTask}, meta, req.CID)
	return Result{
		Response: plan.Response,
		ToolCalls: []ToolCall{
			{Name: "create_populated_graph", Status: "queued", Args: map[string]any{"graphName": name, "nodeCount": len(plan.GraphSpec.Nodes)}},
			{Name: "define_connections", Status: "queued", Args: map[string]any{"edgeCount": len(plan.GraphSpec.Edges)}},
		},
		GoalID: goalID,
	}, nil
}

func (e *Executor) dispatchCreateNode(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	node := plan.Node
	if node == nil && len(plan.Nodes) > 0 {
		node = &plan.Nodes[0]
	}
	if node == nil || node.Name == "" {
		return Result{Response: "What should the new node be called?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := e.store.ActiveGraphID()
	if graphID == "" {
		return Result{Response: "There's no active graph to add the node to. Open a graph first.", ToolCalls: []ToolCall{}}, nil
	}
	task := models.Task{
		ToolName: "create_node",
		ThreadID: req.CID,
		Args: map[string]any{
			"graphId":     graphID,
			"prototypeId": uuid.New().String(),
			"instanceId":  uuid.New().String(),
			"name":        node.Name,
			"color":       node.Color,
			"description": node.Description,
			"x":           node.X,
			"y":           node.Y,
		},
	}
	goalID := e.enqueueGoal("create_node", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: "create_node", Status: "queued", Args: map[string]any{"name": node.Name}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchUpdateNode(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if plan.Node == nil || plan.Node.Name == "" {
		return Result{Response: "Which node should I update?", ToolCalls: []ToolCall{}}, nil
	}
	proto, ok := e.store.FindPrototypeByName(plan.Node.Name)
	if !ok {
		return Result{Response: fmt.Sprintf("I couldn't find a node named %q in the current graph.", plan.Node.Name), ToolCalls: []ToolCall{}}, nil
	}
	toolName := "update_node"
	if plan.Intent == models.IntentEnrichNode {
		toolName = "enrich_node"
	}
	task := models.Task{
		ToolName: toolName,
		ThreadID: req.CID,
		Args: map[string]any{
			"graphId":     e.store.ActiveGraphID(),
			"prototypeId": proto.ID,
			"color":       plan.Node.Color,
			"description": plan.Node.Description,
		},
	}
	goalID := e.enqueueGoal(toolName, []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: toolName, Status: "queued", Args: map[string]any{"name": plan.Node.Name}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchDeleteNode(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if plan.Node == nil || plan.Node.Name == "" {
		return Result{Response: "Which node should I delete?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := e.store.ActiveGraphID()
	proto, ok := e.store.FindPrototypeByName(plan.Node.Name)
	if !ok {
		return Result{Response: fmt.Sprintf("I couldn't find a node named %q.", plan.Node.Name), ToolCalls: []ToolCall{}}, nil
	}
	inst, ok := e.store.FindInstanceByPrototype(graphID, proto.ID)
	if !ok {
		return Result{Response: fmt.Sprintf("%q isn't placed in the active graph.", plan.Node.Name), ToolCalls: []ToolCall{}}, nil
	}
	task := models.Task{
		ToolName: "delete_node",
		ThreadID: req.CID,
		Args:     map[string]any{"graphId": graphID, "instanceId": inst.ID},
	}
	goalID := e.enqueueGoal("delete_node", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: "delete_node", Status: "queued", Args: map[string]any{"name": plan.Node.Name}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchBulkDelete(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if len(plan.Nodes) == 0 {
		return Result{Response: "Which nodes should I delete?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := e.store.ActiveGraphID()
	var instanceIDs []any
	var missing []string
	for _, n := range plan.Nodes {
		proto, ok := e.store.FindPrototypeByName(n.Name)
		if !ok {
			missing = append(missing, n.Name)
			continue
		}
		if inst, ok := e.store.FindInstanceByPrototype(graphID, proto.ID); ok {
			instanceIDs = append(instanceIDs, inst.ID)
		} else {
			missing = append(missing, n.Name)
		}
	}
	if len(instanceIDs) == 0 {
		return Result{Response: "I couldn't find any of those nodes in the active graph.", ToolCalls: []ToolCall{}}, nil
	}
	task := models.Task{
		ToolName: "bulk_delete",
		ThreadID: req.CID,
		Args:     map[string]any{"graphId": graphID, "instanceIds": instanceIDs},
	}
	goalID := e.enqueueGoal("bulk_delete", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	resp := plan.Response
	if len(missing) > 0 {
		resp = fmt.Sprintf("%s (couldn't find: %v)", resp, missing)
	}
	return Result{
		Response:  resp,
		ToolCalls: []ToolCall{{Name: "bulk_delete", Status: "queued", Args: map[string]any{"count": len(instanceIDs)}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchDeleteGraph(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if plan.Graph == nil || plan.Graph.Name == "" {
		return Result{Response: "Which graph should I delete?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := ""
	for id, g := range e.store.State().Graphs {
		if g.Name == plan.Graph.Name {
			graphID = id
			break
		}
	}
	if graphID == "" {
		return Result{Response: fmt.Sprintf("I couldn't find a graph named %q.", plan.Graph.Name), ToolCalls: []ToolCall{}}, nil
	}
	task := models.Task{
		ToolName: "delete_graph",
		ThreadID: req.CID,
		Args:     map[string]any{"graphId": graphID},
	}
	goalID := e.enqueueGoal("delete_graph", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: "delete_graph", Status: "queued", Args: map[string]any{"graphName": plan.Graph.Name}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchCreateEdges(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	edges := plan.Edges
	if plan.Edge != nil {
		edges = append([]models.EdgeSpec{*plan.Edge}, edges...)
	}
	if len(edges) == 0 {
		return Result{Response: "Which nodes should I connect?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := e.store.ActiveGraphID()
	if graphID == "" {
		return Result{Response: "There's no active graph to add connections to.", ToolCalls: []ToolCall{}}, nil
	}

	var compiled []map[string]any
	for _, spec := range edges {
		srcInst, dstInst, err := e.resolveEndpoints(graphID, spec.Source, spec.Target)
		if err != nil {
			return Result{Response: err.Error(), ToolCalls: []ToolCall{}}, nil
		}
		arg := map[string]any{
			"edgeId":        uuid.New().String(),
			"sourceId":      srcInst,
			"destinationId": dstInst,
			"arrowsToward":  arrowsFor(spec.Directionality, srcInst, dstInst),
		}
		if spec.DefinitionNode != nil && spec.DefinitionNode.Name != "" {
			arg["name"] = spec.DefinitionNode.Name
		}
		compiled = append(compiled, arg)
	}

	task := models.Task{
		ToolName: "create_edge",
		ThreadID: req.CID,
		Args:     map[string]any{"graphId": graphID, "edges": compiled},
	}
	goalID := e.enqueueGoal("create_edge", []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: "create_edge", Status: "queued", Args: map[string]any{"count": len(compiled)}}},
		GoalID:    goalID,
	}, nil
}

func (e *Executor) dispatchEdgeChange(plan models.Plan, req PlanRequest, chain *models.ChainState) (Result, error) {
	if plan.Edge == nil {
		return Result{Response: "Which connection do you mean?", ToolCalls: []ToolCall{}}, nil
	}
	graphID := e.store.ActiveGraphID()
	srcInst, dstInst, err := e.resolveEndpoints(graphID, plan.Edge.Source, plan.Edge.Target)
	if err != nil {
		return Result{Response: err.Error(), ToolCalls: []ToolCall{}}, nil
	}
	edge, ok := e.store.FindEdgeBetween(graphID, srcInst, dstInst)
	if !ok {
		return Result{Response: fmt.Sprintf("There's no connection between %q and %q.", plan.Edge.Source, plan.Edge.Target), ToolCalls: []ToolCall{}}, nil
	}

	toolName := "delete_edge"
	args := map[string]any{"graphId": graphID, "edgeId": edge.ID}
	if plan.Intent == models.IntentUpdateEdge {
		toolName = "update_edge"
		args["sourceId"] = srcInst
		args["destinationId"] = dstInst
		args["arrowsToward"] = arrowsFor(plan.Edge.Directionality, srcInst, dstInst)
		if plan.Edge.DefinitionNode != nil {
			args["name"] = plan.Edge.DefinitionNode.Name
		}
	}
	task := models.Task{ToolName: toolName, ThreadID: req.CID, Args: args}
	goalID := e.enqueueGoal(toolName, []models.Task{task}, e.buildMeta(req, chain, false, 0), req.CID)
	return Result{
		Response:  plan.Response,
		ToolCalls: []ToolCall{{Name: toolName, Status: "queued", Args: map[string]any{"source": plan.Edge.Source, "target": plan.Edge.Target}}},
		GoalID:    goalID,
	}, nil
}

// resolveEndpoints maps two node names to instance ids in the graph.
func (e *Executor) resolveEndpoints(graphID, source, target string) (string, string, error) {
	srcProto, ok := e.store.FindPrototypeByName(source)
	if !ok {
		return "", "", fmt.Errorf("I couldn't find a node named %q.", source)
	}
	dstProto, ok := e.store.FindPrototypeByName(target)
	if !ok {
		return "", "", fmt.Errorf("I couldn't find a node named %q.", target)
	}
	srcInst, ok := e.store.FindInstanceByPrototype(graphID, srcProto.ID)
	if !ok {
		return "", "", fmt.Errorf("%q isn't placed in the active graph.", source)
	}
	dstInst, ok := e.store.FindInstanceByPrototype(graphID, dstProto.ID)
	if !ok {
		return "", "", fmt.Errorf("%q isn't placed in the active graph.", target)
	}
	return srcInst.ID, dstInst.ID, nil
}

// enqueueGoal pushes a goal onto the goal queue and emits GOAL_ENQUEUED.
func (e *Executor) enqueueGoal(goalName string, tasks []models.Task, meta models.GoalMeta, cid string) string {
	goal := models.Goal{
		ID:       uuid.New().String(),
		Goal:     goalName,
		DAG:      models.DAG{Tasks: tasks},
		ThreadID: cid,
		Meta:     meta,
	}
	if _, err := e.queues.Enqueue(queue.GoalQueue, goalName, goal, cid); err != nil {
		e.logger.Error("goal enqueue failed", slog.Any("error", err))
		return ""
	}
	e.events.Append(events.EventGoalEnqueued, map[string]any{
		"cid": cid, "goal": goalName, "goalId": goal.ID, "isTest": meta.IsTest,
	})
	return goal.ID
}

func (e *Executor) buildMeta(req PlanRequest, chain *models.ChainState, agentic bool, iteration int) models.GoalMeta {
	history := req.ConversationHistory
	if len(history) > maxConversationTurn {
		history = history[len(history)-maxConversationTurn:]
	}
	return models.GoalMeta{
		Iteration:           iteration,
		AgenticLoop:         agentic,
		APIKey:              req.APIKey,
		APIConfig:           req.APIConfig,
		OriginalMessage:     req.Message,
		ConversationHistory: history,
		ChainState:          chain,
		IsTest:              req.IsTest,
	}
}

// arrowsFor maps a planner directionality onto the UI's arrowsToward list.
func arrowsFor(directionality, sourceID, targetID string) []any {
	switch directionality {
	case "bidirectional":
		return []any{sourceID, targetID}
	case "none", "undirected":
		return []any{}
	case "reverse":
		return []any{sourceID}
	default: // unidirectional
		return []any{targetID}
	}
}

// materializeNodes pre-generates prototype and instance ids for a graph
// spec and lays the nodes on a simple grid for the UI to refine.
func materializeNodes(specs []models.NodeSpec) ([]map[string]any, map[string]any) {
	const cols = 4
	const spacing = 220.0

	nodes := make([]map[string]any, 0, len(specs))
	nameToInstance := make(map[string]any, len(specs))
	for i, n := range specs {
		protoID := uuid.New().String()
		instID := uuid.New().String()
		x, y := n.X, n.Y
		if x == 0 && y == 0 {
			x = float64(i%cols)*spacing + 100
			y = float64(i/cols)*spacing + 100
		}
		nodes = append(nodes, map[string]any{
			"prototypeId": protoID,
			"instanceId":  instID,
			"name":        n.Name,
			"color":       n.Color,
			"description": n.Description,
			"x":           x,
			"y":           y,
		})
		nameToInstance[n.Name] = instID
	}
	return nodes, nameToInstance
}

func edgeArgs(specs []models.EdgeSpec) []map[string]any {
	out := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		arg := map[string]any{
			"source":         spec.Source,
			"target":         spec.Target,
			"directionality": spec.Directionality,
		}
		if spec.DefinitionNode != nil {
			arg["definitionNode"] = map[string]any{"name": spec.DefinitionNode.Name, "color": spec.DefinitionNode.Color}
		}
		out = append(out, arg)
	}
	return out
}

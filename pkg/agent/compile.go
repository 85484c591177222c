package agent

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
)

// taskEnvelope is the task queue payload: the task plus the goal context
// it needs to compile into a patch.
type taskEnvelope struct {
	Task    models.Task      `json:"task"`
	GoalID  string           `json:"goalId"`
	GraphID string           `json:"graphId,omitempty"`
	Meta    *models.GoalMeta `json:"meta,omitempty"`
}

// ProcessGoals expands up to max goals into task queue items. Tasks keep
// the goal's partition so per-conversation ordering holds.
func (e *Executor) ProcessGoals(max int) int {
	items, err := e.queues.Pull(queue.GoalQueue, queue.PullOptions{Max: max})
	if err != nil {
		return 0
	}
	processed := 0
	for _, item := range items {
		goal, ok := item.Payload.(models.Goal)
		if !ok {
			e.queues.Nack(queue.GoalQueue, item.LeaseID, "validation_failed")
			continue
		}
		meta := goal.Meta
		for _, task := range goal.DAG.Tasks {
			env := taskEnvelope{
				Task:    task,
				GoalID:  goal.ID,
				GraphID: argString(task.Args, "graphId"),
				Meta:    &meta,
			}
			if _, err := e.queues.Enqueue(queue.TaskQueue, task.ToolName, env, goal.ThreadID); err != nil {
				e.logger.Error("task enqueue failed", slog.Any("error", err))
				continue
			}
			e.events.Append(events.EventTaskEnqueued, map[string]any{
				"cid": goal.ThreadID, "goalId": goal.ID, "task": task.ToolName, "isTest": meta.IsTest,
			})
		}
		e.queues.Ack(queue.GoalQueue, item.LeaseID)
		processed++
	}
	return processed
}

// SeedTask wraps a bare task in the envelope ProcessGoals would have
// produced and enqueues it, so directly seeded tasks compile like
// dispatched ones instead of failing payload validation. Seeded tasks are
// marked as test traffic.
func (e *Executor) SeedTask(task models.Task) (string, error) {
	env := taskEnvelope{
		Task:    task,
		GoalID:  uuid.New().String(),
		GraphID: argString(task.Args, "graphId"),
		Meta:    &models.GoalMeta{IsTest: true},
	}
	id, err := e.queues.Enqueue(queue.TaskQueue, task.ToolName, env, task.ThreadID)
	if err != nil {
		return "", err
	}
	e.events.Append(events.EventTaskEnqueued, map[string]any{
		"cid": task.ThreadID, "goalId": env.GoalID, "task": task.ToolName, "isTest": true,
	})
	return id, nil
}

// ProcessTasks compiles up to max tasks into patches on the patch queue.
// Compilation failures are non-retriable: the task args were resolved at
// dispatch time and will not improve on retry.
func (e *Executor) ProcessTasks(max int) int {
	items, err := e.queues.Pull(queue.TaskQueue, queue.PullOptions{Max: max})
	if err != nil {
		return 0
	}
	processed := 0
	for _, item := range items {
		env, ok := item.Payload.(taskEnvelope)
		if !ok {
			e.queues.Nack(queue.TaskQueue, item.LeaseID, "validation_failed")
			continue
		}
		ops, graphID, err := e.compileTask(env)
		if err != nil {
			e.logger.Warn("task compile failed",
				slog.String("task", env.Task.ToolName), slog.Any("error", err))
			e.queues.Nack(queue.TaskQueue, item.LeaseID, "validation_failed")
			e.events.Append(events.EventTelemetry, map[string]any{
				"telemetryType": "action_feedback", "status": "failed",
				"action": env.Task.ToolName, "error": err.Error(),
				"isTest": env.Meta != nil && env.Meta.IsTest,
			})
			continue
		}
		if len(ops) == 0 {
			// Read-only tasks (audit_graph) produce no patch.
			e.queues.Ack(queue.TaskQueue, item.LeaseID)
			processed++
			continue
		}
		patch := models.Patch{
			PatchID:  uuid.New().String(),
			GraphID:  graphID,
			GoalID:   env.GoalID,
			ThreadID: env.Task.ThreadID,
			BaseHash: e.store.Head(graphID),
			Ops:      ops,
			Meta:     env.Meta,
		}
		if _, err := e.queues.Enqueue(queue.PatchQueue, env.Task.ToolName, patch, graphID); err != nil {
			e.logger.Error("patch enqueue failed", slog.Any("error", err))
			e.queues.Nack(queue.TaskQueue, item.LeaseID, "")
			continue
		}
		e.events.Append(events.EventPatchSubmitted, map[string]any{
			"cid": env.Task.ThreadID, "patchId": patch.PatchID, "graphId": graphID,
			"ops": len(ops), "isTest": env.Meta != nil && env.Meta.IsTest,
		})
		e.queues.Ack(queue.TaskQueue, item.LeaseID)
		processed++
	}
	return processed
}

// compileTask lowers one task into mutation ops. graphId comes from the
// task args; ids were pre-generated at dispatch time.
func (e *Executor) compileTask(env taskEnvelope) ([]models.Op, string, error) {
	args := env.Task.Args
	graphID := argString(args, "graphId")

	switch env.Task.ToolName {
	case "create_graph":
		return []models.Op{
			{Type: models.OpCreateNewGraph, Params: map[string]any{
				"graphId": graphID, "name": argString(args, "graphName"),
			}},
		}, graphID, nil

	case "create_populated_graph", "create_subgraph":
		ops := []models.Op{
			{Type: models.OpCreateNewGraph, Params: map[string]any{
				"graphId": graphID, "name": argString(args, "graphName"),
			}},
		}
		nodes, ok := args["nodes"].([]map[string]any)
		if !ok {
			if raw, isAny := args["nodes"].([]any); isAny {
				for _, n := range raw {
					if m, isMap := n.(map[string]any); isMap {
						nodes = append(nodes, m)
					}
				}
			}
		}
		for _, n := range nodes {
			ops = append(ops,
				models.Op{Type: models.OpAddNodePrototype, Params: map[string]any{
					"prototypeId": n["prototypeId"], "name": n["name"],
					"color": n["color"], "description": n["description"],
				}},
				models.Op{Type: models.OpAddNodeInstance, Params: map[string]any{
					"graphId": graphID, "instanceId": n["instanceId"],
					"prototypeId": n["prototypeId"], "x": n["x"], "y": n["y"],
				}},
			)
		}
		return ops, graphID, nil

	case "define_connections":
		instances, _ := args["instances"].(map[string]any)
		edges := anyMaps(args["edges"])
		var ops []models.Op
		for _, edge := range edges {
			source, _ := edge["source"].(string)
			target, _ := edge["target"].(string)
			srcID, srcOK := resolveInstance(e, graphID, instances, source)
			dstID, dstOK := resolveInstance(e, graphID, instances, target)
			if !srcOK || !dstOK {
				return nil, "", fmt.Errorf("edge endpoints %q -> %q unresolved", source, target)
			}
			dir, _ := edge["directionality"].(string)
			params := map[string]any{
				"graphId": graphID, "edgeId": uuid.New().String(),
				"sourceId": srcID, "destinationId": dstID,
				"arrowsToward": arrowsFor(dir, srcID, dstID),
			}
			if def, ok := edge["definitionNode"].(map[string]any); ok {
				if name, _ := def["name"].(string); name != "" {
					params["name"] = name
				}
			}
			ops = append(ops, models.Op{Type: models.OpAddEdge, Params: params})
		}
		return ops, graphID, nil

	case "create_node":
		return []models.Op{
			{Type: models.OpAddNodePrototype, Params: map[string]any{
				"prototypeId": args["prototypeId"], "name": args["name"],
				"color": args["color"], "description": args["description"],
			}},
			{Type: models.OpAddNodeInstance, Params: map[string]any{
				"graphId": graphID, "instanceId": args["instanceId"],
				"prototypeId": args["prototypeId"], "x": args["x"], "y": args["y"],
			}},
		}, graphID, nil

	case "update_node", "enrich_node":
		return []models.Op{
			{Type: models.OpUpdateNodePrototype, Params: map[string]any{
				"prototypeId": args["prototypeId"],
				"color":       args["color"], "description": args["description"],
			}},
		}, graphID, nil

	case "delete_node":
		return []models.Op{
			{Type: models.OpRemoveNodeInstance, Params: map[string]any{
				"graphId": graphID, "instanceId": args["instanceId"],
			}},
		}, graphID, nil

	case "bulk_delete":
		var ops []models.Op
		for _, id := range anyStrings(args["instanceIds"]) {
			ops = append(ops, models.Op{Type: models.OpRemoveNodeInstance, Params: map[string]any{
				"graphId": graphID, "instanceId": id,
			}})
		}
		return ops, graphID, nil

	case "delete_graph":
		return []models.Op{
			{Type: models.OpDeleteGraph, Params: map[string]any{"graphId": graphID}},
		}, graphID, nil

	case "create_edge":
		var ops []models.Op
		for _, edge := range anyMaps(args["edges"]) {
			params := map[string]any{"graphId": graphID}
			for k, v := range edge {
				params[k] = v
			}
			ops = append(ops, models.Op{Type: models.OpAddEdge, Params: params})
		}
		return ops, graphID, nil

	case "update_edge":
		return []models.Op{
			{Type: models.OpDeleteEdge, Params: map[string]any{"graphId": graphID, "edgeId": args["edgeId"]}},
			{Type: models.OpAddEdge, Params: map[string]any{
				"graphId": graphID, "edgeId": uuid.New().String(),
				"sourceId": args["sourceId"], "destinationId": args["destinationId"],
				"arrowsToward": args["arrowsToward"], "name": args["name"],
			}},
		}, graphID, nil

	case "delete_edge":
		return []models.Op{
			{Type: models.OpDeleteEdge, Params: map[string]any{"graphId": graphID, "edgeId": args["edgeId"]}},
		}, graphID, nil

	case "audit_graph":
		return nil, graphID, nil
	}

	return nil, "", fmt.Errorf("unknown task %q", env.Task.ToolName)
}

// resolveInstance looks up an edge endpoint first in the pre-generated
// instance map, then falls back to the live store for nodes that already
// existed before this goal.
func resolveInstance(e *Executor, graphID string, instances map[string]any, name string) (string, bool) {
	if id, ok := instances[name].(string); ok && id != "" {
		return id, true
	}
	proto, ok := e.store.FindPrototypeByName(name)
	if !ok {
		return "", false
	}
	inst, ok := e.store.FindInstanceByPrototype(graphID, proto.ID)
	if !ok {
		return "", false
	}
	return inst.ID, true
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func anyMaps(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func anyStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

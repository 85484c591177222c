package agent

import (
	"hash/fnv"
	"log/slog"

	"github.com/theredstring/redstring-bridge/pkg/actions"
	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// graphShards is the size of the per-graph commit mutex pool.
const graphShards = 16

// ContinuationRequest is what the committer reports to the continuation
// loop after an agentic phase lands.
type ContinuationRequest struct {
	CID        string
	LastAction string
	GraphID    string
	GraphState models.GraphState
	Iteration  int
	Meta       *models.GoalMeta
}

// Committer is the single writer: only it turns approved reviews into
// applyMutations pending actions, and only it mirrors ops into the
// projected store. Commits serialize per graph id.
type Committer struct {
	queues *queue.Manager
	broker *actions.Broker
	store  *store.Store
	ledger *CommitLedger
	events *events.Log
	tracer *trace.Tracer
	logger *slog.Logger

	shards [graphShards]chan struct{}

	// onContinue fires after an agentic applyMutations completes.
	onContinue func(ContinuationRequest)
}

// NewCommitter wires the committer and registers its completion handler on
// the broker.
func NewCommitter(queues *queue.Manager, broker *actions.Broker, st *store.Store, ledger *CommitLedger, evLog *events.Log, tracer *trace.Tracer, logger *slog.Logger) *Committer {
	c := &Committer{
		queues: queues,
		broker: broker,
		store:  st,
		ledger: ledger,
		events: evLog,
		tracer: tracer,
		logger: logger,
	}
	for i := range c.shards {
		c.shards[i] = make(chan struct{}, 1)
	}
	broker.SetCompletionHandler(c.OnActionCompleted)
	return c
}

// SetContinuation registers the agentic continuation callback.
func (c *Committer) SetContinuation(fn func(ContinuationRequest)) {
	c.onContinue = fn
}

// ProcessReviews commits up to max approved reviews into pending actions.
func (c *Committer) ProcessReviews(max int) int {
	items, err := c.queues.Pull(queue.ReviewQueue, queue.PullOptions{Max: max})
	if err != nil {
		return 0
	}
	processed := 0
	for _, item := range items {
		review, ok := item.Payload.(models.Review)
		if !ok {
			c.queues.Nack(queue.ReviewQueue, item.LeaseID, "validation_failed")
			continue
		}
		if review.Decision == models.DecisionApproved {
			for _, patch := range review.AllPatches() {
				c.commit(patch)
			}
		}
		c.queues.Ack(queue.ReviewQueue, item.LeaseID)
		processed++
	}
	return processed
}

// commit mirrors the patch locally, records it in the ledger, and enqueues
// the UI-bound pending actions. Re-committed patch ids are silently acked.
func (c *Committer) commit(patch models.Patch) {
	if len(patch.Ops) == 0 || !c.ledger.Record(patch.PatchID) {
		return
	}

	cid := patch.ThreadID
	c.tracer.RecordStage(cid, trace.StageCommitter, map[string]any{"patchId": patch.PatchID})

	lock := c.shards[shardFor(patch.GraphID)]
	lock <- struct{}{}
	err := c.store.ApplyOps(patch.GraphID, patch.Ops)
	<-lock
	if err != nil {
		c.tracer.CompleteStage(cid, trace.StageCommitter, trace.StatusError, map[string]any{"error": err.Error()})
		c.logger.Error("local mirror apply failed",
			slog.String("patchId", patch.PatchID), slog.Any("error", err))
		c.events.Append(events.EventTelemetry, map[string]any{
			"telemetryType": "action_feedback", "status": "failed",
			"cid": cid, "patchId": patch.PatchID, "error": err.Error(),
			"isTest": patch.Meta != nil && patch.Meta.IsTest,
		})
		return
	}

	c.ledger.RecordGoal(patch.GraphID, patch.GoalID)

	isTest := patch.Meta != nil && patch.Meta.IsTest
	agentic := patch.Meta != nil && patch.Meta.AgenticLoop
	opParams := make([]any, 0, len(patch.Ops))
	for _, op := range patch.Ops {
		opParams = append(opParams, map[string]any{"type": op.Type, "params": op.Params})
	}
	pending := []models.PendingAction{{
		Action: models.ActionApplyMutations,
		Params: []any{map[string]any{"graphId": patch.GraphID, "ops": opParams}},
		Meta: &models.ActionMeta{
			CID:         cid,
			PatchID:     patch.PatchID,
			GraphID:     patch.GraphID,
			AgenticLoop: agentic,
			Goal:        patch.Meta,
		},
	}}
	pending = actions.WithOpenGraph(pending, func(graphID string) bool {
		return c.store.ActiveGraphID() == graphID
	})
	enqueued := c.broker.Enqueue(pending...)

	c.events.Append(events.EventPatchApplied, map[string]any{
		"cid": cid, "patchId": patch.PatchID, "graphId": patch.GraphID,
		"ops": len(patch.Ops), "isTest": isTest,
	})
	c.events.Append(events.EventPendingActionsEnqueued, map[string]any{
		"cid": cid, "count": len(enqueued), "graphId": patch.GraphID, "isTest": isTest,
	})
	c.tracer.CompleteStage(cid, trace.StageCommitter, trace.StatusSuccess, map[string]any{
		"patchId": patch.PatchID, "actions": len(enqueued),
	})
}

// OnActionCompleted reacts to the UI acknowledging an action. openGraph
// updates the mirror's active graph; a completed agentic applyMutations
// triggers the continuation loop.
func (c *Committer) OnActionCompleted(action models.PendingAction) {
	switch action.Action {
	case models.ActionOpenGraph, models.ActionSetActiveGraph:
		if len(action.Params) > 0 {
			if graphID, ok := action.Params[0].(string); ok {
				c.store.SetActiveGraph(graphID)
			}
		}
	case models.ActionApplyMutations:
		meta := action.Meta
		if meta == nil || !meta.AgenticLoop || meta.Goal == nil || c.onContinue == nil {
			return
		}
		iteration := meta.Goal.Iteration
		req := ContinuationRequest{
			CID:        meta.CID,
			LastAction: action.Action,
			GraphID:    meta.GraphID,
			GraphState: c.store.GraphState(meta.GraphID, maxContextNodeNames),
			Iteration:  iteration + 1,
			Meta:       meta.Goal,
		}
		// The continuation makes model calls; keep the broker's complete
		// path non-blocking.
		go c.onContinue(req)
	}
}

func shardFor(graphID string) int {
	h := fnv.New32a()
	h.Write([]byte(graphID))
	return int(h.Sum32() % graphShards)
}

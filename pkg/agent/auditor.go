package agent

import (
	"log/slog"

	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// Auditor validates submitted patches and turns them into reviews. It is
// the gatekeeper between the executor's proposals and the committer.
type Auditor struct {
	store  *store.Store
	queues *queue.Manager
	events *events.Log
	ledger *CommitLedger
	tracer *trace.Tracer
	logger *slog.Logger
}

// NewAuditor wires the auditor. ledger is shared with the committer so
// already-committed patch ids are caught before commit.
func NewAuditor(st *store.Store, queues *queue.Manager, evLog *events.Log, ledger *CommitLedger, tracer *trace.Tracer, logger *slog.Logger) *Auditor {
	return &Auditor{store: st, queues: queues, events: evLog, ledger: ledger, tracer: tracer, logger: logger}
}

// ProcessPatches audits up to max patches. Each patch yields a review on
// the review queue; the source patch item is acked either way. Duplicate
// ops are dropped from the patch, never the whole patch.
func (a *Auditor) ProcessPatches(max int) int {
	items, err := a.queues.Pull(queue.PatchQueue, queue.PullOptions{Max: max})
	if err != nil {
		return 0
	}
	processed := 0
	for _, item := range items {
		patch, ok := item.Payload.(models.Patch)
		if !ok {
			a.queues.Nack(queue.PatchQueue, item.LeaseID, "validation_failed")
			continue
		}
		review := a.Audit(patch)
		a.submitReview(review, patch)
		a.queues.Ack(queue.PatchQueue, item.LeaseID)
		processed++
	}
	return processed
}

// Audit validates one patch: shape, idempotency, base hash, and fuzzy
// duplicate node names.
func (a *Auditor) Audit(patch models.Patch) models.Review {
	cid := patch.ThreadID
	a.tracer.RecordStage(cid, trace.StageAuditor, map[string]any{"patchId": patch.PatchID})

	if reason, ok := a.validateShape(patch); !ok {
		return a.reject(cid, patch, reason)
	}
	if a.ledger.Committed(patch.PatchID) {
		// Idempotent re-submit: approve with no ops so the committer acks
		// silently without producing a second pending-action sequence.
		a.tracer.CompleteStage(cid, trace.StageAuditor, trace.StatusSuccess, map[string]any{"duplicate": true})
		patch.Ops = nil
		return models.Review{Decision: models.DecisionApproved, GraphID: patch.GraphID, Patch: &patch}
	}
	if patch.BaseHash != "" && patch.BaseHash != a.store.Head(patch.GraphID) {
		// A head advanced by an earlier patch of the same goal is pipeline
		// progress, not a conflict: sibling tasks compile against the head
		// they saw at compile time, which may predate the first commit.
		if patch.GoalID == "" || a.ledger.LastGoal(patch.GraphID) != patch.GoalID {
			return a.reject(cid, patch, "stale_base")
		}
	}

	patch.Ops = a.dropDuplicateOps(patch.GraphID, patch.Ops)

	a.tracer.CompleteStage(cid, trace.StageAuditor, trace.StatusSuccess, map[string]any{"ops": len(patch.Ops)})
	return models.Review{Decision: models.DecisionApproved, GraphID: patch.GraphID, Patch: &patch}
}

func (a *Auditor) validateShape(patch models.Patch) (string, bool) {
	if patch.PatchID == "" || patch.GraphID == "" || len(patch.Ops) == 0 {
		return "validation_failed", false
	}
	for _, op := range patch.Ops {
		if !models.KnownOp(op.Type) {
			return "unknown_op", false
		}
	}
	return "", true
}

// dropDuplicateOps removes addNodePrototype ops whose name fuzzily matches
// an existing prototype or an earlier op in the same patch, along with the
// addNodeInstance ops that referenced the dropped prototype.
func (a *Auditor) dropDuplicateOps(graphID string, ops []models.Op) []models.Op {
	existing := make([]string, 0)
	for _, p := range a.store.State().NodePrototypes {
		if p.Name != "" {
			existing = append(existing, p.Name)
		}
	}

	dropped := make(map[any]bool)
	out := make([]models.Op, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case models.OpAddNodePrototype:
			name, _ := op.Params["name"].(string)
			if dup := a.findDuplicate(name, existing); dup != "" {
				a.logger.Info("dropping duplicate node op",
					slog.String("name", name), slog.String("existing", dup))
				dropped[op.Params["prototypeId"]] = true
				continue
			}
			existing = append(existing, name)
		case models.OpAddNodeInstance:
			if dropped[op.Params["prototypeId"]] {
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

func (a *Auditor) findDuplicate(name string, existing []string) string {
	if name == "" {
		return ""
	}
	for _, other := range existing {
		if isDuplicateName(name, other) {
			return other
		}
	}
	return ""
}

func (a *Auditor) reject(cid string, patch models.Patch, reason string) models.Review {
	a.tracer.CompleteStage(cid, trace.StageAuditor, trace.StatusError, map[string]any{"reason": reason})
	a.events.Append(events.EventTelemetry, map[string]any{
		"telemetryType": "action_feedback", "status": "failed",
		"cid": cid, "patchId": patch.PatchID, "error": reason,
		"isTest": patch.Meta != nil && patch.Meta.IsTest,
	})
	return models.Review{
		Decision: models.DecisionRejected,
		Reasons:  []string{reason},
		GraphID:  patch.GraphID,
		Patch:    &patch,
	}
}

func (a *Auditor) submitReview(review models.Review, patch models.Patch) {
	if _, err := a.queues.Enqueue(queue.ReviewQueue, string(review.Decision), review, patch.GraphID); err != nil {
		a.logger.Error("review enqueue failed", slog.Any("error", err))
		return
	}
	a.events.Append(events.EventReviewEnqueued, map[string]any{
		"cid": patch.ThreadID, "patchId": patch.PatchID, "decision": string(review.Decision),
		"reasons": review.Reasons, "isTest": patch.Meta != nil && patch.Meta.IsTest,
	})
}

// Package events provides the append-only event rings that feed the SSE
// streams: the lifecycle event log, the chat log, and the telemetry ring.
// Delivery to subscribers is best-effort; a slow subscriber drops events but
// never blocks a producer.
package events

import (
	"encoding/json"
	"time"
)

// Lifecycle event types fanned out on GET /events/stream.
const (
	EventGoalEnqueued           = "GOAL_ENQUEUED"
	EventTaskEnqueued           = "TASK_ENQUEUED"
	EventPatchSubmitted         = "PATCH_SUBMITTED"
	EventReviewEnqueued         = "REVIEW_ENQUEUED"
	EventPatchApplied           = "PATCH_APPLIED"
	EventPendingActionsEnqueued = "PENDING_ACTIONS_ENQUEUED"
	EventTelemetry              = "TELEMETRY"
	EventChat                   = "CHAT"
)

// Telemetry record types.
const (
	TelemetryActionFeedback = "action_feedback"
	TelemetryActionStarted  = "action_started"
)

// Event is one ring entry. Fields are flattened next to type/ts on the wire:
// { "type": ..., "ts": ..., <fields...> }.
type Event struct {
	Type   string
	TS     time.Time
	Fields map[string]any
}

// IsTest reports whether the event is tagged as test traffic. Test entries
// are filtered at the SSE write site and never reach regular subscribers.
func (e Event) IsTest() bool {
	v, ok := e.Fields["isTest"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// CID returns the conversation id field, if present.
func (e Event) CID() string {
	v, _ := e.Fields["cid"].(string)
	return v
}

// MarshalJSON flattens Fields alongside type and ts.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["ts"] = e.TS.Format(time.RFC3339Nano)
	return json.Marshal(out)
}

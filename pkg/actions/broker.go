// Package actions implements the pending-action broker: the queue of
// UI-bound work items the committer has approved. The UI client leases
// actions, applies them in order, and acknowledges each one.
package actions

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theredstring/redstring-bridge/pkg/models"
)

var pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "bridge_pending_actions",
	Help: "Pending actions currently enqueued (leased or not)",
})

// CompletionHandler is invoked after an action is acknowledged and removed
// from the pool. The committer uses it to drive the agentic continuation.
type CompletionHandler func(models.PendingAction)

// FeedbackRecord is one action-feedback or action-started report from the
// UI client, kept for latency tracing.
type FeedbackRecord struct {
	ActionID string         `json:"actionId,omitempty"`
	Action   string         `json:"action"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	At       time.Time      `json:"at"`
}

type entry struct {
	action   models.PendingAction
	leased   bool
	leasedAt time.Time
}

// Broker holds enqueued pending actions and their lease state. Leases have
// no automatic expiry unless a watchdog TTL is configured: clients are
// expected to either complete or feedback-with-error.
type Broker struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]*entry
	feedback []FeedbackRecord

	onComplete CompletionHandler
	emit       func(eventType string, fields map[string]any)

	watchdogTTL time.Duration
	stop        chan struct{}
	stopped     sync.Once
}

// NewBroker creates an empty broker. watchdogTTL > 0 enables lease reclaim
// for clients that vanish mid-apply; zero disables it.
func NewBroker(watchdogTTL time.Duration) *Broker {
	return &Broker{
		entries:     make(map[string]*entry),
		watchdogTTL: watchdogTTL,
		stop:        make(chan struct{}),
	}
}

// SetCompletionHandler registers the callback fired on action-completed.
func (b *Broker) SetCompletionHandler(h CompletionHandler) {
	b.mu.Lock()
	b.onComplete = h
	b.mu.Unlock()
}

// SetTelemetryEmitter registers the sink for feedback/started telemetry.
func (b *Broker) SetTelemetryEmitter(emit func(eventType string, fields map[string]any)) {
	b.mu.Lock()
	b.emit = emit
	b.mu.Unlock()
}

// Start launches the lease watchdog when a TTL is configured.
func (b *Broker) Start() {
	if b.watchdogTTL <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(b.watchdogTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.reclaimStale(time.Now())
			}
		}
	}()
}

// Stop terminates the watchdog.
func (b *Broker) Stop() {
	b.stopped.Do(func() { close(b.stop) })
}

func (b *Broker) reclaimStale(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.leased && now.Sub(e.leasedAt) > b.watchdogTTL {
			e.leased = false
		}
	}
}

// Enqueue adds actions to the pool in order, assigning ids and timestamps
// where missing. Returns the enqueued actions with ids filled in.
func (b *Broker) Enqueue(actions ...models.PendingAction) []models.PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.PendingAction, 0, len(actions))
	for _, a := range actions {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = time.Now()
		}
		b.entries[a.ID] = &entry{action: a}
		b.order = append(b.order, a.ID)
		out = append(out, a)
	}
	pendingGauge.Set(float64(len(b.entries)))
	return out
}

// Lease returns all actions not currently leased, in enqueue order, and
// marks them leased. Concurrent callers see disjoint sets.
func (b *Broker) Lease() []models.PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var out []models.PendingAction
	for _, id := range b.order {
		e, ok := b.entries[id]
		if !ok || e.leased {
			continue
		}
		e.leased = true
		e.leasedAt = now
		out = append(out, e.action)
	}
	return out
}

// Complete removes the action from the pool and fires the completion
// handler. Unknown ids are a no-op (already completed).
func (b *Broker) Complete(actionID string) (models.PendingAction, bool) {
	b.mu.Lock()
	e, ok := b.entries[actionID]
	var handler CompletionHandler
	var action models.PendingAction
	if ok {
		action = e.action
		delete(b.entries, actionID)
		for i, id := range b.order {
			if id == actionID {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		handler = b.onComplete
		pendingGauge.Set(float64(len(b.entries)))
	}
	b.mu.Unlock()

	if !ok {
		return models.PendingAction{}, false
	}
	if handler != nil {
		handler(action)
	}
	return action, true
}

// Feedback records a status report without changing lease state.
func (b *Broker) Feedback(action, status, errMsg string, params map[string]any) {
	rec := FeedbackRecord{
		Action: action,
		Status: status,
		Error:  errMsg,
		Params: params,
		At:     time.Now(),
	}
	b.mu.Lock()
	b.feedback = append(b.feedback, rec)
	emit := b.emit
	b.mu.Unlock()

	if emit != nil {
		fields := map[string]any{"telemetryType": "action_feedback", "action": action, "status": status}
		if errMsg != "" {
			fields["error"] = errMsg
		}
		emit("TELEMETRY", fields)
	}
}

// Started records the client beginning to apply an action.
func (b *Broker) Started(actionID, action string, params map[string]any) {
	rec := FeedbackRecord{
		ActionID: actionID,
		Action:   action,
		Params:   params,
		At:       time.Now(),
	}
	b.mu.Lock()
	b.feedback = append(b.feedback, rec)
	emit := b.emit
	b.mu.Unlock()

	if emit != nil {
		emit("TELEMETRY", map[string]any{"telemetryType": "action_started", "actionId": actionID, "action": action})
	}
}

// PendingCount returns the number of enqueued actions, leased or not.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns all enqueued actions in order, for debugging.
func (b *Broker) Snapshot() []models.PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.PendingAction, 0, len(b.order))
	for _, id := range b.order {
		if e, ok := b.entries[id]; ok {
			out = append(out, e.action)
		}
	}
	return out
}

// WithOpenGraph prepends an openGraph action before any applyMutations
// action whose graph is not currently active. isActive answers for the
// projection at enqueue time.
func WithOpenGraph(in []models.PendingAction, isActive func(graphID string) bool) []models.PendingAction {
	out := make([]models.PendingAction, 0, len(in))
	opened := make(map[string]bool)
	for _, a := range in {
		if a.Action == models.ActionApplyMutations && a.Meta != nil && a.Meta.GraphID != "" {
			gid := a.Meta.GraphID
			if !opened[gid] && !isActive(gid) {
				out = append(out, models.PendingAction{
					Action: models.ActionOpenGraph,
					Params: []any{gid},
					Meta:   &models.ActionMeta{CID: a.Meta.CID, GraphID: gid},
				})
				opened[gid] = true
			}
		}
		out = append(out, a)
	}
	return out
}

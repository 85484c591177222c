package actions

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theredstring/redstring-bridge/pkg/models"
)

func action(name string) models.PendingAction {
	return models.PendingAction{Action: name, Params: []any{}}
}

func TestBroker_EnqueueAssignsIDs(t *testing.T) {
	b := NewBroker(0)

	out := b.Enqueue(action(models.ActionOpenGraph), action(models.ActionApplyMutations))
	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].ID)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.False(t, out[0].Timestamp.IsZero())
	assert.Equal(t, 2, b.PendingCount())
}

func TestBroker_LeaseMarksAndExcludes(t *testing.T) {
	b := NewBroker(0)
	b.Enqueue(action("a1"), action("a2"), action("a3"))

	first := b.Lease()
	require.Len(t, first, 3)
	assert.Empty(t, b.Lease(), "second lease sees nothing new")

	b.Enqueue(action("a4"))
	second := b.Lease()
	require.Len(t, second, 1)
	assert.Equal(t, "a4", second[0].Action)
}

func TestBroker_ConcurrentLeasesAreDisjoint(t *testing.T) {
	b := NewBroker(0)
	enqueued := b.Enqueue(action("a"), action("b"), action("c"))

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range b.Lease() {
				mu.Lock()
				seen[a.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 3, "union covers all actions")
	for _, a := range enqueued {
		assert.Equal(t, 1, seen[a.ID], "no action leased twice")
	}
}

func TestBroker_CompleteRemovesAndFiresHandler(t *testing.T) {
	b := NewBroker(0)
	var completed []string
	b.SetCompletionHandler(func(a models.PendingAction) {
		completed = append(completed, a.ID)
	})
	out := b.Enqueue(action("a1"))

	_, ok := b.Complete(out[0].ID)
	require.True(t, ok)
	assert.Equal(t, []string{out[0].ID}, completed)
	assert.Equal(t, 0, b.PendingCount(), "no zombie entries survive completion")

	_, ok = b.Complete(out[0].ID)
	assert.False(t, ok, "double completion is a no-op")
	assert.Len(t, completed, 1)
}

func TestBroker_FeedbackDoesNotChangeLeases(t *testing.T) {
	b := NewBroker(0)
	var events []map[string]any
	b.SetTelemetryEmitter(func(_ string, fields map[string]any) {
		events = append(events, fields)
	})
	b.Enqueue(action("a1"))
	b.Lease()

	b.Feedback("applyMutations", "failed", "graph missing", nil)
	b.Started("id-1", "applyMutations", nil)

	assert.Equal(t, 1, b.PendingCount())
	assert.Empty(t, b.Lease(), "feedback leaves lease state alone")
	require.Len(t, events, 2)
	assert.Equal(t, "action_feedback", events[0]["telemetryType"])
	assert.Equal(t, "failed", events[0]["status"])
	assert.Equal(t, "action_started", events[1]["telemetryType"])
}

func TestBroker_WatchdogReclaimsStaleLeases(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	b.Enqueue(action("a1"))
	require.Len(t, b.Lease(), 1)

	b.reclaimStale(time.Now().Add(time.Second))

	assert.Len(t, b.Lease(), 1, "stale lease is available again")
}

func TestWithOpenGraph_PrependsForInactiveGraph(t *testing.T) {
	in := []models.PendingAction{
		{Action: models.ActionApplyMutations, Meta: &models.ActionMeta{CID: "c1", GraphID: "g1"}},
		{Action: models.ActionApplyMutations, Meta: &models.ActionMeta{CID: "c1", GraphID: "g1"}},
	}

	out := WithOpenGraph(in, func(graphID string) bool { return false })
	require.Len(t, out, 3)
	assert.Equal(t, models.ActionOpenGraph, out[0].Action)
	assert.Equal(t, []any{"g1"}, out[0].Params)
	assert.Equal(t, models.ActionApplyMutations, out[1].Action)

	active := WithOpenGraph(in, func(graphID string) bool { return graphID == "g1" })
	assert.Len(t, active, 2, "no openGraph when already active")
}

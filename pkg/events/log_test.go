package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendAndRecent(t *testing.T) {
	l := NewLog("test", 100)

	l.Append(EventGoalEnqueued, map[string]any{"cid": "c1"})
	l.Append(EventTaskEnqueued, map[string]any{"cid": "c1"})

	recent := l.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, EventGoalEnqueued, recent[0].Type)
	assert.Equal(t, EventTaskEnqueued, recent[1].Type)
}

func TestLog_RingEviction(t *testing.T) {
	l := NewLog("test", 3)

	for i := 0; i < 5; i++ {
		l.Append(EventChat, map[string]any{"n": i})
	}

	recent := l.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Fields["n"], "oldest entries are evicted")
	assert.Equal(t, 4, recent[2].Fields["n"])
}

func TestLog_SubscribeReceivesLiveEvents(t *testing.T) {
	l := NewLog("test", 100)

	ch, unsub := l.Subscribe()
	defer unsub()

	l.Append(EventPatchApplied, map[string]any{"patchId": "p1"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventPatchApplied, ev.Type)
		assert.Equal(t, "p1", ev.Fields["patchId"])
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestLog_SlowSubscriberDropsButNeverBlocks(t *testing.T) {
	l := NewLog("test", 10000)

	_, unsub := l.Subscribe() // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberBuffer*3; i++ {
			l.Append(EventTelemetry, map[string]any{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on slow subscriber")
	}
}

func TestLog_Unsubscribe(t *testing.T) {
	l := NewLog("test", 100)

	ch, unsub := l.Subscribe()
	unsub()

	_, open := <-ch
	assert.False(t, open, "channel is closed after unsubscribe")
	assert.Equal(t, 0, l.SubscriberCount())
}

func TestLog_ReplaySince(t *testing.T) {
	l := NewLog("test", 100)

	l.Append(EventChat, map[string]any{"msg": "old"})
	cut := time.Now()
	time.Sleep(5 * time.Millisecond)
	l.Append(EventChat, map[string]any{"msg": "new"})

	replayed := l.ReplaySince(cut)
	require.Len(t, replayed, 1)
	assert.Equal(t, "new", replayed[0].Fields["msg"])

	all := l.ReplaySince(time.Time{})
	assert.Len(t, all, 2)
}

func TestEvent_MarshalFlattensFields(t *testing.T) {
	ev := Event{
		Type:   EventGoalEnqueued,
		TS:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields: map[string]any{"cid": "c1", "goal": "create_graph"},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, EventGoalEnqueued, out["type"])
	assert.Equal(t, "c1", out["cid"])
	assert.Equal(t, "create_graph", out["goal"])
	assert.Contains(t, out["ts"], "2025-06-01")
}

func TestEvent_IsTest(t *testing.T) {
	assert.True(t, Event{Fields: map[string]any{"isTest": true}}.IsTest())
	assert.False(t, Event{Fields: map[string]any{"isTest": false}}.IsTest())
	assert.False(t, Event{Fields: map[string]any{}}.IsTest())
	assert.False(t, Event{}.IsTest())
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog("test", 1000)

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			for i := 0; i < 100; i++ {
				l.Append(EventTelemetry, map[string]any{"g": fmt.Sprintf("%d-%d", g, i)})
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	assert.Len(t, l.Recent(0), 400)
}

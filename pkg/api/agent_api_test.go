package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theredstring/redstring-bridge/pkg/config"
	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/models"
)

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer sk-test"}
}

func opsForTest(graphID, graphName, protoName string) []models.Op {
	return []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": graphID, "name": graphName}},
		{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": "p1", "name": protoName}},
	}
}

func TestAgentValidation(t *testing.T) {
	router, _ := newTestServer(t, nil)

	w := doJSON(t, router, http.MethodPost, "/api/ai/agent", map[string]any{"cid": "c1"}, authHeader())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/ai/agent", map[string]any{"message": "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentCreateGraphEndToEnd(t *testing.T) {
	router, core := newTestServer(t, plannerJSON(t, map[string]any{
		"intent":   "create_graph",
		"graph":    map[string]any{"name": "Solar System"},
		"response": "Creating Solar System.",
	}))

	w := doJSON(t, router, http.MethodPost, "/api/ai/agent", map[string]any{
		"message": `create a graph called "Solar System"`, "cid": "c1",
	}, authHeader())
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Creating Solar System.", body["response"])
	assert.Equal(t, "c1", body["cid"])
	assert.NotEmpty(t, body["goalId"])

	// Drive the pipeline to completion and check the mirror plus the
	// UI-bound actions.
	core.Scheduler.Drain(10)

	st := core.Store.State()
	require.Len(t, st.Graphs, 1)
	for _, g := range st.Graphs {
		assert.Equal(t, "Solar System", g.Name)
	}
	assert.Greater(t, core.Broker.PendingCount(), 0)

	var chat []events.Event
	for _, ev := range core.Events.Recent(0) {
		if ev.Type == events.EventChat {
			chat = append(chat, ev)
		}
	}
	require.Len(t, chat, 2)
	assert.Equal(t, "user", chat[0].Fields["role"])
	assert.Equal(t, "assistant", chat[1].Fields["role"])
}

func TestAgentProviderAuthErrorMapsTo401(t *testing.T) {
	router, _ := newTestServer(t, func(req llm.Request) (string, error) {
		return "", &llm.ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"}
	})

	w := doJSON(t, router, http.MethodPost, "/api/ai/agent", map[string]any{
		"message": "hi", "cid": "c1",
	}, authHeader())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, w.Body.String(), "bad key")
}

func TestChatNeverMutates(t *testing.T) {
	router, core := newTestServer(t, plannerJSON(t, map[string]any{
		"intent":   "create_graph",
		"graph":    map[string]any{"name": "Should Not Exist"},
		"response": "I would create that graph.",
	}))

	w := doJSON(t, router, http.MethodPost, "/api/ai/chat", map[string]any{
		"message": "make me a graph", "cid": "c1",
	}, authHeader())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "I would create that graph.", decode(t, w)["response"])

	core.Scheduler.Drain(10)
	assert.Empty(t, core.Store.State().Graphs)
	assert.Equal(t, 0, core.Broker.PendingCount())
}

func TestAgentAuditEnqueuesGoal(t *testing.T) {
	router, core := newTestServer(t, nil)

	w := doJSON(t, router, http.MethodPost, "/api/ai/agent/audit", map[string]any{
		"cid": "c1", "graphId": "g1", "nodeCount": 4, "edgeCount": 3, "action": "applyMutations",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	items, err := core.Queues.Peek("goalQueue", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

// The hidden system prompt is configuration, not content: no response body
// from any endpoint may contain it, even when a provider error echoes the
// request back.
func TestHiddenPromptNeverOnAnyResponsePath(t *testing.T) {
	prompts, err := config.LoadPrompts("")
	require.NoError(t, err)
	forbidden := []string{prompts.Hidden, prompts.DomainAppendix, prompts.Planner, prompts.Evaluation}

	// The provider echoes the full system prompt inside its error message,
	// the worst case for a pass-through leak.
	router, core := newTestServer(t, func(req llm.Request) (string, error) {
		return "", &llm.ProviderError{Provider: "openai", StatusCode: 500, Message: req.System}
	})

	bodies := []string{
		doJSON(t, router, http.MethodPost, "/api/ai/agent",
			map[string]any{"message": "hi", "cid": "c1"}, authHeader()).Body.String(),
		doJSON(t, router, http.MethodPost, "/api/ai/chat",
			map[string]any{"message": "hi", "cid": "c2"}, authHeader()).Body.String(),
		doJSON(t, router, http.MethodPost, "/api/ai/agent/continue",
			map[string]any{"cid": "c3", "lastAction": "applyMutations", "iteration": 1}, authHeader()).Body.String(),
		doJSON(t, router, http.MethodGet, "/health", nil, nil).Body.String(),
		doJSON(t, router, http.MethodGet, "/api/bridge/state", nil, nil).Body.String(),
		doJSON(t, router, http.MethodGet, "/api/bridge/debug/traces", nil, nil).Body.String(),
		doJSON(t, router, http.MethodGet, "/api/bridge/debug/trace/c1", nil, nil).Body.String(),
		doJSON(t, router, http.MethodGet, "/api/bridge/debug/stats", nil, nil).Body.String(),
		doJSON(t, router, http.MethodGet, "/queue/peek?name=goalQueue", nil, nil).Body.String(),
		doJSON(t, router, http.MethodPost, "/api/mcp/request",
			map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}, nil).Body.String(),
	}

	// The event ring backs the SSE streams; its entries must be clean too.
	for _, ev := range core.Events.Recent(0) {
		data, err := ev.MarshalJSON()
		require.NoError(t, err)
		bodies = append(bodies, string(data))
	}

	for _, body := range bodies {
		for _, secret := range forbidden {
			require.NotEmpty(t, secret)
			assert.NotContains(t, body, secret)
		}
	}
}

func TestWriteSSEDropsTestEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ok := writeSSE(c, events.Event{
		Type: events.EventChat, TS: time.Now(),
		Fields: map[string]any{"cid": "c1", "message": "seeded", "isTest": true},
	})
	assert.True(t, ok)
	assert.Empty(t, w.Body.String())

	ok = writeSSE(c, events.Event{
		Type: events.EventChat, TS: time.Now(),
		Fields: map[string]any{"cid": "c1", "message": "real"},
	})
	assert.True(t, ok)
	assert.Contains(t, w.Body.String(), "event: CHAT\n")
	assert.Contains(t, w.Body.String(), `"message":"real"`)
}

func TestEventStreamReplaysChatWithoutTestTraffic(t *testing.T) {
	router, core := newTestServer(t, nil)

	core.Events.Append(events.EventChat, map[string]any{"cid": "c1", "role": "user", "message": "real turn"})
	core.Events.Append(events.EventChat, map[string]any{"cid": "c1", "role": "user", "message": "seeded turn", "isTest": true})
	core.Events.Append(events.EventGoalEnqueued, map[string]any{"cid": "c1", "goal": "not chat"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "real turn")
	assert.NotContains(t, body, "seeded turn")
	assert.NotContains(t, body, "not chat")
}

func TestEventStreamDeliversLiveEvents(t *testing.T) {
	router, core := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	go func() {
		time.Sleep(50 * time.Millisecond)
		core.Events.Append(events.EventPatchApplied, map[string]any{"cid": "c1", "patchId": "p1"})
	}()
	router.ServeHTTP(w, req)

	assert.Contains(t, w.Body.String(), "event: PATCH_APPLIED\n")
	assert.Contains(t, w.Body.String(), `"patchId":"p1"`)
}

func TestTelemetryStreamFilters(t *testing.T) {
	router, core := newTestServer(t, nil)

	core.Events.Append(events.EventTelemetry, map[string]any{
		"cid": "c1", "telemetryType": "action_feedback", "status": "failed", "error": "stale_base",
	})
	core.Events.Append(events.EventTelemetry, map[string]any{
		"cid": "c2", "telemetryType": "action_feedback", "status": "failed", "error": "other thread",
	})
	core.Events.Append(events.EventTelemetry, map[string]any{
		"cid": "c1", "telemetryType": "action_started", "action": "applyMutations",
	})
	core.Events.Append(events.EventChat, map[string]any{"cid": "c1", "message": "not telemetry"})

	from := time.Now().Add(-time.Minute).Format(time.RFC3339)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet,
		"/telemetry/stream?cid=c1&type=action_feedback&from="+from, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "stale_base")
	assert.NotContains(t, body, "other thread")
	assert.NotContains(t, body, "action_started")
	assert.NotContains(t, body, "not telemetry")
}

func TestMCPRequest(t *testing.T) {
	router, core := newTestServer(t, nil)

	w := doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result, ok := decode(t, w)["result"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result, "protocolVersion")

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/list",
	}, nil)
	result = decode(t, w)["result"].(map[string]any)
	tools, ok := result["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 3)

	require.NoError(t, core.Store.ApplyOps("g1", opsForTest("g1", "Solar System", "Planet")))

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tools/call",
		"params": map[string]any{"name": "verify_state"},
	}, nil)
	assert.Contains(t, w.Body.String(), `"graphCount":1`)

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 4, "method": "tools/call",
		"params": map[string]any{"name": "search_nodes", "arguments": map[string]any{"query": "plan"}},
	}, nil)
	assert.Contains(t, w.Body.String(), "Planet")

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "tools/call",
		"params": map[string]any{"name": "search_nodes"},
	}, nil)
	assert.Contains(t, w.Body.String(), "-32602")

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 6, "method": "tools/call",
		"params": map[string]any{"name": "no_such_tool"},
	}, nil)
	assert.Contains(t, w.Body.String(), "-32000")

	w = doJSON(t, router, http.MethodPost, "/api/mcp/request", map[string]any{
		"jsonrpc": "2.0", "id": 7, "method": "resources/list",
	}, nil)
	assert.Contains(t, w.Body.String(), "-32601")
}

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

func TestParsePlan_PreamblePrepended(t *testing.T) {
	plan, err := ParsePlan("Sounds good! " + "\n" + `{"intent": "qa", "response": "Here is the answer."}`)
	require.NoError(t, err)
	assert.Equal(t, models.IntentQA, plan.Intent)
	assert.Equal(t, "Sounds good! Here is the answer.", plan.Response)
}

func TestParsePlan_PreambleNotDuplicated(t *testing.T) {
	plan, err := ParsePlan("Creating it. " + `{"intent": "qa", "response": "Creating it. Done."}`)
	require.NoError(t, err)
	assert.Equal(t, "Creating it. Done.", plan.Response)
}

func TestParsePlan_NoJSONFallsBackToQA(t *testing.T) {
	plan, err := ParsePlan("I can only chat about graphs.")
	require.NoError(t, err)
	assert.Equal(t, models.IntentQA, plan.Intent)
	assert.Equal(t, "I can only chat about graphs.", plan.Response)
}

func TestPlanner_ContextBlockTruncatesNodeNames(t *testing.T) {
	p := newPipeline(t, nil)
	ops := []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "Crowded"}},
	}
	for i := 0; i < 25; i++ {
		pid := string(rune('a'+i%26)) + string(rune('0'+i/26))
		ops = append(ops,
			models.Op{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": pid, "name": "Node " + pid, "color": "#8B0000"}},
			models.Op{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i" + pid, "prototypeId": pid}},
		)
	}
	require.NoError(t, p.store.ApplyOps("g1", ops))
	p.store.SetActiveGraph("g1")

	block := p.planner.contextBlock()
	assert.Contains(t, block, `"Crowded"`)
	assert.Contains(t, block, "25 nodes")
	assert.Contains(t, block, "#8B0000")

	st := p.store.GraphState("g1", maxContextNodeNames)
	assert.Len(t, st.NodeNames, maxContextNodeNames)
}

func TestPlanner_HistoryTruncatedToLastThreeTurns(t *testing.T) {
	var got llm.Request
	p := newPipeline(t, func(req llm.Request) (string, error) {
		got = req
		return `{"intent": "qa", "response": "ok"}`, nil
	})

	req := agentRequest("c1", "latest question")
	req.ConversationHistory = []models.ChatTurn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	_, err := p.planner.Plan(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, got.Messages, 4, "3 history turns + current message")
	assert.Equal(t, "two", got.Messages[0].Content)
	assert.Equal(t, "latest question", got.Messages[3].Content)
}

func TestPlanner_RecordsTraceStages(t *testing.T) {
	p := newPipeline(t, plannerJSON(t, map[string]any{"intent": "qa", "response": "hi"}))

	_, err := p.planner.Plan(context.Background(), agentRequest("c9", "hello"))
	require.NoError(t, err)

	recs, ok := p.tracer.GetStage("c9", trace.StagePlanner)
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.Equal(t, trace.StatusSuccess, recs[0].Status)
	assert.Equal(t, "qa", recs[0].Data["intent"])
}

func TestPlanner_FailureRecordsErrorStage(t *testing.T) {
	p := newPipeline(t, func(llm.Request) (string, error) {
		return "", assert.AnError
	})

	_, err := p.planner.Plan(context.Background(), agentRequest("c9", "hello"))
	require.Error(t, err)

	recs, ok := p.tracer.GetStage("c9", trace.StagePlanner)
	require.True(t, ok)
	assert.Equal(t, trace.StatusError, recs[0].Status)
}

func TestPlanner_EmptyStoreContext(t *testing.T) {
	p := newPipeline(t, nil)
	assert.Contains(t, p.planner.contextBlock(), "No graph is currently active")
}

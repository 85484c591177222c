package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/models"
)

func TestContinuation_NodeLimitTerminates(t *testing.T) {
	p := newPipeline(t, nil) // no model call expected

	res, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:        "c4",
		GraphState: models.GraphState{NodeCount: 100},
		Iteration:  3,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Completed)
	assert.Equal(t, "node_limit", res.Reason)
	assert.Contains(t, res.Response, "100")
	assert.Empty(t, eventsOfType(p.events, events.EventGoalEnqueued), "no goal enqueued")
}

func TestContinuation_PhaseCapTerminates(t *testing.T) {
	p := newPipeline(t, nil)

	res, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:        "c4",
		GraphState: models.GraphState{NodeCount: 10},
		Iteration:  MaxPhases,
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "phases_complete", res.Reason)
}

func TestContinuation_SubgoalChainTakesPriority(t *testing.T) {
	// Even at the phase cap, a pending subgoal chain is served first.
	p := newPipeline(t, plannerJSON(t, map[string]any{
		"intent":   "create_graph",
		"graph":    map[string]any{"name": "Phase Two"},
		"response": "On to phase two.",
	}))

	res, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:       "c5",
		Iteration: MaxPhases,
		Meta: &models.GoalMeta{
			APIKey:     "sk-test",
			APIConfig:  &models.APIConfig{Provider: "openai", Model: "gpt-4o"},
			ChainState: &models.ChainState{RemainingSubgoals: []string{"build phase two", "build phase three"}},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.NotEmpty(t, res.GoalID)

	// The rest of the chain travels in the enqueued goal's meta.
	items, err := p.queues.Peek("goalQueue", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	goal := items[0].Payload.(models.Goal)
	require.NotNil(t, goal.Meta.ChainState)
	assert.Equal(t, []string{"build phase three"}, goal.Meta.ChainState.RemainingSubgoals)
}

func TestContinuation_ModelDecidesContinue(t *testing.T) {
	p := newPipeline(t, plannerJSON(t, map[string]any{
		"decision": "continue",
		"response": "Adding moons next.",
		"graphSpec": map[string]any{
			"nodes": []map[string]any{{"name": "Moon", "color": "#CCCCCC"}},
		},
	}))

	res, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:        "c6",
		GraphState: models.GraphState{GraphID: "g1", GraphName: "Planets", NodeCount: 5},
		Iteration:  2,
		Meta: &models.GoalMeta{
			APIKey:    "sk-test",
			APIConfig: &models.APIConfig{Provider: "openai", Model: "gpt-4o"},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 3, res.Iteration)
	assert.NotEmpty(t, res.GoalID)

	goals := eventsOfType(p.events, events.EventGoalEnqueued)
	require.Len(t, goals, 1)
	assert.Equal(t, "create_subgraph", goals[0].Fields["goal"])
}

func TestContinuation_ModelDecidesComplete(t *testing.T) {
	p := newPipeline(t, plannerJSON(t, map[string]any{
		"decision": "complete",
		"response": "The graph covers everything requested.",
	}))

	res, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:        "c6",
		GraphState: models.GraphState{GraphID: "g1", NodeCount: 40},
		Iteration:  4,
		Meta: &models.GoalMeta{
			APIKey:    "sk-test",
			APIConfig: &models.APIConfig{Provider: "openai", Model: "gpt-4o"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "The graph covers everything requested.", res.Response)
	assert.Empty(t, eventsOfType(p.events, events.EventGoalEnqueued))
}

func TestContinuation_EvaluationFailureSurfaces(t *testing.T) {
	p := newPipeline(t, func(llm.Request) (string, error) {
		return "", assert.AnError
	})

	_, err := p.continuation.Continue(context.Background(), ContinueInput{
		CID:        "c6",
		GraphState: models.GraphState{NodeCount: 5},
		Iteration:  1,
		Meta: &models.GoalMeta{
			APIKey:    "sk-test",
			APIConfig: &models.APIConfig{Provider: "openai", Model: "gpt-4o"},
		},
	})
	assert.Error(t, err)
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theredstring/redstring-bridge/pkg/models"
)

func snapshotWithGraph(id, name string) Snapshot {
	return Snapshot{
		Graphs: map[string]models.Graph{
			id: {ID: id, Name: name},
		},
	}
}

func TestMerge_ReplacesAndRemovesGraphs(t *testing.T) {
	s := New()

	s.Merge(snapshotWithGraph("g1", "Alpha"))
	s.Merge(snapshotWithGraph("g2", "Beta"))

	state := s.State()
	_, hasG1 := state.Graphs["g1"]
	assert.False(t, hasG1, "graph absent from the incoming snapshot is removed")
	assert.Equal(t, "Beta", state.Graphs["g2"].Name)
}

func TestMerge_PreservesTestEntries(t *testing.T) {
	s := New()

	s.Merge(Snapshot{
		Graphs: map[string]models.Graph{
			"test-g1": {ID: "test-g1", Name: "Fixture"},
			"itm-7":   {ID: "itm-7", Name: "Seeded"},
			"g2":      {ID: "g2", Name: "My Test Canvas"},
		},
		NodePrototypes: map[string]models.NodePrototype{
			"test-p1": {ID: "test-p1", Name: "Concept"},
		},
	})

	// A UI push that knows nothing about the seeded fixtures.
	s.Merge(snapshotWithGraph("g9", "Real"))

	state := s.State()
	assert.Contains(t, state.Graphs, "test-g1", "test-id graph survives merge")
	assert.Contains(t, state.Graphs, "itm-7", "itm- graph survives merge")
	assert.Contains(t, state.Graphs, "g2", "test-named graph survives merge")
	assert.Contains(t, state.Graphs, "g9")
	assert.Contains(t, state.NodePrototypes, "test-p1")
}

func TestMerge_NormalizesGraphEdges(t *testing.T) {
	s := New()

	s.Merge(Snapshot{
		Graphs: map[string]models.Graph{"g1": {ID: "g1"}},
		GraphEdges: []models.Edge{
			{ID: "e1", SourceID: "i1", DestinationID: "i2"},
			{SourceID: "i2", DestinationID: "i3"}, // id assigned
		},
	})

	state := s.State()
	require.Contains(t, state.Edges, "e1")
	assert.Len(t, state.Edges, 2)
	for _, e := range state.Edges {
		assert.NotEmpty(t, e.ID)
	}
}

func TestMerge_EnsuresInstancesObject(t *testing.T) {
	s := New()

	s.Merge(Snapshot{Graphs: map[string]models.Graph{"g1": {ID: "g1", Instances: nil}}})

	g, ok := s.Graph("g1")
	require.True(t, ok)
	assert.NotNil(t, g.Instances)
}

func TestApplyOps_CreateGraphAndNodes(t *testing.T) {
	s := New()

	err := s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "Plan"}},
		{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": "p1", "name": "Step", "color": "#8B0000"}},
		{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i1", "prototypeId": "p1", "x": 100.0, "y": 200.0}},
	})
	require.NoError(t, err)

	g, ok := s.Graph("g1")
	require.True(t, ok)
	assert.Equal(t, "Plan", g.Name)
	require.Contains(t, g.Instances, "i1")
	assert.Equal(t, 100.0, g.Instances["i1"].X)

	p, ok := s.FindPrototypeByName("step") // case-insensitive fallback
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

func TestApplyOps_EdgesAndDeletes(t *testing.T) {
	s := New()

	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "G"}},
		{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": "p1", "name": "A"}},
		{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": "p2", "name": "B"}},
		{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i1", "prototypeId": "p1"}},
		{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i2", "prototypeId": "p2"}},
		{Type: models.OpAddEdge, Params: map[string]any{"edgeId": "e1", "sourceId": "i1", "destinationId": "i2", "arrowsToward": []any{"i2"}}},
	}))

	e, ok := s.FindEdgeBetween("g1", "i2", "i1")
	require.True(t, ok, "edge resolves in either direction")
	assert.Equal(t, []string{"i2"}, e.ArrowsToward)

	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpDeleteEdge, Params: map[string]any{"edgeId": "e1"}},
		{Type: models.OpRemoveNodeInstance, Params: map[string]any{"instanceId": "i2"}},
	}))

	_, ok = s.FindEdgeBetween("g1", "i1", "i2")
	assert.False(t, ok)
	g, _ := s.Graph("g1")
	assert.NotContains(t, g.Instances, "i2")
	assert.Empty(t, g.EdgeIDs)
}

func TestApplyOps_UnknownOpAbortsBatch(t *testing.T) {
	s := New()

	err := s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1"}},
		{Type: "explodeGraph"},
	})
	require.Error(t, err)

	_, ok := s.Graph("g1")
	assert.False(t, ok, "nothing applied when any op is unknown")
}

func TestApplyOps_AtomicOnMidBatchFailure(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1"}},
	}))
	before := s.Head("g1")

	err := s.ApplyOps("g1", []models.Op{
		{Type: models.OpMoveNodeInstance, Params: map[string]any{"instanceId": "missing", "x": 1.0, "y": 1.0}},
	})
	require.Error(t, err)
	assert.Equal(t, before, s.Head("g1"), "head does not advance past a failed op")
}

func TestApplyOps_MidBatchFailureLeavesNoPartialState(t *testing.T) {
	s := New()
	before := s.Head("g2")

	err := s.ApplyOps("g2", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g2", "name": "Partial"}},
		{Type: models.OpMoveNodeInstance, Params: map[string]any{"instanceId": "missing", "x": 1.0, "y": 1.0}},
	})
	require.Error(t, err)

	_, ok := s.Graph("g2")
	assert.False(t, ok, "ops applied before the failing one are rolled back")
	assert.Equal(t, before, s.Head("g2"), "head stays at the pre-batch value")

	// A clean retry of the surviving prefix starts from the original base.
	require.NoError(t, s.ApplyOps("g2", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g2", "name": "Partial"}},
	}))
	g, ok := s.Graph("g2")
	require.True(t, ok)
	assert.Equal(t, "Partial", g.Name)
	assert.NotEqual(t, before, s.Head("g2"))
}

func TestHead_AdvancesPerOpAndDiffersPerGraph(t *testing.T) {
	s := New()

	h0 := s.Head("g1")
	assert.NotEqual(t, h0, s.Head("g2"), "empty heads are graph-specific")

	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "G"}},
	}))
	h1 := s.Head("g1")
	assert.NotEqual(t, h0, h1)

	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpUpdateGraph, Params: map[string]any{"name": "G2"}},
	}))
	assert.NotEqual(t, h1, s.Head("g1"))
}

func TestDeleteGraph_CleansDerivedState(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "G"}},
		{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i1", "prototypeId": "p1"}},
		{Type: models.OpAddEdge, Params: map[string]any{"edgeId": "e1", "sourceId": "i1", "destinationId": "i1"}},
	}))
	s.SetActiveGraph("g1")

	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpDeleteGraph, Params: map[string]any{"graphId": "g1"}},
	}))

	_, ok := s.Graph("g1")
	assert.False(t, ok)
	assert.Empty(t, s.ActiveGraphID())
	assert.NotContains(t, s.State().Edges, "e1")
	assert.NotContains(t, s.State().OpenGraphIDs, "g1")
}

func TestGraphState_CapsNodeNames(t *testing.T) {
	s := New()
	ops := []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "Big"}},
	}
	for i := 0; i < 20; i++ {
		pid := string(rune('a' + i))
		ops = append(ops,
			models.Op{Type: models.OpAddNodePrototype, Params: map[string]any{"prototypeId": pid, "name": "N" + pid}},
			models.Op{Type: models.OpAddNodeInstance, Params: map[string]any{"instanceId": "i" + pid, "prototypeId": pid}},
		)
	}
	require.NoError(t, s.ApplyOps("g1", ops))

	st := s.GraphState("g1", 15)
	assert.Equal(t, 20, st.NodeCount)
	assert.Len(t, st.NodeNames, 15)
	assert.Equal(t, 20, s.TotalNodeCount())
}

func TestState_ReturnsCopies(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplyOps("g1", []models.Op{
		{Type: models.OpCreateNewGraph, Params: map[string]any{"graphId": "g1", "name": "G"}},
	}))

	state := s.State()
	state.Graphs["g1"] = models.Graph{ID: "g1", Name: "mutated"}
	g, _ := s.Graph("g1")
	assert.Equal(t, "G", g.Name)
}

package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/models"
)

// ApplyOps mirrors an approved patch's ops onto the projection and advances
// the graph's head hash. The batch is all-or-nothing: ops apply to a staged
// copy that is adopted only when every op succeeds, so a failure partway
// through leaves the projection and the head untouched.
func (s *Store) ApplyOps(graphID string, ops []models.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		if !models.KnownOp(op.Type) {
			return fmt.Errorf("unknown op %q", op.Type)
		}
	}

	staged := s.stageLocked()
	for _, op := range ops {
		if err := staged.applyOneLocked(graphID, op); err != nil {
			return fmt.Errorf("apply %s: %w", op.Type, err)
		}
		staged.advanceHeadLocked(graphID, op)
	}
	s.adoptLocked(staged)
	return nil
}

// stageLocked copies the mutable projection so a batch can be applied
// tentatively. Graph instance maps are the only values mutated in place;
// everything else is replaced wholesale by applyOneLocked, so shallow map
// copies suffice for the rest. Caller holds s.mu.
func (s *Store) stageLocked() *Store {
	st := &Store{
		graphs:         make(map[string]models.Graph, len(s.graphs)),
		nodePrototypes: make(map[string]models.NodePrototype, len(s.nodePrototypes)),
		edges:          make(map[string]models.Edge, len(s.edges)),
		activeGraphID:  s.activeGraphID,
		openGraphIDs:   append([]string(nil), s.openGraphIDs...),
		graphLayouts:   make(map[string]any, len(s.graphLayouts)),
		graphSummaries: make(map[string]any, len(s.graphSummaries)),
		heads:          make(map[string]uint64, len(s.heads)),
	}
	for id, g := range s.graphs {
		st.graphs[id] = copyGraph(g)
	}
	for id, p := range s.nodePrototypes {
		st.nodePrototypes[id] = p
	}
	for id, e := range s.edges {
		st.edges[id] = e
	}
	for k, v := range s.graphLayouts {
		st.graphLayouts[k] = v
	}
	for k, v := range s.graphSummaries {
		st.graphSummaries[k] = v
	}
	for id, h := range s.heads {
		st.heads[id] = h
	}
	return st
}

// adoptLocked swaps the staged projection in. Caller holds s.mu.
func (s *Store) adoptLocked(staged *Store) {
	s.graphs = staged.graphs
	s.nodePrototypes = staged.nodePrototypes
	s.edges = staged.edges
	s.activeGraphID = staged.activeGraphID
	s.openGraphIDs = staged.openGraphIDs
	s.graphLayouts = staged.graphLayouts
	s.graphSummaries = staged.graphSummaries
	s.heads = staged.heads
}

// advanceHeadLocked folds one applied op into the graph's running hash.
// The hash covers the op sequence number, type, and marshaled params, so
// any divergence in the applied-op log produces a different head.
func (s *Store) advanceHeadLocked(graphID string, op models.Op) {
	prev := s.headLocked(graphID)
	params, _ := json.Marshal(op.Params)

	h := prev
	mix := func(b []byte) {
		for _, c := range b {
			h ^= uint64(c)
			h *= 1099511628211 // FNV-1a prime
		}
	}
	mix([]byte(op.Type))
	mix(params)
	s.heads[graphID] = h
}

func (s *Store) applyOneLocked(graphID string, op models.Op) error {
	switch op.Type {
	case models.OpCreateNewGraph:
		id := optStr(op.Params, "graphId")
		if id == "" {
			id = graphID
		}
		if id == "" {
			id = uuid.New().String()
		}
		if _, exists := s.graphs[id]; exists {
			return nil // idempotent create
		}
		s.graphs[id] = models.Graph{
			ID:          id,
			Name:        optStr(op.Params, "name"),
			Description: optStr(op.Params, "description"),
			Instances:   make(map[string]models.NodeInstance),
		}

	case models.OpAddNodePrototype:
		id := firstStr(op.Params, "prototypeId", "id")
		if id == "" {
			id = uuid.New().String()
		}
		s.nodePrototypes[id] = models.NodePrototype{
			ID:          id,
			Name:        optStr(op.Params, "name"),
			Color:       optStr(op.Params, "color"),
			Description: optStr(op.Params, "description"),
		}

	case models.OpAddNodeInstance:
		g, err := s.targetGraphLocked(graphID, op.Params)
		if err != nil {
			return err
		}
		id := firstStr(op.Params, "instanceId", "id")
		if id == "" {
			id = uuid.New().String()
		}
		g.Instances[id] = models.NodeInstance{
			ID:          id,
			PrototypeID: optStr(op.Params, "prototypeId"),
			X:           optFloat(op.Params, "x"),
			Y:           optFloat(op.Params, "y"),
		}

	case models.OpMoveNodeInstance:
		g, err := s.targetGraphLocked(graphID, op.Params)
		if err != nil {
			return err
		}
		id := optStr(op.Params, "instanceId")
		inst, ok := g.Instances[id]
		if !ok {
			return fmt.Errorf("instance %q not found", id)
		}
		inst.X = optFloat(op.Params, "x")
		inst.Y = optFloat(op.Params, "y")
		g.Instances[id] = inst

	case models.OpAddEdge:
		g, err := s.targetGraphLocked(graphID, op.Params)
		if err != nil {
			return err
		}
		id := firstStr(op.Params, "edgeId", "id")
		if id == "" {
			id = uuid.New().String()
		}
		s.edges[id] = models.Edge{
			ID:                id,
			SourceID:          optStr(op.Params, "sourceId"),
			DestinationID:     optStr(op.Params, "destinationId"),
			ArrowsToward:      optStrSlice(op.Params, "arrowsToward"),
			DefinitionNodeIDs: optStrSlice(op.Params, "definitionNodeIds"),
			Name:              optStr(op.Params, "name"),
		}
		if !containsStr(g.EdgeIDs, id) {
			g.EdgeIDs = append(g.EdgeIDs, id)
			s.graphs[g.ID] = *g
		}

	case models.OpDeleteEdge:
		id := optStr(op.Params, "edgeId")
		delete(s.edges, id)
		if g, ok := s.graphs[resolveGraphID(graphID, op.Params)]; ok {
			g.EdgeIDs = removeStr(g.EdgeIDs, id)
			s.graphs[g.ID] = g
		}

	case models.OpUpdateNodePrototype:
		id := optStr(op.Params, "prototypeId")
		p, ok := s.nodePrototypes[id]
		if !ok {
			return fmt.Errorf("prototype %q not found", id)
		}
		if v := optStr(op.Params, "name"); v != "" {
			p.Name = v
		}
		if v := optStr(op.Params, "color"); v != "" {
			p.Color = v
		}
		if v := optStr(op.Params, "description"); v != "" {
			p.Description = v
		}
		if ids := optStrSlice(op.Params, "definitionGraphIds"); ids != nil {
			p.DefinitionGraphIDs = ids
		}
		s.nodePrototypes[id] = p

	case models.OpUpdateGraph:
		g, err := s.targetGraphLocked(graphID, op.Params)
		if err != nil {
			return err
		}
		if v := optStr(op.Params, "name"); v != "" {
			g.Name = v
		}
		if v := optStr(op.Params, "description"); v != "" {
			g.Description = v
		}
		s.graphs[g.ID] = *g

	case models.OpRemoveNodeInstance:
		g, err := s.targetGraphLocked(graphID, op.Params)
		if err != nil {
			return err
		}
		delete(g.Instances, optStr(op.Params, "instanceId"))

	case models.OpDeleteGraph:
		id := resolveGraphID(graphID, op.Params)
		g, ok := s.graphs[id]
		if ok {
			for _, eid := range g.EdgeIDs {
				delete(s.edges, eid)
			}
		}
		delete(s.graphs, id)
		delete(s.graphLayouts, id)
		delete(s.graphSummaries, id)
		s.openGraphIDs = removeStr(s.openGraphIDs, id)
		if s.activeGraphID == id {
			s.activeGraphID = ""
		}
	}
	return nil
}

// targetGraphLocked resolves the graph an op mutates, preferring an explicit
// graphId param over the patch-level graph id. The returned pointer aliases
// the stored graph's maps; slice-field changes must be written back.
func (s *Store) targetGraphLocked(graphID string, params map[string]any) (*models.Graph, error) {
	id := resolveGraphID(graphID, params)
	g, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("graph %q not found", id)
	}
	if g.Instances == nil {
		g.Instances = make(map[string]models.NodeInstance)
		s.graphs[id] = g
	}
	return &g, nil
}

func resolveGraphID(graphID string, params map[string]any) string {
	if v := optStr(params, "graphId"); v != "" {
		return v
	}
	return graphID
}

// FindPrototypeByName resolves a prototype by exact name, then by
// case-insensitive trimmed match.
func (s *Store) FindPrototypeByName(name string) (models.NodePrototype, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.nodePrototypes {
		if p.Name == name {
			return p, true
		}
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, p := range s.nodePrototypes {
		if strings.ToLower(strings.TrimSpace(p.Name)) == want {
			return p, true
		}
	}
	return models.NodePrototype{}, false
}

// FindInstanceByPrototype returns the first instance of the prototype within
// the graph.
func (s *Store) FindInstanceByPrototype(graphID, prototypeID string) (models.NodeInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return models.NodeInstance{}, false
	}
	for _, inst := range g.Instances {
		if inst.PrototypeID == prototypeID {
			return inst, true
		}
	}
	return models.NodeInstance{}, false
}

// FindEdgeBetween returns an edge of the graph connecting the two instances
// in either direction.
func (s *Store) FindEdgeBetween(graphID, instanceA, instanceB string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return models.Edge{}, false
	}
	for _, eid := range g.EdgeIDs {
		e, ok := s.edges[eid]
		if !ok {
			continue
		}
		if (e.SourceID == instanceA && e.DestinationID == instanceB) ||
			(e.SourceID == instanceB && e.DestinationID == instanceA) {
			return e, true
		}
	}
	return models.Edge{}, false
}

// GraphState summarizes one graph for continuation context. NodeNames are
// prototype names of placed instances, capped at limit (0 = uncapped).
func (s *Store) GraphState(graphID string, limit int) models.GraphState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return models.GraphState{GraphID: graphID}
	}
	st := models.GraphState{
		GraphID:   graphID,
		GraphName: g.Name,
		NodeCount: len(g.Instances),
		EdgeCount: len(g.EdgeIDs),
	}
	for _, inst := range g.Instances {
		if limit > 0 && len(st.NodeNames) >= limit {
			break
		}
		if p, ok := s.nodePrototypes[inst.PrototypeID]; ok && p.Name != "" {
			st.NodeNames = append(st.NodeNames, p.Name)
		}
	}
	return st
}

// TotalNodeCount sums placed instances across all graphs.
func (s *Store) TotalNodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, g := range s.graphs {
		total += len(g.Instances)
	}
	return total
}

func optStr(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func firstStr(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := optStr(params, k); v != "" {
			return v
		}
	}
	return ""
}

func optFloat(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func optStrSlice(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeStr(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

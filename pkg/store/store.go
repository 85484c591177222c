// Package store holds the server-side projection of the UI graph store.
// The UI pushes snapshots via POST /api/bridge/state; the committer applies
// approved ops to keep the mirror consistent between pushes. Readers take
// snapshots; the writer applies ops atomically per patch.
package store

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/models"
)

// Snapshot is the projected state pushed by the UI and returned by
// GET /api/bridge/state.
type Snapshot struct {
	Graphs         map[string]models.Graph         `json:"graphs"`
	NodePrototypes map[string]models.NodePrototype `json:"nodePrototypes"`
	ActiveGraphID  string                          `json:"activeGraphId,omitempty"`
	OpenGraphIDs   []string                        `json:"openGraphIds,omitempty"`
	GraphLayouts   map[string]any                  `json:"graphLayouts,omitempty"`
	GraphSummaries map[string]any                  `json:"graphSummaries,omitempty"`
	GraphEdges     []models.Edge                   `json:"graphEdges,omitempty"`
	Edges          map[string]models.Edge          `json:"edges,omitempty"`
}

// Store is the in-memory projection. All access is mutex-guarded; reads
// return deep-enough copies that callers never alias internal maps.
type Store struct {
	mu             sync.RWMutex
	graphs         map[string]models.Graph
	nodePrototypes map[string]models.NodePrototype
	edges          map[string]models.Edge
	activeGraphID  string
	openGraphIDs   []string
	graphLayouts   map[string]any
	graphSummaries map[string]any

	// heads carries the running FNV-1a hash of each graph's applied-op log.
	heads map[string]uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		graphs:         make(map[string]models.Graph),
		nodePrototypes: make(map[string]models.NodePrototype),
		edges:          make(map[string]models.Edge),
		graphLayouts:   make(map[string]any),
		graphSummaries: make(map[string]any),
		heads:          make(map[string]uint64),
	}
}

// isTestEntry matches ids/names the merge must preserve even when the
// incoming snapshot omits them: seeded test fixtures must survive UI pushes.
func isTestEntry(id, name string) bool {
	return strings.Contains(id, "test") ||
		strings.Contains(id, "itm-") ||
		strings.Contains(strings.ToLower(name), "test")
}

// Merge applies an incoming UI snapshot. Incoming graphs replace those with
// matching ids; existing test-marked entries are preserved across merges.
// graphEdges are normalized into the edges map and every graph is
// guaranteed an instances object.
func (s *Store) Merge(in Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	preservedGraphs := make(map[string]models.Graph)
	for id, g := range s.graphs {
		if isTestEntry(id, g.Name) {
			preservedGraphs[id] = g
		}
	}
	preservedProtos := make(map[string]models.NodePrototype)
	for id, p := range s.nodePrototypes {
		if isTestEntry(id, p.Name) {
			preservedProtos[id] = p
		}
	}

	if in.Graphs != nil {
		for id, g := range in.Graphs {
			if g.Instances == nil {
				g.Instances = make(map[string]models.NodeInstance)
			}
			if g.ID == "" {
				g.ID = id
			}
			s.graphs[id] = g
		}
		// Anything not in the incoming snapshot is gone from the UI side,
		// except preserved test entries.
		for id := range s.graphs {
			if _, incoming := in.Graphs[id]; !incoming {
				if _, keep := preservedGraphs[id]; !keep {
					delete(s.graphs, id)
				}
			}
		}
		for id, g := range preservedGraphs {
			if _, ok := s.graphs[id]; !ok {
				s.graphs[id] = g
			}
		}
	}

	if in.NodePrototypes != nil {
		for id, p := range in.NodePrototypes {
			if p.ID == "" {
				p.ID = id
			}
			s.nodePrototypes[id] = p
		}
		for id := range s.nodePrototypes {
			if _, incoming := in.NodePrototypes[id]; !incoming {
				if _, keep := preservedProtos[id]; !keep {
					delete(s.nodePrototypes, id)
				}
			}
		}
		for id, p := range preservedProtos {
			if _, ok := s.nodePrototypes[id]; !ok {
				s.nodePrototypes[id] = p
			}
		}
	}

	if in.Edges != nil {
		for id, e := range in.Edges {
			if e.ID == "" {
				e.ID = id
			}
			s.edges[id] = e
		}
	}
	for _, e := range in.GraphEdges {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		s.edges[e.ID] = e
	}

	if in.ActiveGraphID != "" {
		s.activeGraphID = in.ActiveGraphID
	}
	if in.OpenGraphIDs != nil {
		s.openGraphIDs = append([]string(nil), in.OpenGraphIDs...)
	}
	for k, v := range in.GraphLayouts {
		s.graphLayouts[k] = v
	}
	for k, v := range in.GraphSummaries {
		s.graphSummaries[k] = v
	}
}

// State returns a copy of the projection for GET /api/bridge/state.
func (s *Store) State() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		Graphs:         make(map[string]models.Graph, len(s.graphs)),
		NodePrototypes: make(map[string]models.NodePrototype, len(s.nodePrototypes)),
		Edges:          make(map[string]models.Edge, len(s.edges)),
		ActiveGraphID:  s.activeGraphID,
		OpenGraphIDs:   append([]string(nil), s.openGraphIDs...),
		GraphLayouts:   make(map[string]any, len(s.graphLayouts)),
		GraphSummaries: make(map[string]any, len(s.graphSummaries)),
	}
	for id, g := range s.graphs {
		out.Graphs[id] = copyGraph(g)
	}
	for id, p := range s.nodePrototypes {
		out.NodePrototypes[id] = p
	}
	for id, e := range s.edges {
		out.Edges[id] = e
	}
	for k, v := range s.graphLayouts {
		out.GraphLayouts[k] = v
	}
	for k, v := range s.graphSummaries {
		out.GraphSummaries[k] = v
	}
	return out
}

// ActiveGraphID returns the currently active graph id.
func (s *Store) ActiveGraphID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeGraphID
}

// SetActiveGraph records a graph as active (mirror of the UI's openGraph).
func (s *Store) SetActiveGraph(graphID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeGraphID = graphID
	for _, id := range s.openGraphIDs {
		if id == graphID {
			return
		}
	}
	s.openGraphIDs = append(s.openGraphIDs, graphID)
}

// Graph returns a copy of one graph.
func (s *Store) Graph(graphID string) (models.Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return models.Graph{}, false
	}
	return copyGraph(g), true
}

// Head returns the hex FNV-1a hash of the graph's applied-op log. A graph
// with no applied ops has the hash offset basis as its head.
func (s *Store) Head(graphID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("%016x", s.headLocked(graphID))
}

func (s *Store) headLocked(graphID string) uint64 {
	if h, ok := s.heads[graphID]; ok {
		return h
	}
	h := fnv.New64a()
	h.Write([]byte(graphID))
	return h.Sum64()
}

func copyGraph(g models.Graph) models.Graph {
	out := g
	out.Instances = make(map[string]models.NodeInstance, len(g.Instances))
	for id, inst := range g.Instances {
		out.Instances[id] = inst
	}
	out.EdgeIDs = append([]string(nil), g.EdgeIDs...)
	return out
}

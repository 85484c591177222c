package models

// NodePrototype is a reusable concept definition. Instances place it inside
// graphs; DefinitionGraphIDs point at graphs elaborating its meaning.
type NodePrototype struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Color              string   `json:"color,omitempty"`
	Description        string   `json:"description,omitempty"`
	DefinitionGraphIDs []string `json:"definitionGraphIds,omitempty"`
}

// NodeInstance is a placed occurrence of a prototype within one graph.
type NodeInstance struct {
	ID          string  `json:"id"`
	PrototypeID string  `json:"prototypeId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// Edge connects two node instances. ArrowsToward lists the instance ids the
// arrow heads point at (empty for undirected).
type Edge struct {
	ID                string   `json:"id"`
	SourceID          string   `json:"sourceId"`
	DestinationID     string   `json:"destinationId"`
	DefinitionNodeIDs []string `json:"definitionNodeIds,omitempty"`
	ArrowsToward      []string `json:"arrowsToward,omitempty"`
	Name              string   `json:"name,omitempty"`
}

// Graph is one canvas in the projected UI store.
type Graph struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Instances   map[string]NodeInstance `json:"instances"`
	EdgeIDs     []string                `json:"edgeIds,omitempty"`
}

// GraphState is the compact graph summary the committer reports to the
// continuation endpoint after each applied phase.
type GraphState struct {
	GraphID   string   `json:"graphId,omitempty"`
	GraphName string   `json:"graphName,omitempty"`
	NodeCount int      `json:"nodeCount"`
	EdgeCount int      `json:"edgeCount"`
	NodeNames []string `json:"nodeNames,omitempty"`
}

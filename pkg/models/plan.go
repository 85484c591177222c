package models

// Intent is the discriminator of a planner result. The planner returns a
// tagged union; Intent selects which payload fields are meaningful.
type Intent string

// Planner intents.
const (
	IntentQA                Intent = "qa"
	IntentCreateGraph       Intent = "create_graph"
	IntentCreateNode        Intent = "create_node"
	IntentAnalyze           Intent = "analyze"
	IntentUpdateNode        Intent = "update_node"
	IntentDeleteNode        Intent = "delete_node"
	IntentDeleteGraph       Intent = "delete_graph"
	IntentUpdateEdge        Intent = "update_edge"
	IntentDeleteEdge        Intent = "delete_edge"
	IntentCreateEdge        Intent = "create_edge"
	IntentBulkDelete        Intent = "bulk_delete"
	IntentEnrichNode        Intent = "enrich_node"
	IntentDecomposeGoal     Intent = "decompose_goal"
	IntentDefineConnections Intent = "define_connections"
)

// IsKnown reports whether the intent is one the executor can dispatch.
func (i Intent) IsKnown() bool {
	switch i {
	case IntentQA, IntentCreateGraph, IntentCreateNode, IntentAnalyze,
		IntentUpdateNode, IntentDeleteNode, IntentDeleteGraph,
		IntentUpdateEdge, IntentDeleteEdge, IntentCreateEdge,
		IntentBulkDelete, IntentEnrichNode, IntentDecomposeGoal,
		IntentDefineConnections:
		return true
	default:
		return false
	}
}

// GraphRef names a graph by display name (the planner never sees raw ids).
type GraphRef struct {
	Name string `json:"name"`
}

// NodeSpec describes a node the planner wants created or updated.
type NodeSpec struct {
	Name        string  `json:"name"`
	Color       string  `json:"color,omitempty"`
	Description string  `json:"description,omitempty"`
	X           float64 `json:"x,omitempty"`
	Y           float64 `json:"y,omitempty"`
}

// EdgeSpec describes a connection between two nodes by name.
// Directionality is one of: unidirectional, bidirectional, none, undirected,
// reverse — mapped to arrowsToward by the executor.
type EdgeSpec struct {
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	Directionality string    `json:"directionality,omitempty"`
	DefinitionNode *NodeSpec `json:"definitionNode,omitempty"`
}

// GraphSpec is a full graph population request: nodes, edges, and an
// optional layout algorithm hint for the UI.
type GraphSpec struct {
	Nodes           []NodeSpec `json:"nodes"`
	Edges           []EdgeSpec `json:"edges,omitempty"`
	LayoutAlgorithm string     `json:"layoutAlgorithm,omitempty"`
}

// Plan is the validated planner output. Intent discriminates which of the
// optional payload fields are populated; parse strictly, then dispatch.
type Plan struct {
	Intent   Intent `json:"intent"`
	Response string `json:"response,omitempty"`

	Graph     *GraphRef  `json:"graph,omitempty"`
	GraphSpec *GraphSpec `json:"graphSpec,omitempty"`
	Node      *NodeSpec  `json:"node,omitempty"`
	Nodes     []NodeSpec `json:"nodes,omitempty"`
	Edge      *EdgeSpec  `json:"edge,omitempty"`
	Edges     []EdgeSpec `json:"edges,omitempty"`
	Subgoals  []string   `json:"subgoals,omitempty"`

	// Continuation evaluation results ("continue" | "complete").
	Decision string `json:"decision,omitempty"`
}

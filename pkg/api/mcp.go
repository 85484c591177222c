package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// JSON-RPC 2.0 error codes used by the MCP surface.
const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcToolError      = -32000
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

func rpcResult(id any, result any) gin.H {
	return gin.H{"jsonrpc": "2.0", "id": id, "result": result}
}

func rpcError(id any, code int, message string) gin.H {
	return gin.H{"jsonrpc": "2.0", "id": id, "error": gin.H{"code": code, "message": message}}
}

type mcpTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

var mcpTools = []mcpTool{
	{
		Name:        "verify_state",
		Description: "Report the projected state: graph count, node count, active graph, and per-graph heads.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "list_available_graphs",
		Description: "List every graph with its id, name, and instance count.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "search_nodes",
		Description: "Case-insensitive substring search over node prototype names.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	},
}

// MCPRequest serves the MCP tool surface as JSON-RPC 2.0 over POST.
func (s *Server) MCPRequest(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, rpcError(nil, rpcInvalidParams, "request body is not a JSON-RPC request"))
		return
	}

	switch req.Method {
	case "initialize":
		c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{
			"protocolVersion": "2024-11-05",
			"serverInfo":      gin.H{"name": "redstring-bridge", "version": "1.0"},
			"capabilities":    gin.H{"tools": gin.H{}},
		}))
	case "tools/list":
		c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{"tools": mcpTools}))
	case "tools/call":
		s.mcpToolCall(c, req)
	default:
		c.JSON(http.StatusOK, rpcError(req.ID, rpcMethodNotFound, "method not found: "+req.Method))
	}
}

func (s *Server) mcpToolCall(c *gin.Context, req rpcRequest) {
	name, _ := req.Params["name"].(string)
	args, _ := req.Params["arguments"].(map[string]any)

	var out any
	switch name {
	case "verify_state":
		out = s.mcpVerifyState()
	case "list_available_graphs":
		out = s.mcpListGraphs()
	case "search_nodes":
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			c.JSON(http.StatusOK, rpcError(req.ID, rpcInvalidParams, "search_nodes requires a query argument"))
			return
		}
		out = s.mcpSearchNodes(query)
	default:
		c.JSON(http.StatusOK, rpcError(req.ID, rpcToolError, "unknown tool: "+name))
		return
	}
	c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{
		"content": []gin.H{{"type": "json", "json": out}},
	}))
}

func (s *Server) mcpVerifyState() gin.H {
	st := s.core.Store.State()
	nodes := 0
	heads := make(map[string]string, len(st.Graphs))
	for id, g := range st.Graphs {
		nodes += len(g.Instances)
		heads[id] = s.core.Store.Head(id)
	}
	return gin.H{
		"graphCount":    len(st.Graphs),
		"nodeCount":     nodes,
		"edgeCount":     len(st.Edges),
		"activeGraphId": st.ActiveGraphID,
		"heads":         heads,
	}
}

func (s *Server) mcpListGraphs() []gin.H {
	st := s.core.Store.State()
	out := make([]gin.H, 0, len(st.Graphs))
	for id, g := range st.Graphs {
		out = append(out, gin.H{
			"id": id, "name": g.Name, "instanceCount": len(g.Instances),
			"active": id == st.ActiveGraphID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["id"].(string) < out[j]["id"].(string)
	})
	return out
}

func (s *Server) mcpSearchNodes(query string) []gin.H {
	st := s.core.Store.State()
	q := strings.ToLower(query)
	out := []gin.H{}
	for id, p := range st.NodePrototypes {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, gin.H{"id": id, "name": p.Name, "color": p.Color})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return out
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/agent"
	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
	"github.com/theredstring/redstring-bridge/pkg/store"
)

type agentContext struct {
	ActiveGraphID  string                          `json:"activeGraphId,omitempty"`
	Graphs         map[string]models.Graph         `json:"graphs,omitempty"`
	NodePrototypes map[string]models.NodePrototype `json:"nodePrototypes,omitempty"`
	APIConfig      *models.APIConfig               `json:"apiConfig,omitempty"`
	ChainState     *models.ChainState              `json:"chainState,omitempty"`
	IsTest         bool                            `json:"isTest,omitempty"`
}

type agentRequest struct {
	Message             string            `json:"message"`
	CID                 string            `json:"cid,omitempty"`
	Context             agentContext      `json:"context"`
	ConversationHistory []models.ChatTurn `json:"conversationHistory,omitempty"`
}

// Agent is the primary planner entry point.
func (s *Server) Agent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required", "success": false})
		return
	}
	apiKey := bearerToken(c)
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing API key: set an Authorization bearer token or configure a provider key",
			"success": false,
		})
		return
	}
	cid := req.CID
	if cid == "" {
		cid = uuid.New().String()
	}

	s.absorbContext(req.Context)
	s.core.Events.Append(events.EventChat, map[string]any{
		"cid": cid, "role": "user", "message": req.Message, "isTest": req.Context.IsTest,
	})

	planReq := agent.PlanRequest{
		Message:             req.Message,
		CID:                 cid,
		APIKey:              apiKey,
		APIConfig:           req.Context.APIConfig,
		ConversationHistory: req.ConversationHistory,
		IsTest:              req.Context.IsTest,
	}
	plan, err := s.core.Planner.Plan(c.Request.Context(), planReq)
	if err != nil {
		s.agentError(c, cid, req.Context.IsTest, err)
		return
	}
	res, err := s.core.Executor.Dispatch(c.Request.Context(), plan, planReq)
	if err != nil {
		s.agentError(c, cid, req.Context.IsTest, err)
		return
	}

	s.core.Events.Append(events.EventChat, map[string]any{
		"cid": cid, "role": "assistant", "message": res.Response, "isTest": req.Context.IsTest,
	})

	resp := gin.H{
		"success":   true,
		"response":  res.Response,
		"toolCalls": res.ToolCalls,
		"cid":       cid,
	}
	if res.GoalID != "" {
		resp["goalId"] = res.GoalID
	}
	c.JSON(http.StatusOK, resp)
}

// agentError reports a pipeline failure: a friendly message to the caller,
// a system chat entry for the UI, and the cid echoed for traceability.
// Internal prompt contents never appear in the response.
func (s *Server) agentError(c *gin.Context, cid string, isTest bool, err error) {
	s.logger.Error("agent request failed", "cid", cid, "error", err)
	s.core.Events.Append(events.EventChat, map[string]any{
		"cid": cid, "role": "system", "message": "system error", "isTest": isTest,
	})
	status := http.StatusInternalServerError
	msg := "The request could not be completed. Please try again."
	var pe *llm.ProviderError
	if errors.As(err, &pe) && (pe.StatusCode == 401 || pe.StatusCode == 403) {
		status = http.StatusUnauthorized
		msg = "The model provider rejected the API key. Check your key configuration."
	}
	c.JSON(status, gin.H{"error": msg, "success": false, "cid": cid})
}

// AgentContinue drives the agentic loop.
func (s *Server) AgentContinue(c *gin.Context) {
	var in agent.ContinueInput
	if err := c.ShouldBindJSON(&in); err != nil || in.CID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cid required", "success": false})
		return
	}
	res, err := s.core.Continuation.Continue(c.Request.Context(), in)
	if err != nil {
		s.agentError(c, in.CID, in.Meta != nil && in.Meta.IsTest, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AgentAudit enqueues an audit_graph goal for an applied mutation batch.
func (s *Server) AgentAudit(c *gin.Context) {
	var req struct {
		CID       string `json:"cid"`
		GraphID   string `json:"graphId"`
		NodeCount int    `json:"nodeCount"`
		EdgeCount int    `json:"edgeCount"`
		Action    string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.GraphID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "graphId required", "success": false})
		return
	}
	goal := models.Goal{
		ID:   uuid.New().String(),
		Goal: "audit_graph",
		DAG: models.DAG{Tasks: []models.Task{{
			ToolName: "audit_graph",
			ThreadID: req.CID,
			Args: map[string]any{
				"graphId": req.GraphID, "nodeCount": req.NodeCount,
				"edgeCount": req.EdgeCount, "action": req.Action,
			},
		}}},
		ThreadID: req.CID,
	}
	if _, err := s.core.Queues.Enqueue(queue.GoalQueue, "audit_graph", goal, req.CID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "success": false})
		return
	}
	s.core.Events.Append(events.EventGoalEnqueued, map[string]any{
		"cid": req.CID, "goal": "audit_graph", "goalId": goal.ID,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "goalId": goal.ID})
}

// Chat is the single-turn non-mutating pass-through.
func (s *Server) Chat(c *gin.Context) {
	var req struct {
		Message string            `json:"message"`
		CID     string            `json:"cid,omitempty"`
		Context agentContext      `json:"context"`
		History []models.ChatTurn `json:"conversationHistory,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required", "success": false})
		return
	}
	apiKey := bearerToken(c)
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key", "success": false})
		return
	}
	cid := req.CID
	if cid == "" {
		cid = uuid.New().String()
	}

	plan, err := s.core.Planner.Plan(c.Request.Context(), agent.PlanRequest{
		Message:             req.Message,
		CID:                 cid,
		APIKey:              apiKey,
		APIConfig:           req.Context.APIConfig,
		ConversationHistory: req.History,
		IsTest:              req.Context.IsTest,
	})
	if err != nil {
		s.agentError(c, cid, req.Context.IsTest, err)
		return
	}
	// Chat never mutates: only the conversational response is returned,
	// whatever intent the model chose.
	c.JSON(http.StatusOK, gin.H{"success": true, "response": plan.Response, "cid": cid})
}

// absorbContext folds the request's graph context into the projection so
// name resolution sees what the client sees.
func (s *Server) absorbContext(ctx agentContext) {
	if len(ctx.Graphs) > 0 || len(ctx.NodePrototypes) > 0 {
		s.core.Store.Merge(store.Snapshot{
			Graphs:         ctx.Graphs,
			NodePrototypes: ctx.NodePrototypes,
			ActiveGraphID:  ctx.ActiveGraphID,
		})
	} else if ctx.ActiveGraphID != "" {
		s.core.Store.SetActiveGraph(ctx.ActiveGraphID)
	}
}


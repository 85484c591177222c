package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/theredstring/redstring-bridge/pkg/actions"
	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/store"
)

// PushState merges a UI snapshot into the projection.
func (s *Server) PushState(c *gin.Context) {
	var snap store.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state payload: " + err.Error()})
		return
	}
	s.core.Store.Merge(snap)
	st := s.core.Store.State()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"graphs":  len(st.Graphs),
		"edges":   len(st.Edges),
	})
}

// GetState returns the current projection.
func (s *Server) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Store.State())
}

// LeasePendingActions returns and leases the not-currently-leased subset.
func (s *Server) LeasePendingActions(c *gin.Context) {
	leased := s.core.Broker.Lease()
	if leased == nil {
		leased = []models.PendingAction{}
	}
	c.JSON(http.StatusOK, gin.H{"actions": leased})
}

type enqueueActionsRequest struct {
	Actions []struct {
		Action string         `json:"action"`
		Params []any          `json:"params"`
		Meta   map[string]any `json:"meta,omitempty"`
	} `json:"actions"`
}

// EnqueuePendingActions lets server-side producers inject actions. An
// openGraph is auto-prepended for applyMutations targeting an inactive
// graph, same as the committer's own path.
func (s *Server) EnqueuePendingActions(c *gin.Context) {
	var req enqueueActionsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Actions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actions array required"})
		return
	}

	pending := make([]models.PendingAction, 0, len(req.Actions))
	for _, a := range req.Actions {
		action := models.PendingAction{Action: a.Action, Params: a.Params}
		if a.Action == models.ActionApplyMutations {
			if gid := graphIDFromParams(a.Params); gid != "" {
				action.Meta = &models.ActionMeta{GraphID: gid}
			}
		}
		pending = append(pending, action)
	}
	pending = actions.WithOpenGraph(pending, func(graphID string) bool {
		return s.core.Store.ActiveGraphID() == graphID
	})
	enqueued := s.core.Broker.Enqueue(pending...)

	s.core.Events.Append(events.EventPendingActionsEnqueued, map[string]any{
		"count": len(enqueued), "source": "http",
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "enqueued": len(enqueued)})
}

func graphIDFromParams(params []any) string {
	for _, p := range params {
		if m, ok := p.(map[string]any); ok {
			if gid, ok := m["graphId"].(string); ok {
				return gid
			}
		}
	}
	return ""
}

// ActionCompleted acknowledges one applied action.
func (s *Server) ActionCompleted(c *gin.Context) {
	var req struct {
		ActionID string `json:"actionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ActionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actionId required"})
		return
	}
	_, removed := s.core.Broker.Complete(req.ActionID)
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// ActionStarted records the client beginning to apply an action.
func (s *Server) ActionStarted(c *gin.Context) {
	var req struct {
		ActionID string         `json:"actionId"`
		Action   string         `json:"action"`
		Params   map[string]any `json:"params,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action required"})
		return
	}
	s.core.Broker.Started(req.ActionID, req.Action, req.Params)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ActionFeedback records partial progress or failure without changing
// lease state.
func (s *Server) ActionFeedback(c *gin.Context) {
	var req struct {
		Action string         `json:"action"`
		Status string         `json:"status"`
		Error  string         `json:"error,omitempty"`
		Params map[string]any `json:"params,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action required"})
		return
	}
	s.core.Broker.Feedback(req.Action, req.Status, req.Error, req.Params)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

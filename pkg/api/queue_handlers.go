package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/queue"
)

// EnqueueGoal pushes a raw goal onto the goal queue (ops tooling).
func (s *Server) EnqueueGoal(c *gin.Context) {
	var req struct {
		Goal     string     `json:"goal"`
		DAG      models.DAG `json:"dag"`
		ThreadID string     `json:"threadId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Goal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal required"})
		return
	}
	goal := models.Goal{
		ID:       uuid.New().String(),
		Goal:     req.Goal,
		DAG:      req.DAG,
		ThreadID: req.ThreadID,
	}
	if _, err := s.core.Queues.Enqueue(queue.GoalQueue, req.Goal, goal, req.ThreadID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.core.Events.Append(events.EventGoalEnqueued, map[string]any{
		"cid": req.ThreadID, "goal": req.Goal, "goalId": goal.ID,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "goalId": goal.ID})
}

// PullTasks leases tasks, optionally scoped to one thread partition.
func (s *Server) PullTasks(c *gin.Context) {
	var req struct {
		ThreadID string `json:"threadId,omitempty"`
		Max      int    `json:"max,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	items, err := s.core.Queues.Pull(queue.TaskQueue, queue.PullOptions{
		PartitionKey: req.ThreadID,
		Max:          req.Max,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SubmitPatch enqueues a patch for audit.
func (s *Server) SubmitPatch(c *gin.Context) {
	var req struct {
		Patch models.Patch `json:"patch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Patch.GraphID == "" || len(req.Patch.Ops) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patch with graphId and ops required"})
		return
	}
	if req.Patch.PatchID == "" {
		req.Patch.PatchID = uuid.New().String()
	}
	if _, err := s.core.Queues.Enqueue(queue.PatchQueue, "patch", req.Patch, req.Patch.GraphID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.core.Events.Append(events.EventPatchSubmitted, map[string]any{
		"cid": req.Patch.ThreadID, "patchId": req.Patch.PatchID,
		"graphId": req.Patch.GraphID, "ops": len(req.Patch.Ops),
		"isTest": req.Patch.Meta != nil && req.Patch.Meta.IsTest,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "patchId": req.Patch.PatchID})
}

// PullReviews leases reviews off the review queue.
func (s *Server) PullReviews(c *gin.Context) {
	var req struct {
		Max int `json:"max,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	items, err := s.core.Queues.Pull(queue.ReviewQueue, queue.PullOptions{Max: req.Max})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SubmitReview acks a leased review item and re-enqueues the caller's
// verdict for the committer.
func (s *Server) SubmitReview(c *gin.Context) {
	var req struct {
		LeaseID  string          `json:"leaseId"`
		Decision models.Decision `json:"decision"`
		Reasons  []string        `json:"reasons,omitempty"`
		GraphID  string          `json:"graphId"`
		Patch    *models.Patch   `json:"patch,omitempty"`
		Patches  []models.Patch  `json:"patches,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Decision == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision required"})
		return
	}
	if req.LeaseID != "" {
		if err := s.core.Queues.Ack(queue.ReviewQueue, req.LeaseID); err != nil && !errors.Is(err, queue.ErrLeaseNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	review := models.Review{
		Decision: req.Decision,
		Reasons:  req.Reasons,
		GraphID:  req.GraphID,
		Patch:    req.Patch,
		Patches:  req.Patches,
	}
	if _, err := s.core.Queues.Enqueue(queue.ReviewQueue, string(req.Decision), review, req.GraphID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.core.Events.Append(events.EventReviewEnqueued, map[string]any{
		"decision": string(req.Decision), "graphId": req.GraphID, "reasons": req.Reasons,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ApproveNextPatch is the dev shortcut: audit and approve the next patch
// in one call.
func (s *Server) ApproveNextPatch(c *gin.Context) {
	processed := s.core.Auditor.ProcessPatches(1)
	if processed == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": 0})
		return
	}
	committed := s.core.Committer.ProcessReviews(1)
	c.JSON(http.StatusOK, gin.H{"success": true, "processed": processed, "committed": committed})
}

// QueueMetrics returns counters for one queue.
func (s *Server) QueueMetrics(c *gin.Context) {
	name := c.Query("name")
	m, err := s.core.Queues.Metrics(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// QueuePeek returns the head of one queue without leasing.
func (s *Server) QueuePeek(c *gin.Context) {
	name := c.Query("name")
	head := 10
	if v := c.Query("head"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "head must be an integer"})
			return
		}
		head = n
	}
	items, err := s.core.Queues.Peek(name, head)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// TestCreateTask seeds a task onto the task queue through the executor's
// seed path, so it carries the envelope the compile stage expects.
func (s *Server) TestCreateTask(c *gin.Context) {
	var req struct {
		ToolName string         `json:"toolName"`
		Args     map[string]any `json:"args,omitempty"`
		ThreadID string         `json:"threadId,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ToolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toolName required"})
		return
	}
	task := models.Task{ToolName: req.ToolName, Args: req.Args, ThreadID: req.ThreadID}
	id, err := s.core.Executor.SeedTask(task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "itemId": id})
}

// TestCommitOps applies ops straight through the committer path, skipping
// planner and auditor.
func (s *Server) TestCommitOps(c *gin.Context) {
	var req struct {
		GraphID string      `json:"graphId"`
		Ops     []models.Op `json:"ops"`
		CID     string      `json:"cid,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.GraphID == "" || len(req.Ops) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "graphId and ops required"})
		return
	}
	patch := models.Patch{
		PatchID:  uuid.New().String(),
		GraphID:  req.GraphID,
		ThreadID: req.CID,
		Ops:      req.Ops,
		Meta:     &models.GoalMeta{IsTest: true},
	}
	review := models.Review{Decision: models.DecisionApproved, GraphID: req.GraphID, Patch: &patch}
	if _, err := s.core.Queues.Enqueue(queue.ReviewQueue, "approved", review, req.GraphID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	committed := s.core.Committer.ProcessReviews(1)
	c.JSON(http.StatusOK, gin.H{"success": true, "patchId": patch.PatchID, "committed": committed})
}

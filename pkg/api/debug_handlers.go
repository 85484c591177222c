package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RecentTraces lists recent conversation trace summaries, newest first.
func (s *Server) RecentTraces(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"traces": s.core.Tracer.GetRecentTraces(limit)})
}

// GetTrace returns the full stage-by-stage trace for one conversation.
func (s *Server) GetTrace(c *gin.Context) {
	cid := c.Param("cid")
	tr, ok := s.core.Tracer.GetTrace(cid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trace for cid " + cid})
		return
	}
	c.JSON(http.StatusOK, tr)
}

// GetTraceStage returns the records for one pipeline stage of a trace.
func (s *Server) GetTraceStage(c *gin.Context) {
	cid := c.Param("cid")
	stage := c.Param("stage")
	records, ok := s.core.Tracer.GetStage(cid, stage)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trace for cid " + cid})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cid": cid, "stage": stage, "records": records})
}

// TraceStats returns aggregate counts over the trace ring.
func (s *Server) TraceStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Tracer.GetStats())
}

// SchedulerStatus reports the pipeline scheduler's configuration and the
// time of its last tick.
func (s *Server) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Scheduler.Status())
}

// SchedulerPause suspends pipeline ticks until resumed.
func (s *Server) SchedulerPause(c *gin.Context) {
	s.core.Scheduler.Pause()
	c.JSON(http.StatusOK, s.core.Scheduler.Status())
}

// SchedulerResume re-enables pipeline ticks.
func (s *Server) SchedulerResume(c *gin.Context) {
	s.core.Scheduler.Resume()
	c.JSON(http.StatusOK, s.core.Scheduler.Status())
}

// Package api exposes the bridge core over HTTP: the UI state sync, the
// pending-action contract, the agent endpoints, queue tooling, SSE streams,
// and the debug/trace surface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theredstring/redstring-bridge/pkg/bridge"
	"github.com/theredstring/redstring-bridge/pkg/version"
)

// Server binds HTTP routes to the bridge core.
type Server struct {
	core   *bridge.Core
	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(core *bridge.Core, logger *slog.Logger) *Server {
	return &Server{core: core, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.core.Config.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())
	if err := r.SetTrustedProxies(s.core.Config.TrustedProxies()); err != nil {
		s.logger.Warn("trusted proxy configuration rejected", slog.Any("error", err))
	}

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	br := r.Group("/api/bridge")
	{
		br.POST("/state", s.PushState)
		br.GET("/state", s.GetState)
		br.GET("/pending-actions", s.LeasePendingActions)
		br.POST("/pending-actions/enqueue", s.EnqueuePendingActions)
		br.POST("/action-completed", s.ActionCompleted)
		br.POST("/action-started", s.ActionStarted)
		br.POST("/action-feedback", s.ActionFeedback)

		br.GET("/scheduler/status", s.SchedulerStatus)
		br.POST("/scheduler/pause", s.SchedulerPause)
		br.POST("/scheduler/resume", s.SchedulerResume)

		dbg := br.Group("/debug")
		{
			dbg.GET("/traces", s.RecentTraces)
			dbg.GET("/trace/:cid", s.GetTrace)
			dbg.GET("/trace/:cid/stage/:stage", s.GetTraceStage)
			dbg.GET("/stats", s.TraceStats)
		}
	}

	ai := r.Group("/api/ai")
	{
		ai.POST("/agent", s.Agent)
		ai.POST("/agent/continue", s.AgentContinue)
		ai.POST("/agent/audit", s.AgentAudit)
		ai.POST("/chat", s.Chat)
	}

	q := r.Group("/queue")
	{
		q.POST("/goals.enqueue", s.EnqueueGoal)
		q.POST("/tasks.pull", s.PullTasks)
		q.POST("/patches.submit", s.SubmitPatch)
		q.POST("/reviews.pull", s.PullReviews)
		q.POST("/reviews.submit", s.SubmitReview)
		q.POST("/patches.approve-next", s.ApproveNextPatch)
		q.GET("/metrics", s.QueueMetrics)
		q.GET("/peek", s.QueuePeek)
	}

	r.POST("/test/create-task", s.TestCreateTask)
	r.POST("/test/commit-ops", s.TestCommitOps)

	r.GET("/events/stream", s.EventStream)
	r.GET("/telemetry/stream", s.TelemetryStream)

	r.POST("/api/mcp/request", s.MCPRequest)

	return r
}

// Health reports process liveness plus queue depths.
func (s *Server) Health(c *gin.Context) {
	depths := make(map[string]int)
	for _, name := range s.core.Queues.Names() {
		if m, err := s.core.Queues.Metrics(name); err == nil {
			depths[name] = m.Depth
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        version.Full(),
		"queues":         depths,
		"pendingActions": s.core.Broker.PendingCount(),
		"scheduler":      s.core.Scheduler.Status(),
		"subscribers":    s.core.Events.SubscriberCount(),
	})
}

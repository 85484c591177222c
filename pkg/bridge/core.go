// Package bridge assembles the orchestration core: the projected store,
// the queue manager, the pipeline stages, the pending-action broker, and
// the event log. Everything that used to be process-global state lives on
// Core; HTTP handlers receive a reference.
package bridge

import (
	"context"
	"log/slog"

	"github.com/theredstring/redstring-bridge/pkg/actions"
	"github.com/theredstring/redstring-bridge/pkg/agent"
	"github.com/theredstring/redstring-bridge/pkg/config"
	"github.com/theredstring/redstring-bridge/pkg/events"
	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/queue"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// Core owns the long-lived state of the bridge process.
type Core struct {
	Config *config.Config
	Logger *slog.Logger

	Store  *store.Store
	Queues *queue.Manager
	Events *events.Log
	Tracer *trace.Tracer
	Broker *actions.Broker

	Caller       *llm.Caller
	Planner      *agent.Planner
	Executor     *agent.Executor
	Auditor      *agent.Auditor
	Committer    *agent.Committer
	Scheduler    *agent.Scheduler
	Continuation *agent.Continuation

	cancel context.CancelFunc
}

// New builds a Core from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) *Core {
	st := store.New()
	queues := queue.NewManager(cfg.Queue.LeaseTTL, cfg.Queue.MaxAttempts, cfg.Queue.SweepInterval)
	evLog := events.NewLog("bridge", events.DefaultCapacity)
	tracer := trace.NewTracer(trace.DefaultCap)
	broker := actions.NewBroker(cfg.ActionLeaseTTL)
	ledger := agent.NewCommitLedger(0)

	caller := llm.NewCaller(logger, 0)
	caller.Register(llm.NewOpenAIAdapter("openai", ""))
	caller.Register(llm.NewAnthropicAdapter(""))

	planner := agent.NewPlanner(caller, st, cfg.Prompts, tracer, logger)
	executor := agent.NewExecutor(st, queues, evLog, tracer, logger, planner)
	auditor := agent.NewAuditor(st, queues, evLog, ledger, tracer, logger)
	committer := agent.NewCommitter(queues, broker, st, ledger, evLog, tracer, logger)
	scheduler := agent.NewScheduler(cfg.Scheduler, executor, auditor, committer, logger)
	continuation := agent.NewContinuation(planner, executor, st, tracer, logger)

	broker.SetTelemetryEmitter(func(eventType string, fields map[string]any) {
		evLog.Append(eventType, fields)
	})

	return &Core{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Queues:       queues,
		Events:       evLog,
		Tracer:       tracer,
		Broker:       broker,
		Caller:       caller,
		Planner:      planner,
		Executor:     executor,
		Auditor:      auditor,
		Committer:    committer,
		Scheduler:    scheduler,
		Continuation: continuation,
	}
}

// Start launches the background loops and wires the committer's agentic
// continuation back into the loop in-process.
func (c *Core) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.Committer.SetContinuation(func(req agent.ContinuationRequest) {
		res, err := c.Continuation.Continue(runCtx, agent.ContinueInput{
			CID:        req.CID,
			LastAction: req.LastAction,
			GraphState: req.GraphState,
			Iteration:  req.Iteration,
			Meta:       req.Meta,
		})
		if err != nil {
			c.Logger.Warn("continuation failed", slog.String("cid", req.CID), slog.Any("error", err))
			return
		}
		if res.Completed {
			c.Logger.Info("agentic loop completed",
				slog.String("cid", req.CID), slog.String("reason", res.Reason))
		}
	})

	c.Queues.Start(runCtx)
	c.Broker.Start()
	c.Scheduler.Start()
	c.Logger.Info("bridge core started")
}

// Stop tears the background loops down in reverse order.
func (c *Core) Stop() {
	c.Scheduler.Stop()
	c.Broker.Stop()
	c.Queues.Stop()
	if c.cancel != nil {
		c.cancel()
	}
	c.Logger.Info("bridge core stopped")
}

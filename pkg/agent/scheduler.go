package agent

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theredstring/redstring-bridge/pkg/config"
)

// tickDuration tracks how long one full pipeline pass takes.
var tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "bridge_scheduler_tick_duration_seconds",
	Help:    "Duration of pipeline scheduler ticks",
	Buckets: prometheus.DefBuckets,
})

// SchedulerStatus is the ops-facing view of the scheduler.
type SchedulerStatus struct {
	Enabled    bool           `json:"enabled"`
	CadenceMS  int64          `json:"cadenceMs"`
	MaxPerTick map[string]int `json:"maxPerTick"`
	LastTickAt time.Time      `json:"lastTickAt,omitzero"`
}

// Scheduler drives the pipeline stages on a fixed cadence. Overlapping
// ticks coalesce: a tick that arrives while one is still running is
// skipped, not queued.
type Scheduler struct {
	cfg       config.SchedulerConfig
	executor  *Executor
	auditor   *Auditor
	committer *Committer
	logger    *slog.Logger

	ticking  atomic.Bool
	enabled  atomic.Bool
	lastTick atomic.Int64 // unix nanos

	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewScheduler wires the stage drivers.
func NewScheduler(cfg config.SchedulerConfig, executor *Executor, auditor *Auditor, committer *Committer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		executor:  executor,
		auditor:   auditor,
		committer: committer,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the cadence loop.
func (s *Scheduler) Start() {
	s.enabled.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Cadence)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
	s.logger.Info("scheduler started",
		slog.Duration("cadence", s.cfg.Cadence),
		slog.Int("executorMaxPerTick", s.cfg.ExecutorMaxPerTick),
		slog.Int("auditorMaxPerTick", s.cfg.AuditorMaxPerTick))
}

// Stop halts the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
	s.enabled.Store(false)
	s.wg.Wait()
}

// Pause suspends stage processing without tearing down the cadence loop.
func (s *Scheduler) Pause() {
	s.enabled.Store(false)
	s.logger.Info("scheduler paused")
}

// Resume re-enables stage processing after a Pause.
func (s *Scheduler) Resume() {
	s.enabled.Store(true)
	s.logger.Info("scheduler resumed")
}

// Tick runs one scheduling pass. Safe to call directly (tests, manual
// drain); concurrent calls coalesce to one. Paused schedulers skip the
// pass entirely.
func (s *Scheduler) Tick() {
	if !s.enabled.Load() {
		return
	}
	if !s.ticking.CompareAndSwap(false, true) {
		return
	}
	defer s.ticking.Store(false)
	started := time.Now()
	s.lastTick.Store(started.UnixNano())
	defer func() { tickDuration.Observe(time.Since(started).Seconds()) }()

	s.executor.ProcessGoals(s.cfg.ExecutorMaxPerTick)
	s.executor.ProcessTasks(s.cfg.ExecutorMaxPerTick)
	s.auditor.ProcessPatches(s.cfg.AuditorMaxPerTick)
	s.committer.ProcessReviews(s.cfg.AuditorMaxPerTick)
}

// Drain ticks until a pass moves nothing, bounded by maxPasses. Used by
// tests and the synchronous seed helpers.
func (s *Scheduler) Drain(maxPasses int) {
	for i := 0; i < maxPasses; i++ {
		moved := s.executor.ProcessGoals(s.cfg.ExecutorMaxPerTick) +
			s.executor.ProcessTasks(s.cfg.ExecutorMaxPerTick) +
			s.auditor.ProcessPatches(s.cfg.AuditorMaxPerTick) +
			s.committer.ProcessReviews(s.cfg.AuditorMaxPerTick)
		if moved == 0 {
			return
		}
	}
}

// Status reports the scheduler's configuration and liveness.
func (s *Scheduler) Status() SchedulerStatus {
	st := SchedulerStatus{
		Enabled:   s.enabled.Load(),
		CadenceMS: s.cfg.Cadence.Milliseconds(),
		MaxPerTick: map[string]int{
			"planner":  s.cfg.PlannerMaxPerTick,
			"executor": s.cfg.ExecutorMaxPerTick,
			"auditor":  s.cfg.AuditorMaxPerTick,
		},
	}
	if ns := s.lastTick.Load(); ns > 0 {
		st.LastTickAt = time.Unix(0, ns)
	}
	return st
}

// Package trace records per-conversation execution traces across the four
// pipeline stages. Traces are in-memory and capped; the oldest trace is
// evicted past the cap.
package trace

import (
	"sync"
	"time"
)

// Stage names recorded by the pipeline.
const (
	StagePlanner   = "planner"
	StageExecutor  = "executor"
	StageAuditor   = "auditor"
	StageCommitter = "committer"
)

// Stage outcome statuses.
const (
	StatusStart   = "start"
	StatusSuccess = "success"
	StatusError   = "error"
)

// DefaultCap is the maximum number of retained traces.
const DefaultCap = 200

// StageRecord is one stage entry within a trace. A stage may be recorded
// multiple times for the same cid (continuation phases); each recording
// appends a new entry.
type StageRecord struct {
	Stage     string         `json:"stage"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt,omitzero"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
}

// Trace correlates all stage work done for one conversation id.
type Trace struct {
	CID       string         `json:"cid"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	Stages    []StageRecord  `json:"stages"`
}

// Summary is the compact trace listing returned by the debug endpoints.
type Summary struct {
	CID       string    `json:"cid"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"startedAt"`
	Stages    int       `json:"stages"`
	LastStage string    `json:"lastStage,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Stats summarizes the tracer's contents.
type Stats struct {
	Traces      int            `json:"traces"`
	StageCounts map[string]int `json:"stageCounts"`
	ErrorCount  int            `json:"errorCount"`
}

// Tracer stores traces keyed by cid with insertion-order eviction.
type Tracer struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string
	cap    int
}

// NewTracer creates a Tracer retaining up to capacity traces.
func NewTracer(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Tracer{
		traces: make(map[string]*Trace),
		cap:    capacity,
	}
}

// StartTrace opens a trace for the cid. Re-starting an existing cid keeps
// the original trace (continuation calls share the conversation).
func (t *Tracer) StartTrace(cid, message string, context map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.traces[cid]; ok {
		return
	}
	t.traces[cid] = &Trace{
		CID:       cid,
		Message:   message,
		Context:   context,
		StartedAt: time.Now(),
	}
	t.order = append(t.order, cid)
	for len(t.order) > t.cap {
		evict := t.order[0]
		t.order = t.order[1:]
		delete(t.traces, evict)
	}
}

// RecordStage opens a stage entry with status=start.
func (t *Tracer) RecordStage(cid, stage string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.traces[cid]
	if !ok {
		return
	}
	tr.Stages = append(tr.Stages, StageRecord{
		Stage:     stage,
		StartedAt: time.Now(),
		Status:    StatusStart,
		Data:      data,
	})
}

// CompleteStage closes the most recent open entry for the stage with
// success or error. Without a matching open entry, a standalone closed
// entry is appended so the outcome is never lost.
func (t *Tracer) CompleteStage(cid, stage, status string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.traces[cid]
	if !ok {
		return
	}
	now := time.Now()
	for i := len(tr.Stages) - 1; i >= 0; i-- {
		rec := &tr.Stages[i]
		if rec.Stage == stage && rec.Status == StatusStart {
			rec.Status = status
			rec.EndedAt = now
			if len(data) > 0 {
				if rec.Data == nil {
					rec.Data = make(map[string]any, len(data))
				}
				for k, v := range data {
					rec.Data[k] = v
				}
			}
			return
		}
	}
	tr.Stages = append(tr.Stages, StageRecord{
		Stage:     stage,
		StartedAt: now,
		EndedAt:   now,
		Status:    status,
		Data:      data,
	})
}

// GetTrace returns a copy of the trace for cid.
func (t *Tracer) GetTrace(cid string) (Trace, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.traces[cid]
	if !ok {
		return Trace{}, false
	}
	return copyTrace(tr), true
}

// GetStage returns the entries recorded for one stage of a trace.
func (t *Tracer) GetStage(cid, stage string) ([]StageRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.traces[cid]
	if !ok {
		return nil, false
	}
	var out []StageRecord
	for _, rec := range tr.Stages {
		if rec.Stage == stage {
			out = append(out, rec)
		}
	}
	return out, true
}

// GetRecentTraces returns summaries of the most recent traces, newest first.
func (t *Tracer) GetRecentTraces(limit int) []Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.order) {
		limit = len(t.order)
	}
	out := make([]Summary, 0, limit)
	for i := len(t.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.summaryLocked(t.order[i]))
	}
	return out
}

// GetTraceSummary returns the summary for one cid.
func (t *Tracer) GetTraceSummary(cid string) (Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.traces[cid]; !ok {
		return Summary{}, false
	}
	return t.summaryLocked(cid), true
}

// GetStats aggregates counts across retained traces.
func (t *Tracer) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		Traces:      len(t.traces),
		StageCounts: make(map[string]int),
	}
	for _, tr := range t.traces {
		for _, rec := range tr.Stages {
			stats.StageCounts[rec.Stage]++
			if rec.Status == StatusError {
				stats.ErrorCount++
			}
		}
	}
	return stats
}

func (t *Tracer) summaryLocked(cid string) Summary {
	tr := t.traces[cid]
	s := Summary{
		CID:       tr.CID,
		Message:   tr.Message,
		StartedAt: tr.StartedAt,
		Stages:    len(tr.Stages),
	}
	if n := len(tr.Stages); n > 0 {
		s.LastStage = tr.Stages[n-1].Stage
		s.Status = tr.Stages[n-1].Status
	}
	return s
}

func copyTrace(tr *Trace) Trace {
	out := *tr
	out.Stages = make([]StageRecord, len(tr.Stages))
	copy(out.Stages, tr.Stages)
	return out
}

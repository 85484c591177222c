package agent

import (
	"container/list"
	"sync"
)

// defaultLedgerCap bounds the committed-patch memory.
const defaultLedgerCap = 1000

// CommitLedger remembers committed patch ids in a bounded LRU. The auditor
// consults it for idempotency; the committer records into it. Sharing one
// ledger keeps re-submitted patches out of the pipeline at the earliest
// stage.
type CommitLedger struct {
	mu  sync.Mutex
	ids map[string]*list.Element
	lru *list.List
	cap int

	// lastGoal maps graph id to the goal whose patch last advanced the
	// graph's head. The auditor uses it to tell sibling-patch progress
	// apart from a genuine base conflict.
	lastGoal map[string]string
}

// NewCommitLedger creates a ledger retaining up to capacity patch ids.
func NewCommitLedger(capacity int) *CommitLedger {
	if capacity <= 0 {
		capacity = defaultLedgerCap
	}
	return &CommitLedger{
		ids:      make(map[string]*list.Element),
		lru:      list.New(),
		cap:      capacity,
		lastGoal: make(map[string]string),
	}
}

// Committed reports whether the patch id was already committed.
func (l *CommitLedger) Committed(patchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.ids[patchID]
	if ok {
		l.lru.MoveToFront(el)
	}
	return ok
}

// Record marks the patch id committed, evicting the least recently seen
// id past capacity. Returns false if the id was already present.
func (l *CommitLedger) Record(patchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.ids[patchID]; ok {
		l.lru.MoveToFront(el)
		return false
	}
	l.ids[patchID] = l.lru.PushFront(patchID)
	for l.lru.Len() > l.cap {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.ids, oldest.Value.(string))
	}
	return true
}

// RecordGoal notes which goal's patch last advanced the graph's head. An
// empty goal id clears the entry: a goal-less commit means any pending
// sibling's base really is stale.
func (l *CommitLedger) RecordGoal(graphID, goalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if goalID == "" {
		delete(l.lastGoal, graphID)
		return
	}
	l.lastGoal[graphID] = goalID
}

// LastGoal returns the goal of the patch that last advanced the graph's
// head, or "" when unknown.
func (l *CommitLedger) LastGoal(graphID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastGoal[graphID]
}

// Len returns the number of remembered patch ids.
func (l *CommitLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns a fixed set of named queues. All operations are safe for
// concurrent use; each queue serializes on its own mutex.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*queue

	leaseTTL    time.Duration
	maxAttempts int

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// queue holds one named queue. items contains queued and leased entries in
// insertion order; done/failed items are removed and only counted.
type queue struct {
	mu      sync.Mutex
	name    string
	items   []*Item
	leases  map[string]*Item
	done    int64
	failed  int64
	total   int64
	rrIndex int
}

// NewManager creates a Manager with the standard pipeline queues.
func NewManager(leaseTTL time.Duration, maxAttempts int, sweepInterval time.Duration) *Manager {
	m := &Manager{
		queues:        make(map[string]*queue),
		leaseTTL:      leaseTTL,
		maxAttempts:   maxAttempts,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	for _, name := range []string{GoalQueue, TaskQueue, PatchQueue, ReviewQueue} {
		m.queues[name] = &queue{name: name, leases: make(map[string]*Item)}
	}
	return m
}

// Start launches the background lease sweep. Stop must be called on shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runSweep(ctx)
}

// Stop halts the lease sweep and waits for it to exit. Safe to call twice.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Enqueue appends a payload to the named queue and returns the item id.
func (m *Manager) Enqueue(name, itemType string, payload any, partitionKey string) (string, error) {
	q, err := m.queue(name)
	if err != nil {
		return "", err
	}

	item := &Item{
		ID:           uuid.New().String(),
		Type:         itemType,
		Payload:      payload,
		PartitionKey: partitionKey,
		Status:       StatusQueued,
		EnqueuedAt:   time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.total++
	q.mu.Unlock()

	observeEnqueue(name)
	m.observeDepth(q)
	return item.ID, nil
}

// Pull leases up to opts.Max queued items. Leased items are invisible to
// other pullers until acked, nacked, or reclaimed by the sweep. When no
// partition key is given, partitions are served round-robin so no
// conversation is starved.
func (m *Manager) Pull(name string, opts PullOptions) ([]*Item, error) {
	q, err := m.queue(name)
	if err != nil {
		return nil, err
	}
	max := opts.Max
	if max <= 0 {
		max = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	eligible := func(it *Item) bool {
		if it.Status != StatusQueued {
			return false
		}
		if opts.PartitionKey != "" && it.PartitionKey != opts.PartitionKey {
			return false
		}
		if opts.Filter != nil && !opts.Filter(it) {
			return false
		}
		return true
	}

	var picked []*Item
	if opts.PartitionKey != "" {
		for _, it := range q.items {
			if len(picked) >= max {
				break
			}
			if eligible(it) {
				picked = append(picked, it)
			}
		}
	} else {
		picked = q.pickFair(eligible, max)
	}

	now := time.Now()
	out := make([]*Item, 0, len(picked))
	for _, it := range picked {
		it.Status = StatusLeased
		it.LeaseID = uuid.New().String()
		it.LeasedUntil = now.Add(m.leaseTTL)
		q.leases[it.LeaseID] = it
		copied := *it
		out = append(out, &copied)
	}

	m.observeDepthLocked(q)
	return out, nil
}

// pickFair selects up to max eligible items round-robin over partitions,
// preserving insertion order within each partition. Caller holds q.mu.
func (q *queue) pickFair(eligible func(*Item) bool, max int) []*Item {
	byPartition := make(map[string][]*Item)
	var order []string
	for _, it := range q.items {
		if !eligible(it) {
			continue
		}
		if _, seen := byPartition[it.PartitionKey]; !seen {
			order = append(order, it.PartitionKey)
		}
		byPartition[it.PartitionKey] = append(byPartition[it.PartitionKey], it)
	}
	if len(order) == 0 {
		return nil
	}

	// Rotate the starting partition so repeated single-item pulls do not
	// pin the first partition.
	start := q.rrIndex % len(order)
	q.rrIndex++

	var picked []*Item
	for i := 0; len(picked) < max; i++ {
		advanced := false
		for j := range order {
			p := order[(start+j)%len(order)]
			if i < len(byPartition[p]) {
				picked = append(picked, byPartition[p][i])
				advanced = true
				if len(picked) >= max {
					break
				}
			}
		}
		if !advanced {
			break
		}
	}
	return picked
}

// Ack marks the leased item done and removes it from the queue.
func (m *Manager) Ack(name, leaseID string) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.leases[leaseID]
	if !ok {
		return ErrLeaseNotFound
	}
	delete(q.leases, leaseID)
	q.remove(it)
	it.Status = StatusDone
	q.done++

	observeDone(name)
	m.observeDepthLocked(q)
	return nil
}

// Nack returns the item to the queue (retriable) or marks it failed
// (retry budget exhausted or non-retriable reason).
func (m *Manager) Nack(name, leaseID, reason string) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.leases[leaseID]
	if !ok {
		return ErrLeaseNotFound
	}
	delete(q.leases, leaseID)
	it.LeaseID = ""
	it.LeasedUntil = time.Time{}
	it.Attempts++

	if NonRetriable(reason) || it.Attempts >= m.maxAttempts {
		q.remove(it)
		it.Status = StatusFailed
		q.failed++
		observeFailed(name)
		slog.Warn("Queue item failed",
			"queue", name, "item_id", it.ID, "reason", reason, "attempts", it.Attempts)
	} else {
		// Item keeps its slice position, preserving partition order.
		it.Status = StatusQueued
	}

	m.observeDepthLocked(q)
	return nil
}

// Metrics returns a snapshot of the named queue's counters.
func (m *Manager) Metrics(name string) (Metrics, error) {
	q, err := m.queue(name)
	if err != nil {
		return Metrics{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var queued, leased int
	for _, it := range q.items {
		switch it.Status {
		case StatusQueued:
			queued++
		case StatusLeased:
			leased++
		}
	}
	return Metrics{
		Depth:         queued + leased,
		Queued:        queued,
		Leased:        leased,
		Done:          q.done,
		Failed:        q.failed,
		TotalEnqueued: q.total,
	}, nil
}

// Peek returns copies of the first head items for debugging. Never exposes
// internal pointers.
func (m *Manager) Peek(name string, head int) ([]Item, error) {
	q, err := m.queue(name)
	if err != nil {
		return nil, err
	}
	if head <= 0 {
		head = 10
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(head, len(q.items))
	out := make([]Item, 0, n)
	for _, it := range q.items[:n] {
		out = append(out, *it)
	}
	return out, nil
}

// Names returns the configured queue names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

// runSweep periodically reclaims expired leases back to queued. Items keep
// their original slice position, so partition order survives reclaim.
func (m *Manager) runSweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reclaimExpired(time.Now())
		}
	}
}

// reclaimExpired is also called directly from tests to avoid timing sleeps.
func (m *Manager) reclaimExpired(now time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, q := range m.queues {
		q.mu.Lock()
		for leaseID, it := range q.leases {
			if it.LeasedUntil.After(now) {
				continue
			}
			delete(q.leases, leaseID)
			it.Status = StatusQueued
			it.LeaseID = ""
			it.LeasedUntil = time.Time{}
			slog.Debug("Lease expired, item reclaimed", "queue", name, "item_id", it.ID)
		}
		m.observeDepthLocked(q)
		q.mu.Unlock()
	}
}

func (m *Manager) queue(name string) (*queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, ErrUnknownQueue
	}
	return q, nil
}

// remove deletes the item from the slice, preserving order of the rest.
// Caller holds q.mu.
func (q *queue) remove(target *Item) {
	for i, it := range q.items {
		if it == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (m *Manager) observeDepth(q *queue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m.observeDepthLocked(q)
}

// observeDepthLocked pushes depth gauges. Caller holds q.mu.
func (m *Manager) observeDepthLocked(q *queue) {
	var queued, leased int
	for _, it := range q.items {
		switch it.Status {
		case StatusQueued:
			queued++
		case StatusLeased:
			leased++
		}
	}
	observeDepthGauges(q.name, queued, leased)
}

// Package queue provides the partitioned, lease-based in-memory queues that
// carry goals, tasks, patches, and reviews between pipeline stages.
package queue

import (
	"errors"
	"time"
)

// Standard queue names used by the pipeline.
const (
	GoalQueue   = "goalQueue"
	TaskQueue   = "taskQueue"
	PatchQueue  = "patchQueue"
	ReviewQueue = "reviewQueue"
)

// Sentinel errors for queue operations.
var (
	// ErrUnknownQueue indicates the named queue does not exist.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrLeaseNotFound indicates the lease id does not match any leased item
	// (already acked, reclaimed by the sweep, or never issued).
	ErrLeaseNotFound = errors.New("lease not found")
)

// Status is the lifecycle state of a queue item.
type Status string

// Item lifecycle states. Items move queued → leased → done|failed, with
// leased → queued on lease expiry or retriable nack.
const (
	StatusQueued Status = "queued"
	StatusLeased Status = "leased"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Item is one queue entry. Payload is opaque to the queue; PartitionKey
// (the conversation id) scopes the FIFO fairness guarantee.
type Item struct {
	ID           string    `json:"id"`
	Type         string    `json:"type,omitempty"`
	Payload      any       `json:"payload"`
	PartitionKey string    `json:"partitionKey,omitempty"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	LeaseID      string    `json:"leaseId,omitempty"`
	LeasedUntil  time.Time `json:"leasedUntil,omitzero"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Metrics is a point-in-time snapshot of one queue's counters.
// Depth = queued + leased (items still owed to a consumer).
type Metrics struct {
	Depth         int   `json:"depth"`
	Queued        int   `json:"queued"`
	Leased        int   `json:"leased"`
	Done          int64 `json:"done"`
	Failed        int64 `json:"failed"`
	TotalEnqueued int64 `json:"totalEnqueued"`
}

// PullOptions control a Pull call.
type PullOptions struct {
	// PartitionKey restricts the pull to one partition. When empty, the pull
	// round-robins fairly across partitions.
	PartitionKey string

	// Max is the maximum number of items to lease. Zero means one.
	Max int

	// Filter, when set, further restricts which queued items are eligible.
	Filter func(*Item) bool
}

// Non-retriable nack reasons: these mark the item failed immediately
// instead of consuming a retry attempt.
var nonRetriableReasons = map[string]bool{
	"stale_base":        true,
	"validation_failed": true,
	"unknown_op":        true,
	"rejected":          true,
}

// NonRetriable reports whether a nack reason skips the retry budget.
func NonRetriable(reason string) bool {
	return nonRetriableReasons[reason]
}

package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status int

const (
	StatusQueued    Status = iota // Waiting for a free worker slot
	StatusRunning                 // Currently executing
	StatusPaused                  // Suspended at an executor checkpoint
	StatusCompleted               // Finished successfully
	StatusFailed                  // Finished with error (retries exhausted or non-retryable)
	StatusCancelled               // Cancelled or timed out
)

// String returns the lowercase name used in logs and persistence.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders tasks for dispatch. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name used in logs and persistence.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// DefaultMaxRetries is applied when a submission leaves MaxRetries unset.
const DefaultMaxRetries = 3

// Task represents a unit of background work owned by the queue.
type Task struct {
	ID       string            // Unique identifier, assigned at creation
	Type     string            // Key into the executor registry
	Title    string            // Human-readable name
	Metadata map[string]string // Opaque key/value bag supplied by the caller

	Priority Priority
	Status   Status
	Progress int // 0-100, non-decreasing while running

	RetryCount int
	MaxRetries int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NotBefore   time.Time // Earliest dispatch time (retry backoff gate)

	Timeout time.Duration // Optional wall-clock limit; 0 means none

	Result     string // Opaque success payload, set only when completed
	Err        *Error // Structured failure, set only when failed
	Checkpoint string // Executor resume token, set while paused
}

// New creates a queued task with a fresh ID.
func New(taskType, title string, priority Priority, metadata map[string]string) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Title:      title,
		Metadata:   metadata,
		Priority:   priority,
		Status:     StatusQueued,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy so callers never share queue-owned memory.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	if t.Err != nil {
		errCopy := *t.Err
		cp.Err = &errCopy
	}
	return &cp
}

package events

import (
	"time"

	"github.com/crucible-editor/taskcore/internal/task"
)

// Event is the base interface for all published events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants.
const (
	TopicTask        = "task"
	TopicTransaction = "transaction"
)

// Event type constants.
const (
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskProgress  = "task.progress"
	EventTypeTaskPaused    = "task.paused"
	EventTypeTaskResumed   = "task.resumed"
	EventTypeTaskRetrying  = "task.retrying"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeTxnPlanned    = "transaction.planned"
	EventTypeTxnCommitted  = "transaction.committed"
	EventTypeTxnRolledBack = "transaction.rolled_back"
)

// TaskQueuedEvent is published when a task enters the queue.
type TaskQueuedEvent struct {
	ID        string
	Type      string
	Priority  task.Priority
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a worker picks up a task.
type TaskStartedEvent struct {
	ID        string
	Type      string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskProgressEvent is published on each accepted progress tick.
type TaskProgressEvent struct {
	ID        string
	Percent   int
	Timestamp time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) TaskID() string    { return e.ID }

// TaskPausedEvent is published when a task parks at a checkpoint.
type TaskPausedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskPausedEvent) EventType() string { return EventTypeTaskPaused }
func (e TaskPausedEvent) TaskID() string    { return e.ID }

// TaskResumedEvent is published when a paused task re-enters the queue.
type TaskResumedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskResumedEvent) EventType() string { return EventTypeTaskResumed }
func (e TaskResumedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published when a failed attempt is re-queued.
type TaskRetryingEvent struct {
	ID        string
	Attempt   int
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails terminally.
type TaskFailedEvent struct {
	ID        string
	Err       *task.Error
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled or times out.
type TaskCancelledEvent struct {
	ID        string
	Forced    bool // true when the worker missed the cooperative grace window
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// TxnPlannedEvent is published when a transaction plan passes validation.
type TxnPlannedEvent struct {
	TransactionID string
	Changes       int
	Impact        string // Risk grade from pre-flight impact analysis
	Timestamp     time.Time
}

func (e TxnPlannedEvent) EventType() string { return EventTypeTxnPlanned }
func (e TxnPlannedEvent) TaskID() string    { return "" }

// TxnCommittedEvent is published when a multi-file transaction commits.
type TxnCommittedEvent struct {
	TransactionID string
	AppliedPaths  []string
	Timestamp     time.Time
}

func (e TxnCommittedEvent) EventType() string { return EventTypeTxnCommitted }
func (e TxnCommittedEvent) TaskID() string    { return "" }

// TxnRolledBackEvent is published when a transaction rolls back.
type TxnRolledBackEvent struct {
	TransactionID string
	Err           error
	Fatal         bool // true when rollback itself failed
	Timestamp     time.Time
}

func (e TxnRolledBackEvent) EventType() string { return EventTypeTxnRolledBack }
func (e TxnRolledBackEvent) TaskID() string    { return "" }

package task

import (
	"errors"
	"fmt"
)

// Kind classifies a task failure. The kind decides whether the core retries
// (executor errors), rejects synchronously (validation), or terminates
// without retry (timeout/cancellation, missing executor).
type Kind int

const (
	KindValidation Kind = iota // Bad input, rejected before a task is created
	KindNoExecutor             // Dispatch against an unregistered type
	KindExecutor               // Raised by the unit of work; retryable
	KindTimeout                // Wall-clock limit expired
	KindCancelled              // Cancelled by caller or forced teardown
	KindInterrupted            // Was running when the process restarted
)

// String returns the lowercase name used in logs and persistence.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNoExecutor:
		return "no_executor"
	case KindExecutor:
		return "executor"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Error is the structured failure attached to a failed task. It carries
// enough context (task id, attempt number, underlying cause) for the caller
// to decide next steps.
type Error struct {
	Kind    Kind
	TaskID  string
	Attempt int // 1-based attempt number that produced the failure
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("task %s (%s, attempt %d): %s: %v", e.TaskID, e.Kind, e.Attempt, e.Message, e.Cause)
	}
	return fmt.Sprintf("task %s (%s, attempt %d): %s", e.TaskID, e.Kind, e.Attempt, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the failure should consume a retry attempt.
// Configuration errors (missing executor) and cancellations never retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindExecutor
}

// Control-flow sentinels shared across packages.
var (
	// ErrNotFound is returned for lookups of unknown task IDs.
	ErrNotFound = errors.New("task not found")

	// ErrUnsupportedOperation is returned when pause is requested for a
	// task whose executor does not declare checkpoint support, or when a
	// transition is requested from an incompatible status.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrPaused is returned by checkpointable executors to signal they
	// stopped at a safe point and handed back a resume token.
	ErrPaused = errors.New("execution paused at checkpoint")
)

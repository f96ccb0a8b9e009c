// Package executor defines the pluggable unit-of-work contract and the
// registry mapping task types to implementations. Executors are supplied by
// external collaborators (run static analysis, apply a multi-file edit, run
// a build); the core only dispatches them.
package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/crucible-editor/taskcore/internal/task"
)

// ErrNoExecutor is returned when a task type has no registered executor.
var ErrNoExecutor = errors.New("no executor registered for task type")

// ProgressFunc reports completion percentage (0-100). Implementations must
// tolerate calls from the executor's goroutine at any time while running.
type ProgressFunc func(percent int)

// Input carries everything an executor needs for one attempt.
type Input struct {
	Task       *task.Task // Snapshot; mutations are not observed by the queue
	Checkpoint string     // Resume token from a previous pause, empty on a fresh run
	Progress   ProgressFunc
}

// Executor performs the actual work for a task type. Execute must honor ctx
// cancellation at safe points; the returned string is the opaque success
// payload stored on the task.
type Executor interface {
	Execute(ctx context.Context, in Input) (string, error)
}

// Checkpointable is an optional capability for executors that can stop at a
// safe point and hand back a resume token. On pause the executor returns
// task.ErrPaused from Execute together with the token via CheckpointToken.
// Tasks bound to executors without this capability reject pause outright.
type Checkpointable interface {
	Executor

	// SupportsCheckpoint reports whether pause/resume is currently safe.
	SupportsCheckpoint() bool

	// CheckpointToken returns the resume token captured by the most recent
	// paused Execute call.
	CheckpointToken() string
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, in Input) (string, error)

func (f Func) Execute(ctx context.Context, in Input) (string, error) { return f(ctx, in) }

// Registry maps task types to executors. Registration is expected at startup
// but is safe at any time.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register maps a task type to an executor, replacing any previous mapping.
func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = e
}

// Resolve returns the executor for the given task type.
func (r *Registry) Resolve(taskType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[taskType]
	if !ok {
		return nil, ErrNoExecutor
	}
	return e, nil
}

// Has reports whether a task type is registered. Used to reject submissions
// of unknown types synchronously.
func (r *Registry) Has(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[taskType]
	return ok
}

// CanCheckpoint reports whether the executor bound to the task type declares
// checkpoint support right now.
func (r *Registry) CanCheckpoint(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[taskType]
	if !ok {
		return false
	}
	c, ok := e.(Checkpointable)
	return ok && c.SupportsCheckpoint()
}

// Types returns the registered task types in no particular order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

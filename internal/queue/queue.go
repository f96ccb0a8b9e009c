// Package queue owns the mutable task collection: pending and running tasks,
// the bounded terminal history, and every status transition. All mutation
// funnels through one mutex, so a fault in any worker can never interleave
// with another task's bookkeeping.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crucible-editor/taskcore/internal/task"
)

// Stats summarizes the queue by status. Completed/Failed/Cancelled count
// live terminal transitions retained in history.
type Stats struct {
	Queued    int
	Running   int
	Paused    int
	Completed int
	Failed    int
	Cancelled int
}

// Queue is the serialized owner of all task state.
type Queue struct {
	mu      sync.Mutex
	live    map[string]*task.Task // queued, running, paused
	seq     map[string]uint64     // submission order, FIFO tie-break
	nextSeq uint64
	history *History
	retry   RetryPolicy
	logger  *slog.Logger
}

// New creates an empty queue.
func New(historyCapacity int, retry RetryPolicy, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		live:    make(map[string]*task.Task),
		seq:     make(map[string]uint64),
		history: NewHistory(historyCapacity),
		retry:   retry,
		logger:  logger,
	}
}

// Add inserts a queued task. Returns an error if the ID already exists.
func (q *Queue) Add(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.live[t.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", t.ID)
	}

	q.live[t.ID] = t.Clone()
	q.seq[t.ID] = q.nextSeq
	q.nextSeq++
	return nil
}

// ClaimNext selects the next dispatchable task and atomically transitions it
// to running. Selection: among queued tasks whose backoff gate has passed,
// highest priority wins; ties break on earliest CreatedAt, then submission
// order. Returns nil when nothing is eligible.
func (q *Queue) ClaimNext(now time.Time) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *task.Task
	var bestSeq uint64
	for _, t := range q.live {
		if t.Status != task.StatusQueued || t.NotBefore.After(now) {
			continue
		}
		if best == nil || betterCandidate(t, q.seq[t.ID], best, bestSeq) {
			best = t
			bestSeq = q.seq[t.ID]
		}
	}
	if best == nil {
		return nil
	}

	started := now.UTC()
	best.Status = task.StatusRunning
	best.StartedAt = &started
	return best.Clone()
}

// betterCandidate reports whether a should dispatch before b.
func betterCandidate(a *task.Task, aSeq uint64, b *task.Task, bSeq uint64) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return aSeq < bSeq
}

// UpdateProgress records executor progress for a running task. Progress is
// monotonically non-decreasing; stale or out-of-range reports are ignored.
// Returns the clamped value actually stored, or -1 if nothing changed.
func (q *Queue) UpdateProgress(id string, percent int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok || t.Status != task.StatusRunning {
		return -1
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= t.Progress {
		return -1
	}
	t.Progress = percent
	return percent
}

// Complete transitions a running task to completed and moves it to history.
func (q *Queue) Complete(id string, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("%w: complete from %s", task.ErrUnsupportedOperation, t.Status)
	}

	completed := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.Result = result
	t.Err = nil
	t.Progress = 100
	t.CompletedAt = &completed
	q.retire(t)
	return nil
}

// Fail records a failure for a running task. Retryable failures below the
// retry budget re-queue the task behind an exponential backoff gate and
// return true; everything else is terminal and moves to history.
func (q *Queue) Fail(id string, terr *task.Error) (retried bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return false, task.ErrNotFound
	}
	if t.Status != task.StatusRunning {
		return false, fmt.Errorf("%w: fail from %s", task.ErrUnsupportedOperation, t.Status)
	}

	if terr.Retryable() && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = task.StatusQueued
		t.Progress = 0 // Explicit retry resets progress
		t.StartedAt = nil
		t.NotBefore = time.Now().Add(q.retry.Delay(t.RetryCount))
		q.logger.Info("task re-queued after failure",
			"task", id, "attempt", t.RetryCount, "not_before", t.NotBefore)
		return true, nil
	}

	completed := time.Now().UTC()
	t.Status = task.StatusFailed
	t.Err = terr
	t.Result = ""
	t.CompletedAt = &completed
	q.retire(t)
	return false, nil
}

// MarkPaused transitions a running task to paused, storing the executor's
// resume token. Only the scheduler calls this, after the executor reported a
// checkpoint.
func (q *Queue) MarkPaused(id string, checkpoint string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("%w: pause from %s", task.ErrUnsupportedOperation, t.Status)
	}

	t.Status = task.StatusPaused
	t.Checkpoint = checkpoint
	t.StartedAt = nil
	return nil
}

// Resume re-queues a paused task. The task keeps its original priority and
// CreatedAt; it is not re-prioritized above where it started.
func (q *Queue) Resume(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusPaused {
		return fmt.Errorf("%w: resume from %s", task.ErrUnsupportedOperation, t.Status)
	}

	t.Status = task.StatusQueued
	t.NotBefore = time.Time{}
	return nil
}

// CancelIdle cancels a queued or paused task immediately. Running tasks must
// go through the scheduler's cooperative cancellation instead; attempting to
// cancel one here reports ErrUnsupportedOperation.
func (q *Queue) CancelIdle(id string, terr *task.Error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusQueued && t.Status != task.StatusPaused {
		return fmt.Errorf("%w: cancel-idle from %s", task.ErrUnsupportedOperation, t.Status)
	}

	completed := time.Now().UTC()
	t.Status = task.StatusCancelled
	t.Err = terr
	t.CompletedAt = &completed
	q.retire(t)
	return nil
}

// MarkCancelled transitions a running task to cancelled (voluntary
// termination or forced teardown). Never retried.
func (q *Queue) MarkCancelled(id string, terr *task.Error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.live[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("%w: cancel from %s", task.ErrUnsupportedOperation, t.Status)
	}

	completed := time.Now().UTC()
	t.Status = task.StatusCancelled
	t.Err = terr
	t.CompletedAt = &completed
	q.retire(t)
	return nil
}

// retire moves a terminal task from the live set into history.
// Caller must hold q.mu.
func (q *Queue) retire(t *task.Task) {
	delete(q.live, t.ID)
	delete(q.seq, t.ID)
	q.history.Add(t)
}

// Get returns a task by ID, checking live tasks then history.
func (q *Queue) Get(id string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.live[id]; ok {
		return t.Clone(), true
	}
	if t := q.history.Get(id); t != nil {
		return t.Clone(), true
	}
	return nil, false
}

// Status returns the current status of a live task.
func (q *Queue) Status(id string) (task.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.live[id]; ok {
		return t.Status, true
	}
	if t := q.history.Get(id); t != nil {
		return t.Status, true
	}
	return 0, false
}

// List returns clones of all live tasks matching the filter. A nil filter
// matches everything.
func (q *Queue) List(filter func(*task.Task) bool) []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task.Task
	for _, t := range q.live {
		if filter == nil || filter(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// History returns up to limit terminal tasks, newest first.
func (q *Queue) History(limit int) []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Recent(limit)
}

// Stats returns counts by status across live tasks and history.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, t := range q.live {
		switch t.Status {
		case task.StatusQueued:
			s.Queued++
		case task.StatusRunning:
			s.Running++
		case task.StatusPaused:
			s.Paused++
		}
	}
	for _, t := range q.history.All() {
		switch t.Status {
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed:
			s.Failed++
		case task.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Snapshot returns the persistable state: every live task plus the bounded
// history, oldest first. Running tasks are recorded as running; Restore is
// what demotes them, so a crash-time snapshot faithfully reports which tasks
// were in flight.
func (q *Queue) Snapshot() (pending []*task.Task, history []*task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.live {
		pending = append(pending, t.Clone())
	}
	return pending, q.history.All()
}

// Restore rehydrates the queue from a persisted snapshot. Any task recorded
// as running is demoted to failed with an interrupted error: its execution
// context died with the previous process and silently re-running it could
// duplicate side effects.
func (q *Queue) Restore(pending []*task.Task, history []*task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range history {
		q.history.Add(t.Clone())
	}
	for _, t := range pending {
		cp := t.Clone()
		if cp.Status == task.StatusRunning {
			completed := time.Now().UTC()
			cp.Status = task.StatusFailed
			cp.Err = &task.Error{
				Kind:    task.KindInterrupted,
				TaskID:  cp.ID,
				Attempt: cp.RetryCount + 1,
				Message: "interrupted by restart",
			}
			cp.CompletedAt = &completed
			q.history.Add(cp)
			continue
		}
		q.live[cp.ID] = cp
		q.seq[cp.ID] = q.nextSeq
		q.nextSeq++
	}
}

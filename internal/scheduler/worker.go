package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/crucible-editor/taskcore/internal/events"
	"github.com/crucible-editor/taskcore/internal/executor"
	"github.com/crucible-editor/taskcore/internal/task"
)

// execResult is what an executor invocation produced.
type execResult struct {
	out string
	err error
}

// runTask executes one claimed task inside its own goroutine: its fault
// boundary. The worker owns the task's context, forwards progress, and
// reports exactly one terminal transition (or pause) back to the queue.
func (s *Scheduler) runTask(ctx context.Context, t *task.Task) {
	defer s.wg.Done()
	defer s.slots.Release(1)

	taskCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h := &workerHandle{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[t.ID] = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
		close(h.done)
	}()

	// Timeout expiry is a cancellation request, never a retry trigger.
	if t.Timeout > 0 {
		timer := time.AfterFunc(t.Timeout, func() { cancel(errTimeoutExpired) })
		defer timer.Stop()
	}

	exec, err := s.registry.Resolve(t.Type)
	if err != nil {
		// Configuration error, not a transient failure: terminal without
		// consuming a retry attempt.
		terr := &task.Error{
			Kind:    task.KindNoExecutor,
			TaskID:  t.ID,
			Attempt: t.RetryCount + 1,
			Message: fmt.Sprintf("task type %q", t.Type),
			Cause:   err,
		}
		if _, ferr := s.queue.Fail(t.ID, terr); ferr != nil {
			s.logger.Error("failed to record missing executor", "task", t.ID, "error", ferr)
			return
		}
		s.bus.Publish(events.TopicTask, events.TaskFailedEvent{ID: t.ID, Err: terr, Timestamp: time.Now()})
		return
	}

	attempt := t.RetryCount + 1
	s.bus.Publish(events.TopicTask, events.TaskStartedEvent{
		ID: t.ID, Type: t.Type, Attempt: attempt, Timestamp: time.Now(),
	})
	s.logger.Info("task started", "task", t.ID, "type", t.Type, "attempt", attempt)

	resultCh := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- execResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()

		in := executor.Input{
			Task:       t,
			Checkpoint: t.Checkpoint,
			Progress: func(percent int) {
				if stored := s.queue.UpdateProgress(t.ID, percent); stored >= 0 {
					s.bus.Publish(events.TopicTask, events.TaskProgressEvent{
						ID: t.ID, Percent: stored, Timestamp: time.Now(),
					})
				}
			},
		}
		out, execErr := s.invoke(taskCtx, exec, in)
		resultCh <- execResult{out: out, err: execErr}
	}()

	var res execResult
	select {
	case res = <-resultCh:
	case <-taskCtx.Done():
		// Cooperative window: the executor gets GraceTimeout to reach a
		// safe point and return. Past that it is abandoned.
		grace := time.NewTimer(s.cfg.GraceTimeout)
		select {
		case res = <-resultCh:
			grace.Stop()
		case <-grace.C:
			s.finishUncooperative(t, context.Cause(taskCtx), attempt)
			return
		}
	}

	s.finish(taskCtx, t, exec, res, attempt)
}

// invoke runs the executor, through the task type's circuit breaker when
// breakers are enabled. An open circuit surfaces as an executor error and
// therefore flows into the ordinary retry policy, which spaces out probes.
func (s *Scheduler) invoke(ctx context.Context, exec executor.Executor, in executor.Input) (string, error) {
	if s.breakers == nil {
		return exec.Execute(ctx, in)
	}

	cb := s.breakers.Get(in.Task.Type)
	result, err := cb.Execute(func() (interface{}, error) {
		return exec.Execute(ctx, in)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("circuit open for task type %q: %w", in.Task.Type, err)
		}
		return "", err
	}
	return result.(string), nil
}

// finish classifies the executor's outcome and records the single resulting
// transition.
func (s *Scheduler) finish(taskCtx context.Context, t *task.Task, exec executor.Executor, res execResult, attempt int) {
	now := time.Now()
	cause := context.Cause(taskCtx)

	switch {
	case res.err == nil:
		// Voluntary completion wins even when a cancel raced in: the work
		// is done and the result is real.
		if err := s.queue.Complete(t.ID, res.out); err != nil {
			s.logger.Error("failed to record completion", "task", t.ID, "error", err)
			return
		}
		var duration time.Duration
		if t.StartedAt != nil {
			duration = now.Sub(*t.StartedAt)
		}
		s.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			ID: t.ID, Result: res.out, Duration: duration, Timestamp: now,
		})
		s.logger.Info("task completed", "task", t.ID, "duration", duration)

	case errors.Is(res.err, task.ErrPaused) || errors.Is(cause, errPauseRequested):
		checkpoint := ""
		if c, ok := exec.(executor.Checkpointable); ok {
			checkpoint = c.CheckpointToken()
		}
		if err := s.queue.MarkPaused(t.ID, checkpoint); err != nil {
			s.logger.Error("failed to record pause", "task", t.ID, "error", err)
			return
		}
		s.bus.Publish(events.TopicTask, events.TaskPausedEvent{ID: t.ID, Timestamp: now})
		s.logger.Info("task paused at checkpoint", "task", t.ID)

	case errors.Is(cause, errTimeoutExpired):
		terr := &task.Error{
			Kind:    task.KindTimeout,
			TaskID:  t.ID,
			Attempt: attempt,
			Message: fmt.Sprintf("wall-clock limit %s exceeded", t.Timeout),
			Cause:   res.err,
		}
		s.markCancelled(t, terr, false)

	case cause != nil || errors.Is(res.err, context.Canceled):
		terr := &task.Error{
			Kind:    task.KindCancelled,
			TaskID:  t.ID,
			Attempt: attempt,
			Message: "cancelled while running",
			Cause:   res.err,
		}
		s.markCancelled(t, terr, false)

	default:
		terr := &task.Error{
			Kind:    task.KindExecutor,
			TaskID:  t.ID,
			Attempt: attempt,
			Message: "executor failed",
			Cause:   res.err,
		}
		retried, err := s.queue.Fail(t.ID, terr)
		if err != nil {
			s.logger.Error("failed to record failure", "task", t.ID, "error", err)
			return
		}
		if retried {
			s.bus.Publish(events.TopicTask, events.TaskRetryingEvent{
				ID: t.ID, Attempt: attempt + 1, Timestamp: now,
			})
			s.logger.Warn("task failed, retrying", "task", t.ID, "next_attempt", attempt+1, "error", res.err)
			return
		}
		s.bus.Publish(events.TopicTask, events.TaskFailedEvent{ID: t.ID, Err: terr, Timestamp: now})
		s.logger.Error("task failed permanently", "task", t.ID, "attempts", attempt, "error", res.err)
	}
}

// finishUncooperative handles an executor that missed the grace window. The
// goroutine is abandoned and the task is marked cancelled, not failed, to
// distinguish forced teardown from executor error.
func (s *Scheduler) finishUncooperative(t *task.Task, cause error, attempt int) {
	msg := "executor ignored cancellation signal past grace timeout"
	kind := task.KindCancelled
	if errors.Is(cause, errTimeoutExpired) {
		kind = task.KindTimeout
		msg = "executor ignored timeout cancellation past grace timeout"
	}

	terr := &task.Error{
		Kind:    kind,
		TaskID:  t.ID,
		Attempt: attempt,
		Message: msg,
		Cause:   cause,
	}
	s.markCancelled(t, terr, true)
	s.logger.Warn("worker forcibly torn down", "task", t.ID, "cause", cause)
}

func (s *Scheduler) markCancelled(t *task.Task, terr *task.Error, forced bool) {
	if err := s.queue.MarkCancelled(t.ID, terr); err != nil {
		s.logger.Error("failed to record cancellation", "task", t.ID, "error", err)
		return
	}
	s.bus.Publish(events.TopicTask, events.TaskCancelledEvent{
		ID: t.ID, Forced: forced, Timestamp: time.Now(),
	})
}

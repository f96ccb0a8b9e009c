// Package scheduler dispatches queued tasks into a bounded pool of worker
// goroutines. One polling loop owns dispatch; every state mutation goes
// through the queue's serialized path, so a fault inside one worker can
// never corrupt bookkeeping for other tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/crucible-editor/taskcore/internal/events"
	"github.com/crucible-editor/taskcore/internal/executor"
	"github.com/crucible-editor/taskcore/internal/queue"
	"github.com/crucible-editor/taskcore/internal/task"
)

// Cancellation causes, distinguished so workers can tell a pause request
// from a cancel request from a timeout when the task context goes down.
var (
	errPauseRequested  = errors.New("pause requested")
	errCancelRequested = errors.New("cancel requested")
	errTimeoutExpired  = errors.New("task timeout expired")
)

// Config configures the scheduler.
type Config struct {
	PollInterval  time.Duration // Dispatch tick; default 100ms
	MaxConcurrent int           // Worker slots; default 4
	GraceTimeout  time.Duration // Cooperative-cancel window before forced teardown; default 5s
	Breaker       BreakerConfig
}

// DefaultConfig returns the stock scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:  100 * time.Millisecond,
		MaxConcurrent: 4,
		GraceTimeout:  5 * time.Second,
		Breaker:       DefaultBreakerConfig(),
	}
}

// Scheduler drives the worker pool.
type Scheduler struct {
	cfg      Config
	queue    *queue.Queue
	registry *executor.Registry
	bus      *events.Bus
	logger   *slog.Logger
	breakers *BreakerRegistry // nil when breakers are disabled
	slots    *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*workerHandle
	started bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// workerHandle lets control operations signal a running worker.
type workerHandle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a scheduler over the given queue, registry, and bus.
func New(cfg Config, q *queue.Queue, reg *executor.Registry, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:      cfg,
		queue:    q,
		registry: reg,
		bus:      bus,
		logger:   logger,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		running:  make(map[string]*workerHandle),
	}
	if cfg.Breaker.Enabled {
		s.breakers = NewBreakerRegistry(cfg.Breaker, logger)
	}
	return s
}

// Start launches the dispatch loop. Returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the dispatch loop and all running workers, then waits for
// them to finish. Workers that ignore cancellation are abandoned after the
// grace timeout, so Stop is bounded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// loop is the single dispatch owner. It never blocks: each tick it claims
// eligible tasks while free slots remain, then goes back to sleep.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch claims tasks into free worker slots until either runs out.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		if !s.slots.TryAcquire(1) {
			return
		}
		t := s.queue.ClaimNext(time.Now())
		if t == nil {
			s.slots.Release(1)
			return
		}

		s.wg.Add(1)
		go s.runTask(ctx, t)
	}
}

// Pause asks a running task to park at its next checkpoint. Rejected with
// task.ErrUnsupportedOperation when the bound executor does not declare
// checkpoint support, or when the task is not running; callers must cancel
// instead.
func (s *Scheduler) Pause(id string) error {
	t, ok := s.queue.Get(id)
	if !ok {
		return task.ErrNotFound
	}
	if !s.registry.CanCheckpoint(t.Type) {
		return fmt.Errorf("%w: executor for type %q does not support checkpoints", task.ErrUnsupportedOperation, t.Type)
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("%w: pause from %s", task.ErrUnsupportedOperation, t.Status)
	}

	s.mu.Lock()
	h, running := s.running[id]
	s.mu.Unlock()
	if !running {
		// Raced with completion.
		return fmt.Errorf("%w: task no longer running", task.ErrUnsupportedOperation)
	}

	h.cancel(errPauseRequested)
	return nil
}

// Cancel requests cancellation. Queued and paused tasks cancel immediately;
// running tasks receive a cooperative signal and are forcibly torn down
// after the grace timeout if they do not comply.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	h, running := s.running[id]
	s.mu.Unlock()

	if running {
		h.cancel(errCancelRequested)
		return nil
	}

	t, ok := s.queue.Get(id)
	if !ok {
		return task.ErrNotFound
	}
	terr := &task.Error{
		Kind:    task.KindCancelled,
		TaskID:  id,
		Attempt: t.RetryCount + 1,
		Message: "cancelled before dispatch",
	}
	if err := s.queue.CancelIdle(id, terr); err != nil {
		return err
	}
	s.bus.Publish(events.TopicTask, events.TaskCancelledEvent{ID: id, Timestamp: time.Now()})
	return nil
}

// RunningCount returns the number of tasks with an active worker.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

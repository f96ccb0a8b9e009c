// Package orchestrator wires the queue, scheduler, executor registry,
// dependency graph, transaction manager, event bus, and persistence into the
// single facade collaborators talk to.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crucible-editor/taskcore/internal/config"
	"github.com/crucible-editor/taskcore/internal/depgraph"
	"github.com/crucible-editor/taskcore/internal/events"
	"github.com/crucible-editor/taskcore/internal/executor"
	"github.com/crucible-editor/taskcore/internal/persistence"
	"github.com/crucible-editor/taskcore/internal/queue"
	"github.com/crucible-editor/taskcore/internal/scheduler"
	"github.com/crucible-editor/taskcore/internal/task"
	"github.com/crucible-editor/taskcore/internal/txn"
)

// TaskSpec describes a task submission.
type TaskSpec struct {
	Type     string
	Title    string
	Priority task.Priority
	Metadata map[string]string

	// MaxRetries overrides the configured retry budget when positive.
	MaxRetries int

	// Timeout is an optional wall-clock limit. Expiry is treated as a
	// cancellation request, never a retry trigger.
	Timeout time.Duration
}

// Core is the background task orchestration core.
type Core struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *executor.Registry
	queue    *queue.Queue
	sched    *scheduler.Scheduler
	bus      *events.Bus
	builder  *depgraph.Builder
	txns     *txn.Manager
	store    persistence.Store // May be nil: in-memory only

	thresholds depgraph.Thresholds

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a core from configuration. lang selects the import syntax
// for dependency analysis (nil uses the ECMAScript matcher); store may be
// nil to disable persistence.
func New(cfg *config.Config, lang depgraph.Language, store persistence.Store, logger *slog.Logger) *Core {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if lang == nil {
		lang = depgraph.ECMAScript()
	}

	registry := executor.NewRegistry()
	bus := events.NewBus()

	retry := queue.RetryPolicy{
		Base:   time.Duration(cfg.Retry.BaseMs) * time.Millisecond,
		Cap:    time.Duration(cfg.Retry.CapMs) * time.Millisecond,
		Jitter: cfg.Retry.Jitter,
	}
	q := queue.New(cfg.HistoryCapacity, retry, logger)

	schedCfg := scheduler.Config{
		PollInterval:  time.Duration(cfg.Pool.PollIntervalMs) * time.Millisecond,
		MaxConcurrent: cfg.Pool.MaxConcurrent,
		GraceTimeout:  time.Duration(cfg.Pool.GraceTimeoutMs) * time.Millisecond,
		Breaker: scheduler.BreakerConfig{
			Enabled:             cfg.Breaker.Enabled,
			ConsecutiveFailures: uint32(cfg.Breaker.ConsecutiveFailures),
			OpenTimeout:         time.Duration(cfg.Breaker.OpenTimeoutMs) * time.Millisecond,
			MaxRequests:         uint32(cfg.Breaker.MaxProbeRequests),
		},
	}

	thresholds := depgraph.Thresholds{
		Low:    cfg.Impact.LowThreshold,
		Medium: cfg.Impact.MediumThreshold,
	}
	builder := depgraph.NewBuilder(lang, logger)

	return &Core{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		queue:      q,
		sched:      scheduler.New(schedCfg, q, registry, bus, logger),
		bus:        bus,
		builder:    builder,
		txns:       txn.NewManager(builder, thresholds, bus, logger),
		store:      store,
		thresholds: thresholds,
	}
}

// RegisterExecutor maps a task type to its executor.
func (c *Core) RegisterExecutor(taskType string, e executor.Executor) {
	c.registry.Register(taskType, e)
}

// Start restores persisted state and launches the scheduler. Tasks that
// were running when the previous process died come back as failed with an
// "interrupted by restart" error.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("core already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	if c.store != nil {
		snap, err := c.store.LoadSnapshot(runCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("restoring persisted state: %w", err)
		}
		c.queue.Restore(snap.Pending, snap.History)
		c.logger.Info("restored persisted state",
			"pending", len(snap.Pending), "history", len(snap.History))
	}

	if err := c.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	if c.store != nil {
		c.wg.Add(1)
		go c.persistLoop(runCtx)
	}

	c.started = true
	c.cancel = cancel
	return nil
}

// Stop shuts down the scheduler, persists a final snapshot, and closes the
// event bus.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	c.sched.Stop()
	cancel()
	c.wg.Wait()

	if c.store != nil {
		c.persist(context.Background())
	}
	c.bus.Close()
}

// persistLoop saves a snapshot after every queue transition, including task
// start: a snapshot written mid-run must record the task as running so a
// crash demotes it to failed on restore instead of silently re-executing it.
// Progress and transaction events are skipped; they never change what a
// snapshot contains.
func (c *Core) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ch := c.bus.SubscribeAll(256)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.EventType() {
			case events.EventTypeTaskProgress, events.EventTypeTxnPlanned,
				events.EventTypeTxnCommitted, events.EventTypeTxnRolledBack:
				continue
			}
			c.persist(ctx)
		}
	}
}

func (c *Core) persist(ctx context.Context) {
	pending, history := c.queue.Snapshot()
	err := c.store.SaveSnapshot(ctx, persistence.Snapshot{Pending: pending, History: history})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("failed to persist snapshot", "error", err)
	}
}

// Submit validates a task spec and enqueues it. Unknown task types are
// rejected synchronously; no task is created.
func (c *Core) Submit(spec TaskSpec) (string, error) {
	if spec.Type == "" {
		return "", errors.New("task type is required")
	}
	if !c.registry.Has(spec.Type) {
		return "", fmt.Errorf("unknown task type %q: %w", spec.Type, executor.ErrNoExecutor)
	}
	if spec.Priority < task.PriorityLow || spec.Priority > task.PriorityCritical {
		return "", fmt.Errorf("invalid priority %d", spec.Priority)
	}

	t := task.New(spec.Type, spec.Title, spec.Priority, spec.Metadata)
	if spec.MaxRetries > 0 {
		t.MaxRetries = spec.MaxRetries
	} else if c.cfg.Retry.MaxRetries > 0 {
		t.MaxRetries = c.cfg.Retry.MaxRetries
	}
	t.Timeout = spec.Timeout

	if err := c.queue.Add(t); err != nil {
		return "", err
	}
	c.bus.Publish(events.TopicTask, events.TaskQueuedEvent{
		ID: t.ID, Type: t.Type, Priority: t.Priority, Timestamp: time.Now(),
	})
	c.logger.Info("task submitted", "task", t.ID, "type", t.Type, "priority", t.Priority)
	return t.ID, nil
}

// Pause asks a running task to park at its next checkpoint. Fails with
// task.ErrUnsupportedOperation unless the bound executor declares checkpoint
// support; callers must cancel instead.
func (c *Core) Pause(id string) error {
	return c.sched.Pause(id)
}

// Resume re-queues a paused task at its original priority.
func (c *Core) Resume(id string) error {
	if err := c.queue.Resume(id); err != nil {
		return err
	}
	c.bus.Publish(events.TopicTask, events.TaskResumedEvent{ID: id, Timestamp: time.Now()})
	return nil
}

// Cancel cancels a task. Queued and paused tasks cancel immediately; running
// tasks get a cooperative signal and a grace window before forced teardown.
func (c *Core) Cancel(id string) error {
	return c.sched.Cancel(id)
}

// GetTask returns a task by ID, live or from history.
func (c *Core) GetTask(id string) (*task.Task, bool) {
	return c.queue.Get(id)
}

// ListTasks returns live tasks, optionally filtered by status.
func (c *Core) ListTasks(statuses ...task.Status) []*task.Task {
	if len(statuses) == 0 {
		return c.queue.List(nil)
	}
	return c.queue.List(func(t *task.Task) bool {
		for _, s := range statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	})
}

// GetHistory returns up to limit terminal tasks, newest first.
func (c *Core) GetHistory(limit int) []*task.Task {
	return c.queue.History(limit)
}

// Stats returns queue counts by status.
func (c *Core) Stats() queue.Stats {
	return c.queue.Stats()
}

// Subscribe invokes callback for every published event until the returned
// cancel function is called or the core stops. The callback runs on its own
// goroutine; slow callbacks drop events rather than stalling the core.
func (c *Core) Subscribe(callback func(events.Event)) (cancel func()) {
	ch := c.bus.SubscribeAll(256)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				callback(ev)
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// PlanTransaction validates changes and attaches the estimated impact
// derived from dependency analysis over the given file set.
func (c *Core) PlanTransaction(ctx context.Context, changes []txn.FileChange, files []depgraph.SourceFile) (*txn.Plan, error) {
	return c.txns.Plan(ctx, changes, files)
}

// ApplyTransaction applies a plan all-or-nothing.
func (c *Core) ApplyTransaction(plan *txn.Plan) *txn.Result {
	return c.txns.Apply(plan)
}

// AnalyzeImpact builds a dependency graph over the file set and reports the
// direct and transitive dependents of path.
func (c *Core) AnalyzeImpact(ctx context.Context, files []depgraph.SourceFile, path string) (depgraph.ImpactAnalysis, error) {
	graph, err := c.builder.Build(ctx, files)
	if err != nil {
		return depgraph.ImpactAnalysis{}, err
	}
	return graph.Impact(path, c.thresholds)
}

// DetectCycles builds a dependency graph over the file set and returns all
// distinct import cycles.
func (c *Core) DetectCycles(ctx context.Context, files []depgraph.SourceFile) ([]depgraph.Cycle, error) {
	graph, err := c.builder.Build(ctx, files)
	if err != nil {
		return nil, err
	}
	return graph.DetectCycles(), nil
}

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crucible-editor/taskcore/internal/config"
	"github.com/crucible-editor/taskcore/internal/depgraph"
	"github.com/crucible-editor/taskcore/internal/events"
	"github.com/crucible-editor/taskcore/internal/executor"
	"github.com/crucible-editor/taskcore/internal/persistence"
	"github.com/crucible-editor/taskcore/internal/task"
	"github.com/crucible-editor/taskcore/internal/txn"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pool.PollIntervalMs = 5
	cfg.Retry.BaseMs = 1
	cfg.Retry.CapMs = 2
	cfg.Retry.Jitter = 0
	return cfg
}

func startCore(t *testing.T, store persistence.Store) *Core {
	t.Helper()
	core := New(testConfig(), nil, store, nil)
	if err := core.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(core.Stop)
	return core
}

func waitForTask(t *testing.T, core *Core, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := core.GetTask(id); ok && got.Status == want {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := core.GetTask(id)
	t.Fatalf("task %s never reached %s (last: %+v)", id, want, got)
	return nil
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	core := startCore(t, nil)

	_, err := core.Submit(TaskSpec{Type: "nope", Title: "x"})
	if !errors.Is(err, executor.ErrNoExecutor) {
		t.Fatalf("err = %v, want ErrNoExecutor", err)
	}
	// Rejection is synchronous: no task was created.
	if tasks := core.ListTasks(); len(tasks) != 0 {
		t.Errorf("rejected submission left %d tasks", len(tasks))
	}
}

func TestSubmitValidation(t *testing.T) {
	core := startCore(t, nil)
	core.RegisterExecutor("echo", executor.Func(func(ctx context.Context, in executor.Input) (string, error) {
		return "ok", nil
	}))

	if _, err := core.Submit(TaskSpec{Type: "", Title: "x"}); err == nil {
		t.Error("empty type accepted")
	}
	if _, err := core.Submit(TaskSpec{Type: "echo", Priority: task.Priority(99)}); err == nil {
		t.Error("out-of-range priority accepted")
	}
}

func TestSubmitToCompletion(t *testing.T) {
	core := startCore(t, nil)
	core.RegisterExecutor("echo", executor.Func(func(ctx context.Context, in executor.Input) (string, error) {
		return "hello " + in.Task.Title, nil
	}))

	id, err := core.Submit(TaskSpec{Type: "echo", Title: "world", Priority: task.PriorityNormal})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForTask(t, core, id, task.StatusCompleted)
	if got.Result != "hello world" {
		t.Errorf("result = %q", got.Result)
	}
	if hist := core.GetHistory(0); len(hist) != 1 || hist[0].ID != id {
		t.Errorf("history = %+v", hist)
	}
	if s := core.Stats(); s.Completed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestSubmitAppliesConfiguredRetryBudget(t *testing.T) {
	core := startCore(t, nil)
	block := make(chan struct{})
	defer close(block)
	core.RegisterExecutor("slow", executor.Func(func(ctx context.Context, in executor.Input) (string, error) {
		<-block
		return "", nil
	}))

	id, err := core.Submit(TaskSpec{Type: "slow", Title: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := core.GetTask(id)
	if got.MaxRetries != 3 {
		t.Errorf("max retries = %d, want configured 3", got.MaxRetries)
	}

	id2, _ := core.Submit(TaskSpec{Type: "slow", Title: "y", MaxRetries: 7})
	got, _ = core.GetTask(id2)
	if got.MaxRetries != 7 {
		t.Errorf("max retries = %d, want spec override 7", got.MaxRetries)
	}
}

func TestSubscribeDeliversLifecycle(t *testing.T) {
	core := startCore(t, nil)
	core.RegisterExecutor("echo", executor.Func(func(ctx context.Context, in executor.Input) (string, error) {
		return "ok", nil
	}))

	var mu sync.Mutex
	seen := make(map[string]bool)
	cancel := core.Subscribe(func(ev events.Event) {
		mu.Lock()
		seen[ev.EventType()] = true
		mu.Unlock()
	})
	defer cancel()

	id, err := core.Submit(TaskSpec{Type: "echo", Title: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTask(t, core, id, task.StatusCompleted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := seen[events.EventTypeTaskQueued] && seen[events.EventTypeTaskStarted] && seen[events.EventTypeTaskCompleted]
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("missing lifecycle events, saw %v", seen)
}

func TestRestartRestoresPendingAndDemotesRunning(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	// Simulate state written by a previous process that died mid-run.
	pending := task.New("echo", "survivor", task.PriorityHigh, nil)
	stale := task.New("echo", "casualty", task.PriorityNormal, nil)
	stale.Status = task.StatusRunning
	snap := persistence.Snapshot{Pending: []*task.Task{pending, stale}}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	core := New(testConfig(), nil, store, nil)
	core.RegisterExecutor("echo", executor.Func(func(ctx context.Context, in executor.Input) (string, error) {
		return "ok", nil
	}))
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(core.Stop)

	demoted := waitForTask(t, core, stale.ID, task.StatusFailed)
	if demoted.Err == nil || demoted.Err.Kind != task.KindInterrupted {
		t.Errorf("demoted err = %v, want interrupted", demoted.Err)
	}
	// The pending task is dispatchable after restore.
	waitForTask(t, core, pending.ID, task.StatusCompleted)
}

func TestTransactionThroughCore(t *testing.T) {
	core := startCore(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	plan, err := core.PlanTransaction(context.Background(), []txn.FileChange{
		{Path: path, Type: txn.ChangeCreate, NewContent: "hello"},
	}, nil)
	if err != nil {
		t.Fatalf("PlanTransaction: %v", err)
	}

	res := core.ApplyTransaction(plan)
	if !res.Committed {
		t.Fatalf("apply failed: %v", res.Err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "hello" {
		t.Errorf("file content = %q, %v", b, err)
	}
}

func TestAnalyzeImpactThroughCore(t *testing.T) {
	core := startCore(t, nil)
	files := []depgraph.SourceFile{
		{Path: "util.ts", Content: "export const x = 1\n"},
		{Path: "a.ts", Content: "import {x} from './util'\n"},
		{Path: "b.ts", Content: "import {x} from './util'\n"},
	}

	analysis, err := core.AnalyzeImpact(context.Background(), files, "util.ts")
	if err != nil {
		t.Fatalf("AnalyzeImpact: %v", err)
	}
	if len(analysis.TransitiveDependents) != 2 {
		t.Errorf("dependents = %v", analysis.TransitiveDependents)
	}
	if analysis.Risk != depgraph.RiskLow {
		t.Errorf("risk = %v, want low", analysis.Risk)
	}

	cycles, err := core.DetectCycles(context.Background(), files)
	if err != nil {
		t.Fatalf("DetectCycles: %v", err)
	}
	if cycles != nil {
		t.Errorf("cycles = %v, want none", cycles)
	}
}

package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crucible-editor/taskcore/internal/task"
)

func memStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	store := memStore(t)
	ctx := context.Background()

	paused := task.New("index", "index workspace", task.PriorityHigh, map[string]string{"dir": "src"})
	paused.Status = task.StatusPaused
	paused.Checkpoint = "chunk-4"
	paused.Progress = 60
	paused.NotBefore = time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	paused.Timeout = 90 * time.Second

	queued := task.New("lint", "lint workspace", task.PriorityLow, nil)
	queued.RetryCount = 1
	queued.MaxRetries = 5

	done := task.New("build", "build", task.PriorityNormal, nil)
	done.Status = task.StatusCompleted
	done.Result = "ok"
	completed := time.Now().UTC().Truncate(time.Second)
	done.CompletedAt = &completed

	failed := task.New("deploy", "deploy", task.PriorityCritical, nil)
	failed.Status = task.StatusFailed
	failed.Err = &task.Error{Kind: task.KindExecutor, TaskID: failed.ID, Attempt: 4, Message: "boom"}

	snap := Snapshot{
		Pending: []*task.Task{paused, queued},
		History: []*task.Task{done, failed},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got.Pending) != 2 || len(got.History) != 2 {
		t.Fatalf("got %d pending, %d history", len(got.Pending), len(got.History))
	}

	// Position order is preserved within each bucket.
	p := got.Pending[0]
	if p.ID != paused.ID || p.Status != task.StatusPaused || p.Checkpoint != "chunk-4" {
		t.Errorf("paused task = %+v", p)
	}
	if p.Priority != task.PriorityHigh || p.Progress != 60 || p.Timeout != 90*time.Second {
		t.Errorf("paused fields = priority %v, progress %d, timeout %v", p.Priority, p.Progress, p.Timeout)
	}
	if p.Metadata["dir"] != "src" {
		t.Errorf("metadata = %v", p.Metadata)
	}
	if !p.NotBefore.Equal(paused.NotBefore) {
		t.Errorf("not-before = %v, want %v", p.NotBefore, paused.NotBefore)
	}

	q := got.Pending[1]
	if q.ID != queued.ID || q.RetryCount != 1 || q.MaxRetries != 5 {
		t.Errorf("queued task = %+v", q)
	}

	h := got.History[0]
	if h.ID != done.ID || h.Status != task.StatusCompleted || h.Result != "ok" {
		t.Errorf("completed task = %+v", h)
	}
	if h.CompletedAt == nil || !h.CompletedAt.Equal(completed) {
		t.Errorf("completed-at = %v", h.CompletedAt)
	}

	f := got.History[1]
	if f.Err == nil {
		t.Fatal("failed task lost its error")
	}
	if f.Err.Kind != task.KindExecutor || f.Err.Attempt != 4 || f.Err.Message != "boom" {
		t.Errorf("error = %+v", f.Err)
	}
}

func TestSaveSnapshotReplacesPrevious(t *testing.T) {
	store := memStore(t)
	ctx := context.Background()

	first := task.New("a", "a", task.PriorityNormal, nil)
	second := task.New("b", "b", task.PriorityNormal, nil)

	if err := store.SaveSnapshot(ctx, Snapshot{Pending: []*task.Task{first}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SaveSnapshot(ctx, Snapshot{Pending: []*task.Task{second}}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got.Pending) != 1 || got.Pending[0].ID != second.ID {
		t.Errorf("snapshot not replaced: %+v", got.Pending)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	store := memStore(t)

	got, err := store.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got.Pending) != 0 || len(got.History) != 0 {
		t.Errorf("empty store yielded %+v", got)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "taskcore.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	tk := task.New("index", "t", task.PriorityNormal, nil)
	if err := store.SaveSnapshot(ctx, Snapshot{Pending: []*task.Task{tk}}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got.Pending) != 1 || got.Pending[0].ID != tk.ID {
		t.Errorf("snapshot lost across reopen: %+v", got.Pending)
	}
}

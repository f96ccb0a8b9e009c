package executor

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/crucible-editor/taskcore/internal/task"
)

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("index", Func(func(ctx context.Context, in Input) (string, error) {
		return "indexed", nil
	}))

	exec, err := reg.Resolve("index")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := exec.Execute(context.Background(), Input{})
	if err != nil || out != "indexed" {
		t.Errorf("Execute = %q, %v", out, err)
	}
	if !reg.Has("index") || reg.Has("missing") {
		t.Error("Has gave wrong answers")
	}
}

func TestResolveUnknownType(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("ghost"); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("err = %v, want ErrNoExecutor", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("job", Func(func(ctx context.Context, in Input) (string, error) { return "v1", nil }))
	reg.Register("job", Func(func(ctx context.Context, in Input) (string, error) { return "v2", nil }))

	exec, _ := reg.Resolve("job")
	if out, _ := exec.Execute(context.Background(), Input{}); out != "v2" {
		t.Errorf("got %q, want replacement", out)
	}
}

type fixedCheckpointExec struct {
	supported bool
}

func (e fixedCheckpointExec) Execute(ctx context.Context, in Input) (string, error) {
	return "", task.ErrPaused
}
func (e fixedCheckpointExec) SupportsCheckpoint() bool { return e.supported }
func (e fixedCheckpointExec) CheckpointToken() string  { return "tok" }

func TestCanCheckpoint(t *testing.T) {
	reg := NewRegistry()
	reg.Register("plain", Func(func(ctx context.Context, in Input) (string, error) { return "", nil }))
	reg.Register("capable", fixedCheckpointExec{supported: true})
	reg.Register("declined", fixedCheckpointExec{supported: false})

	tests := []struct {
		taskType string
		want     bool
	}{
		{"plain", false},
		{"capable", true},
		{"declined", false},
		{"unregistered", false},
	}
	for _, tt := range tests {
		if got := reg.CanCheckpoint(tt.taskType); got != tt.want {
			t.Errorf("CanCheckpoint(%q) = %v, want %v", tt.taskType, got, tt.want)
		}
	}
}

func TestTypes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", Func(func(ctx context.Context, in Input) (string, error) { return "", nil }))
	reg.Register("a", Func(func(ctx context.Context, in Input) (string, error) { return "", nil }))

	types := reg.Types()
	sort.Strings(types)
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("Types = %v", types)
	}
}

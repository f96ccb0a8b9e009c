// Package txn applies multi-file edits atomically: every file touched by a
// plan is backed up in memory before any write, changes apply sequentially,
// and the first failure rolls everything back before the call returns. No
// partial state is ever left externally visible.
package txn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-editor/taskcore/internal/depgraph"
	"github.com/crucible-editor/taskcore/internal/events"
)

// ChangeType identifies what a FileChange does to its path.
type ChangeType int

const (
	ChangeCreate ChangeType = iota
	ChangeModify
	ChangeDelete
)

// String returns the lowercase name used in logs and plan summaries.
func (c ChangeType) String() string {
	switch c {
	case ChangeCreate:
		return "create"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// FileChange is one step of a transaction plan.
type FileChange struct {
	Path       string
	Type       ChangeType
	NewContent string // Ignored for deletes
	Reason     string // Caller-supplied rationale, carried for reporting

	// AllowOverwrite lets a create replace an existing file. The existing
	// content is backed up and restored on rollback like a modify.
	AllowOverwrite bool
}

// State is the transaction lifecycle: Planned -> Applying -> Committed or
// RolledBack. RolledBack is also terminal when rollback itself failed; that
// case escalates through FatalInconsistencyError.
type State int

const (
	StatePlanned State = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Plan is an ordered set of file changes plus the pre-flight impact grade
// derived from dependency-graph analysis. Plans are single-use.
type Plan struct {
	ID              string
	Changes         []FileChange
	EstimatedImpact depgraph.RiskLevel
	CreatedAt       time.Time

	state State
}

// State returns the plan's current lifecycle state.
func (p *Plan) State() State { return p.state }

// Result is the outcome of applying a plan.
type Result struct {
	TransactionID string
	Committed     bool
	AppliedPaths  []string // Paths written or removed, in application order
	Err           error    // Set when not committed
}

// FatalInconsistencyError reports that rollback itself partially failed: the
// file system may be inconsistent and requires manual remediation. It is
// reported distinctly from an ordinary apply failure.
type FatalInconsistencyError struct {
	TransactionID string
	ApplyErr      error // The failure that triggered rollback
	RollbackErr   error // What went wrong while restoring
}

func (e *FatalInconsistencyError) Error() string {
	return fmt.Sprintf("transaction %s: rollback failed after apply error, manual intervention required: apply: %v; rollback: %v",
		e.TransactionID, e.ApplyErr, e.RollbackErr)
}

func (e *FatalInconsistencyError) Unwrap() []error {
	return []error{e.ApplyErr, e.RollbackErr}
}

// Manager plans and applies multi-file transactions.
type Manager struct {
	builder    *depgraph.Builder
	thresholds depgraph.Thresholds
	locks      *PathLocker
	bus        *events.Bus // May be nil
	logger     *slog.Logger
}

// NewManager creates a transaction manager. bus may be nil to disable event
// publication; a nil logger falls back to slog.Default.
func NewManager(builder *depgraph.Builder, thresholds depgraph.Thresholds, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		builder:    builder,
		thresholds: thresholds,
		locks:      NewPathLocker(),
		bus:        bus,
		logger:     logger,
	}
}

// Plan validates the change list and attaches the estimated impact: the
// maximum dependency-graph risk across all touched paths. Files outside the
// analyzed set (e.g. newly created ones) contribute no risk.
func (m *Manager) Plan(ctx context.Context, changes []FileChange, files []depgraph.SourceFile) (*Plan, error) {
	if len(changes) == 0 {
		return nil, errors.New("transaction plan has no changes")
	}
	for i, c := range changes {
		if c.Path == "" {
			return nil, fmt.Errorf("change %d has empty path", i)
		}
		if c.Type != ChangeCreate && c.Type != ChangeModify && c.Type != ChangeDelete {
			return nil, fmt.Errorf("change %d (%s) has unknown change type", i, c.Path)
		}
	}

	impact := depgraph.RiskLow
	if len(files) > 0 {
		graph, err := m.builder.Build(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("pre-flight impact analysis: %w", err)
		}
		for _, c := range changes {
			analysis, err := graph.Impact(c.Path, m.thresholds)
			if err != nil {
				if errors.Is(err, depgraph.ErrUnknownFile) {
					continue
				}
				return nil, fmt.Errorf("pre-flight impact analysis for %s: %w", c.Path, err)
			}
			if analysis.Risk > impact {
				impact = analysis.Risk
			}
		}
	}

	plan := &Plan{
		ID:              uuid.NewString(),
		Changes:         changes,
		EstimatedImpact: impact,
		CreatedAt:       time.Now().UTC(),
		state:           StatePlanned,
	}
	if m.bus != nil {
		m.bus.Publish(events.TopicTransaction, events.TxnPlannedEvent{
			TransactionID: plan.ID,
			Changes:       len(plan.Changes),
			Impact:        impact.String(),
			Timestamp:     time.Now(),
		})
	}
	return plan, nil
}

// backup holds the pre-apply content of one file.
type backup struct {
	path    string
	content []byte
	mode    fs.FileMode
}

// appliedStep records one executed change for reverse-order rollback.
type appliedStep struct {
	change  FileChange
	created bool    // The apply newly created this path
	bak     *backup // Pre-apply content, nil when the file did not exist
}

// Apply executes the plan all-or-nothing. Touched paths are locked for the
// duration, so overlapping in-process applies serialize. On the first
// failure every prior step is undone in reverse order and the returned
// Result carries the original error; if the rollback itself fails the error
// escalates to FatalInconsistencyError.
func (m *Manager) Apply(plan *Plan) *Result {
	if plan.state != StatePlanned {
		return &Result{
			TransactionID: plan.ID,
			Err:           fmt.Errorf("transaction %s is %s, not planned", plan.ID, plan.state),
		}
	}

	paths := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		paths = append(paths, c.Path)
	}
	locked := m.locks.LockAll(paths)
	defer m.locks.UnlockAll(locked)

	plan.state = StateApplying
	m.logger.Info("applying transaction", "txn", plan.ID, "changes", len(plan.Changes), "impact", plan.EstimatedImpact)

	var applied []appliedStep
	var appliedPaths []string

	for i, change := range plan.Changes {
		step, err := m.applyChange(change)
		if err != nil {
			stepErr := fmt.Errorf("applying change %d (%s %s): %w", i, change.Type, change.Path, err)
			return m.rollback(plan, applied, stepErr)
		}
		applied = append(applied, step)
		appliedPaths = append(appliedPaths, change.Path)
	}

	plan.state = StateCommitted
	m.logger.Info("transaction committed", "txn", plan.ID, "paths", len(appliedPaths))
	if m.bus != nil {
		m.bus.Publish(events.TopicTransaction, events.TxnCommittedEvent{
			TransactionID: plan.ID,
			AppliedPaths:  appliedPaths,
			Timestamp:     time.Now(),
		})
	}
	return &Result{TransactionID: plan.ID, Committed: true, AppliedPaths: appliedPaths}
}

// applyChange executes one change, capturing the backup needed to undo it.
func (m *Manager) applyChange(change FileChange) (appliedStep, error) {
	step := appliedStep{change: change}

	info, statErr := os.Stat(change.Path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return step, fmt.Errorf("stat: %w", statErr)
	}

	switch change.Type {
	case ChangeCreate:
		if exists && !change.AllowOverwrite {
			return step, fmt.Errorf("path already exists")
		}
		if exists {
			bak, err := readBackup(change.Path, info.Mode())
			if err != nil {
				return step, err
			}
			step.bak = bak
		} else {
			step.created = true
			if dir := filepath.Dir(change.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return step, fmt.Errorf("creating parent directory: %w", err)
				}
			}
		}
		if err := os.WriteFile(change.Path, []byte(change.NewContent), 0o644); err != nil {
			return step, fmt.Errorf("write: %w", err)
		}

	case ChangeModify:
		if !exists {
			return step, fmt.Errorf("file does not exist")
		}
		bak, err := readBackup(change.Path, info.Mode())
		if err != nil {
			return step, err
		}
		step.bak = bak
		if err := os.WriteFile(change.Path, []byte(change.NewContent), info.Mode()); err != nil {
			return step, fmt.Errorf("write: %w", err)
		}

	case ChangeDelete:
		if !exists {
			return step, fmt.Errorf("file does not exist")
		}
		bak, err := readBackup(change.Path, info.Mode())
		if err != nil {
			return step, err
		}
		step.bak = bak
		if err := os.Remove(change.Path); err != nil {
			return step, fmt.Errorf("remove: %w", err)
		}
	}

	return step, nil
}

func readBackup(path string, mode fs.FileMode) (*backup, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup read: %w", err)
	}
	return &backup{path: path, content: content, mode: mode}, nil
}

// rollback undoes applied steps in reverse order: restores backed-up files
// and removes files this attempt newly created.
func (m *Manager) rollback(plan *Plan, applied []appliedStep, applyErr error) *Result {
	var rollbackErrs []error
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if step.created {
			if err := os.Remove(step.change.Path); err != nil && !os.IsNotExist(err) {
				rollbackErrs = append(rollbackErrs, fmt.Errorf("removing created %s: %w", step.change.Path, err))
			}
			continue
		}
		if step.bak != nil {
			if err := os.WriteFile(step.bak.path, step.bak.content, step.bak.mode); err != nil {
				rollbackErrs = append(rollbackErrs, fmt.Errorf("restoring %s: %w", step.bak.path, err))
			}
		}
	}

	plan.state = StateRolledBack

	if len(rollbackErrs) > 0 {
		fatal := &FatalInconsistencyError{
			TransactionID: plan.ID,
			ApplyErr:      applyErr,
			RollbackErr:   errors.Join(rollbackErrs...),
		}
		m.logger.Error("transaction rollback failed", "txn", plan.ID, "error", fatal)
		if m.bus != nil {
			m.bus.Publish(events.TopicTransaction, events.TxnRolledBackEvent{
				TransactionID: plan.ID, Err: fatal, Fatal: true, Timestamp: time.Now(),
			})
		}
		return &Result{TransactionID: plan.ID, Err: fatal}
	}

	m.logger.Warn("transaction rolled back", "txn", plan.ID, "error", applyErr)
	if m.bus != nil {
		m.bus.Publish(events.TopicTransaction, events.TxnRolledBackEvent{
			TransactionID: plan.ID, Err: applyErr, Timestamp: time.Now(),
		})
	}
	return &Result{TransactionID: plan.ID, Err: applyErr}
}

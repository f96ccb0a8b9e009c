package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crucible-editor/taskcore/internal/task"
)

const (
	bucketPending = "pending"
	bucketHistory = "history"
)

// SaveSnapshot replaces the stored snapshot with snap. The whole write is
// one transaction: a crash mid-save leaves the previous snapshot intact.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_tasks`); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	for i, t := range snap.Pending {
		if err := insertTask(ctx, tx, bucketPending, i, t); err != nil {
			return err
		}
	}
	for i, t := range snap.History {
		if err := insertTask(ctx, tx, bucketHistory, i, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, bucket string, position int, t *task.Task) error {
	metadata := ""
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for task %s: %w", t.ID, err)
		}
		metadata = string(raw)
	}

	var errKind, errAttempt sql.NullInt64
	var errMessage sql.NullString
	if t.Err != nil {
		errKind = sql.NullInt64{Int64: int64(t.Err.Kind), Valid: true}
		errAttempt = sql.NullInt64{Int64: int64(t.Err.Attempt), Valid: true}
		msg := t.Err.Message
		if t.Err.Cause != nil {
			msg = fmt.Sprintf("%s: %v", t.Err.Message, t.Err.Cause)
		}
		errMessage = sql.NullString{String: msg, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_tasks (
			bucket, position, id, type, title, metadata, priority, status,
			progress, retry_count, max_retries, created_at, started_at,
			completed_at, not_before, timeout_ns, result, checkpoint,
			error_kind, error_attempt, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bucket, position, t.ID, t.Type, t.Title, metadata, t.Priority, t.Status,
		t.Progress, t.RetryCount, t.MaxRetries, t.CreatedAt, nullableTime(t.StartedAt),
		nullableTime(t.CompletedAt), nullableTimeValue(t.NotBefore), int64(t.Timeout),
		t.Result, t.Checkpoint, errKind, errAttempt, errMessage)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// LoadSnapshot reads the stored snapshot. An empty store yields an empty
// snapshot, not an error.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, id, type, title, metadata, priority, status,
			progress, retry_count, max_retries, created_at, started_at,
			completed_at, not_before, timeout_ns, result, checkpoint,
			error_kind, error_attempt, error_message
		FROM snapshot_tasks
		ORDER BY bucket, position
	`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var bucket string
		t := &task.Task{}
		var metadata string
		var startedAt, completedAt, notBefore sql.NullTime
		var timeoutNs int64
		var errKind, errAttempt sql.NullInt64
		var errMessage sql.NullString

		err := rows.Scan(&bucket, &t.ID, &t.Type, &t.Title, &metadata, &t.Priority,
			&t.Status, &t.Progress, &t.RetryCount, &t.MaxRetries, &t.CreatedAt,
			&startedAt, &completedAt, &notBefore, &timeoutNs, &t.Result,
			&t.Checkpoint, &errKind, &errAttempt, &errMessage)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan task: %w", err)
		}

		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
				return Snapshot{}, fmt.Errorf("failed to decode metadata for task %s: %w", t.ID, err)
			}
		}
		if startedAt.Valid {
			started := startedAt.Time
			t.StartedAt = &started
		}
		if completedAt.Valid {
			completed := completedAt.Time
			t.CompletedAt = &completed
		}
		if notBefore.Valid {
			t.NotBefore = notBefore.Time
		}
		t.Timeout = time.Duration(timeoutNs)
		if errMessage.Valid {
			t.Err = &task.Error{
				Kind:    task.Kind(errKind.Int64),
				TaskID:  t.ID,
				Attempt: int(errAttempt.Int64),
				Message: errMessage.String,
			}
		}

		switch bucket {
		case bucketPending:
			snap.Pending = append(snap.Pending, t)
		case bucketHistory:
			snap.History = append(snap.History, t)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("error iterating snapshot: %w", err)
	}

	return snap, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

package persistence

import (
	"context"
)

// initSchema creates the snapshot table if it doesn't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_tasks (
		bucket TEXT NOT NULL,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL,
		status INTEGER NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		not_before DATETIME,
		timeout_ns INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL DEFAULT '',
		checkpoint TEXT NOT NULL DEFAULT '',
		error_kind INTEGER,
		error_attempt INTEGER,
		error_message TEXT,
		PRIMARY KEY (bucket, position)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_tasks_id ON snapshot_tasks(id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

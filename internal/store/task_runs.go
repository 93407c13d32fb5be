package store

import (
	"context"

	"github.com/datallboy/serenity/internal/domain"
)

// SaveTaskRun upserts the outcome of a finished task.
func (s *PersistentStore) SaveTaskRun(ctx context.Context, rec *domain.TaskRecord) error {
	var dbo taskRunDBO
	dbo.FromDomain(rec)

	query := `INSERT INTO task_runs (id, kind, filename, status, attempts, bytes_transferred, error, finished_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (id) DO UPDATE SET
                  status = excluded.status,
                  attempts = excluded.attempts,
                  bytes_transferred = excluded.bytes_transferred,
                  error = excluded.error,
                  finished_at = excluded.finished_at`

	return s.exec(ctx, query,
		dbo.ID,
		dbo.Kind,
		dbo.Filename,
		dbo.Status,
		dbo.Attempts,
		dbo.BytesTransferred,
		dbo.Error,
		dbo.FinishedAt,
	)
}

// ListTaskRuns returns the most recent runs first. An empty filename lists every run.
func (s *PersistentStore) ListTaskRuns(ctx context.Context, filename string, limit int) ([]*domain.TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, kind, filename, status, attempts, bytes_transferred, error, finished_at
              FROM task_runs`
	args := []any{}
	if filename != "" {
		query += " WHERE filename = ?"
		args = append(args, filename)
	}
	// KSUIDs sort chronologically, id breaks ties on equal timestamps
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TaskRecord
	for rows.Next() {
		var dbo taskRunDBO
		if err := rows.Scan(&dbo.ID, &dbo.Kind, &dbo.Filename, &dbo.Status,
			&dbo.Attempts, &dbo.BytesTransferred, &dbo.Error, &dbo.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, dbo.ToDomain())
	}
	return runs, rows.Err()
}

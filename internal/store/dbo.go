package store

import (
	"database/sql"
	"time"

	"github.com/datallboy/serenity/internal/domain"
)

// taskRunDBO maps to the task_runs table
type taskRunDBO struct {
	ID               string         `db:"id"`
	Kind             string         `db:"kind"`
	Filename         string         `db:"filename"`
	Status           string         `db:"status"`
	Attempts         int            `db:"attempts"`
	BytesTransferred int64          `db:"bytes_transferred"`
	Error            sql.NullString `db:"error"`
	FinishedAt       int64          `db:"finished_at"`
}

// Mapper: DBO to Domain TaskRecord
func (r *taskRunDBO) ToDomain() *domain.TaskRecord {
	return &domain.TaskRecord{
		ID:               r.ID,
		Kind:             domain.TaskKind(r.Kind),
		Filename:         r.Filename,
		Status:           domain.TaskStatus(r.Status),
		Attempts:         r.Attempts,
		BytesTransferred: r.BytesTransferred,
		Error:            r.Error.String,
		FinishedAt:       time.UnixMilli(r.FinishedAt).UTC(),
	}
}

// Mapper: Domain TaskRecord to DBO
func (r *taskRunDBO) FromDomain(rec *domain.TaskRecord) {
	r.ID = rec.ID
	r.Kind = string(rec.Kind)
	r.Filename = rec.Filename
	r.Status = string(rec.Status)
	r.Attempts = rec.Attempts
	r.BytesTransferred = rec.BytesTransferred
	r.Error = sql.NullString{String: rec.Error, Valid: rec.Error != ""}

	if !rec.FinishedAt.IsZero() {
		r.FinishedAt = rec.FinishedAt.UnixMilli()
	} else {
		r.FinishedAt = time.Now().UnixMilli()
	}
}

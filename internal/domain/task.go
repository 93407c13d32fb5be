package domain

import (
	"sync/atomic"
	"time"
)

type TaskKind string

const (
	KindManifest TaskKind = "manifest"
	KindDownload TaskKind = "download"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskRetrying  TaskStatus = "retrying"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// DownloadTask is the transient state of one download attempt.
// It is never persisted: a restarted task recovers its position from the
// size of the local file.
type DownloadTask struct {
	ID        string
	SoundsDir string
	Filename  string
	Path      string

	RemoteMD5    string
	TotalBytes   int64
	ResumeOffset int64

	BytesTransferred atomic.Int64
	Skipped          bool
}

// TaskRecord is the persisted outcome of a finished task.
type TaskRecord struct {
	ID               string     `json:"id"`
	Kind             TaskKind   `json:"kind"`
	Filename         string     `json:"filename,omitempty"`
	Status           TaskStatus `json:"status"`
	Attempts         int        `json:"attempts"`
	BytesTransferred int64      `json:"bytes_transferred"`
	Error            string     `json:"error,omitempty"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// Package task defines the per-task state machine and the contracts its
// collaborators implement.
package task

import (
	"github.com/webreport/scrapetask/internal/extract"
)

// Status is the lifecycle state of a scrape task.
type Status string

// Status values persisted in the task state store.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Log levels recorded in a task's log history.
const (
	LogLevelInfo  = "info"
	LogLevelError = "error"
)

// Log retention bounds. The stored history keeps the most recent
// MaxStoredLogs entries; status reads surface only the most recent
// SnapshotLogs.
const (
	MaxStoredLogs = 100
	SnapshotLogs  = 10
)

// LogEntry is one append-only entry in a task's log history.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

// Snapshot is the read-only view of a task returned to callers.
type Snapshot struct {
	TaskID      string     `json:"taskId"`
	TargetURL   string     `json:"targetUrl"`
	Status      Status     `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	CreatedAt   string     `json:"createdAt,omitempty"`
	UpdatedAt   string     `json:"updatedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Logs        []LogEntry `json:"logs"`
}

// Report is the derived artifact written to the blob store for a completed
// task. Reports are immutable once written; a reset plus re-run overwrites
// the object at the same key.
type Report struct {
	TaskID    string         `json:"taskId"`
	TargetURL string         `json:"targetUrl"`
	ScrapedAt string         `json:"scrapedAt"`
	Metadata  ReportMetadata `json:"metadata"`
	Content   ReportContent  `json:"content"`
}

// ReportMetadata holds the extracted page metadata.
type ReportMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Summary     string `json:"summary,omitempty"`
}

// ReportContent holds the bounded page content. Both fields are lossy:
// links beyond the extractor bound and markup beyond the snippet bound
// are dropped before the report is written.
type ReportContent struct {
	Links   []extract.Link `json:"links"`
	RawHTML string         `json:"rawHtml"`
}

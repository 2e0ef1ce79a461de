package models

import "time"

// ProgressEvent is the immutable wire shape broadcast to subscribers.
type ProgressEvent struct {
	TaskID          ULID      `json:"taskId"`
	SubTaskID       *ULID     `json:"subTaskId,omitempty"`
	Status          Status    `json:"status"`
	Progress        *float64  `json:"progress,omitempty"`
	DownloadedBytes *int64    `json:"downloadedBytes,omitempty"`
	TotalBytes      *int64    `json:"totalBytes,omitempty"`
	DownloadSpeed   string    `json:"downloadSpeed,omitempty"`
	ETASeconds      *int64    `json:"etaSeconds,omitempty"`
	Bitrate         string    `json:"bitrate,omitempty"`
	Message         string    `json:"message,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// IsTerminal reports whether this is the final event for its subject.
func (e *ProgressEvent) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// SubjectKey returns a stable key identifying the task or sub-task lane
// the event belongs to. Consumers use it for per-lane throttling.
func (e *ProgressEvent) SubjectKey() string {
	if e.SubTaskID != nil {
		return e.TaskID.String() + ":" + e.SubTaskID.String()
	}
	return e.TaskID.String()
}

// Float64Ptr returns a pointer to a float64 value.
func Float64Ptr(v float64) *float64 { return &v }

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(v int64) *int64 { return &v }

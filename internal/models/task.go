package models

import (
	"time"
)

// ContentKind identifies what a task downloads.
type ContentKind string

const (
	// KindMovie is a standalone film.
	KindMovie ContentKind = "movie"
	// KindEpisode is a single episode of a show.
	KindEpisode ContentKind = "episode"
)

// TrackKind identifies a sub-task lane.
type TrackKind string

const (
	// TrackVideo is the single video lane of a task.
	TrackVideo TrackKind = "video"
	// TrackAudio is one audio lane per requested language.
	TrackAudio TrackKind = "audio"
	// TrackSubtitle is one subtitle lane per requested language.
	TrackSubtitle TrackKind = "subtitle"
)

// Status is the lifecycle state of a Task or SubTask.
type Status string

const (
	// StatusQueued means the task is waiting for an execution slot.
	StatusQueued Status = "queued"
	// StatusExtracting means the playlist descriptor is being resolved.
	StatusExtracting Status = "extracting"
	// StatusDownloading means media segments are being fetched.
	StatusDownloading Status = "downloading"
	// StatusMerging means tracks are being muxed into the final container.
	StatusMerging Status = "merging"
	// StatusCompleted is the successful terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed is the error terminal state.
	StatusFailed Status = "failed"
	// StatusCancelled is the user-abort terminal state.
	StatusCancelled Status = "cancelled"
	// StatusNotFound marks a sub-task whose language is absent upstream.
	// It applies only to sub-tasks.
	StatusNotFound Status = "not_found"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotFound:
		return true
	}
	return false
}

// IsActive reports whether the state occupies an execution slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusExtracting, StatusDownloading, StatusMerging:
		return true
	}
	return false
}

// taskTransitions lists the allowed task state machine edges.
// Cancellation is additionally allowed from any non-terminal state.
var taskTransitions = map[Status][]Status{
	StatusQueued:      {StatusExtracting, StatusFailed},
	StatusExtracting:  {StatusDownloading, StatusFailed},
	StatusDownloading: {StatusMerging, StatusFailed},
	StatusMerging:     {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is a user-visible download unit.
type Task struct {
	ID        ULID        `json:"id"`
	Kind      ContentKind `json:"kind"`
	ContentID string      `json:"content_id"`
	Season    int         `json:"season,omitempty"`
	Episode   int         `json:"episode,omitempty"`

	// Languages is the ordered preference list; the first entry is primary.
	Languages []string `json:"languages"`
	// Quality is "best", "worst" or a height hint like "1080" / "720p".
	Quality string `json:"quality"`

	Title      string `json:"title"`
	OutputPath string `json:"output_path"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`

	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      int64  `json:"total_bytes"`
	Speed           string `json:"speed,omitempty"`
	ETASeconds      int64  `json:"eta_seconds,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`

	SubTasks []*SubTask `json:"sub_tasks,omitempty"`
}

// Clone returns a deep copy safe for concurrent readers.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Languages = append([]string(nil), t.Languages...)
	if t.SubTasks != nil {
		clone.SubTasks = make([]*SubTask, len(t.SubTasks))
		for i, st := range t.SubTasks {
			stCopy := *st
			clone.SubTasks[i] = &stCopy
		}
	}
	return &clone
}

// SubTask is one track lane within a Task.
type SubTask struct {
	ID     ULID      `json:"id"`
	TaskID ULID      `json:"task_id"`
	Kind   TrackKind `json:"kind"`

	// Language is empty for the video lane.
	Language string `json:"language,omitempty"`
	// Title is the upstream track name, set by the selector.
	Title string `json:"title,omitempty"`
	// Resolution is "WxH", video lane only.
	Resolution string `json:"resolution,omitempty"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`

	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      int64  `json:"total_bytes"`
	Speed           string `json:"speed,omitempty"`
	ETASeconds      int64  `json:"eta_seconds,omitempty"`

	TempPath string `json:"-"`
	Error    string `json:"error,omitempty"`
}

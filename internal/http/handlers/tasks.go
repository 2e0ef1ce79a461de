// Package handlers implements the vodarr REST API operations.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/models"
)

// TasksHandler exposes download task admission and lifecycle operations.
type TasksHandler struct {
	sched *engine.Scheduler
}

// NewTasksHandler creates a tasks handler backed by the scheduler.
func NewTasksHandler(sched *engine.Scheduler) *TasksHandler {
	return &TasksHandler{sched: sched}
}

// AdmitTaskBody is the request body for admitting a single download.
type AdmitTaskBody struct {
	Kind      string   `json:"kind" enum:"movie,episode" doc:"Content kind"`
	ContentID string   `json:"content_id" doc:"Catalog content identifier"`
	Season    int      `json:"season,omitempty" doc:"Season number, episodes only"`
	Episode   int      `json:"episode,omitempty" doc:"Episode number, episodes only"`
	Languages []string `json:"languages,omitempty" doc:"Ordered language preference, first is primary"`
	Quality   string   `json:"quality,omitempty" doc:"best, worst or a height hint like 1080"`
}

// AdmitTaskInput is the input for admitting a single download.
type AdmitTaskInput struct {
	Body AdmitTaskBody
}

// TaskOutput wraps a single task response.
type TaskOutput struct {
	Body models.Task
}

// AdmitSeasonBody is the request body for admitting a whole season.
type AdmitSeasonBody struct {
	ContentID string   `json:"content_id" doc:"Catalog show identifier"`
	Season    int      `json:"season" doc:"Season number"`
	Languages []string `json:"languages,omitempty" doc:"Ordered language preference"`
	Quality   string   `json:"quality,omitempty" doc:"best, worst or a height hint"`
}

// AdmitSeasonInput is the input for admitting a whole season.
type AdmitSeasonInput struct {
	Body AdmitSeasonBody
}

// TaskListBody is the response body listing tasks.
type TaskListBody struct {
	Tasks []*models.Task `json:"tasks"`
}

// TaskListOutput is the output listing tasks.
type TaskListOutput struct {
	Body TaskListBody
}

// TaskIDInput addresses one task by path parameter.
type TaskIDInput struct {
	TaskID string `path:"task_id" doc:"Task ULID"`
}

// ClearCompletedBody reports how many terminal tasks were removed.
type ClearCompletedBody struct {
	Removed int `json:"removed"`
}

// ClearCompletedOutput is the output of the clear operation.
type ClearCompletedOutput struct {
	Body ClearCompletedBody
}

// Register registers the task routes with the API.
func (h *TasksHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "admitTask",
		Method:        "POST",
		Path:          "/api/v1/tasks",
		Summary:       "Admit a download task",
		Description:   "Queues a movie or episode for download and starts it when a slot is free",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
	}, h.AdmitTask)

	huma.Register(api, huma.Operation{
		OperationID:   "admitSeason",
		Method:        "POST",
		Path:          "/api/v1/tasks/season",
		Summary:       "Admit a whole season",
		Description:   "Queues one download task per episode of a season",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
	}, h.AdmitSeason)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Tags:        []string{"Tasks"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Get task",
		Tags:        []string{"Tasks"},
	}, h.GetTask)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "DELETE",
		Path:        "/api/v1/tasks/{task_id}",
		Summary:     "Cancel task",
		Description: "Cancels a task from any non-terminal state. Cancelling a terminal task is a no-op.",
		Tags:        []string{"Tasks"},
	}, h.CancelTask)

	huma.Register(api, huma.Operation{
		OperationID: "clearCompletedTasks",
		Method:      "POST",
		Path:        "/api/v1/tasks/clear-completed",
		Summary:     "Clear terminal tasks",
		Tags:        []string{"Tasks"},
	}, h.ClearCompleted)
}

// AdmitTask queues a single download.
func (h *TasksHandler) AdmitTask(ctx context.Context, input *AdmitTaskInput) (*TaskOutput, error) {
	kind := models.ContentKind(input.Body.Kind)
	if kind != models.KindMovie && kind != models.KindEpisode {
		return nil, huma.Error422UnprocessableEntity("kind must be movie or episode")
	}
	if input.Body.ContentID == "" {
		return nil, huma.Error422UnprocessableEntity("content_id is required")
	}
	if kind == models.KindEpisode && (input.Body.Season <= 0 || input.Body.Episode <= 0) {
		return nil, huma.Error422UnprocessableEntity("season and episode are required for episodes")
	}

	task, err := h.sched.Admit(ctx, engine.AdmitRequest{
		Kind:      kind,
		ContentID: input.Body.ContentID,
		Season:    input.Body.Season,
		Episode:   input.Body.Episode,
		Languages: input.Body.Languages,
		Quality:   input.Body.Quality,
	})
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	return &TaskOutput{Body: *task}, nil
}

// AdmitSeason queues one task per episode of a season.
func (h *TasksHandler) AdmitSeason(ctx context.Context, input *AdmitSeasonInput) (*TaskListOutput, error) {
	if input.Body.ContentID == "" {
		return nil, huma.Error422UnprocessableEntity("content_id is required")
	}
	if input.Body.Season <= 0 {
		return nil, huma.Error422UnprocessableEntity("season is required")
	}

	tasks, err := h.sched.AdmitSeason(ctx, input.Body.ContentID, input.Body.Season, input.Body.Languages, input.Body.Quality)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	return &TaskListOutput{Body: TaskListBody{Tasks: tasks}}, nil
}

// ListTasks returns all tasks in admission order.
func (h *TasksHandler) ListTasks(ctx context.Context, _ *struct{}) (*TaskListOutput, error) {
	tasks := h.sched.List()
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return &TaskListOutput{Body: TaskListBody{Tasks: tasks}}, nil
}

// GetTask returns one task.
func (h *TasksHandler) GetTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid task id")
	}

	task, err := h.sched.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("task not found")
	}
	return &TaskOutput{Body: *task}, nil
}

// CancelTask cancels a task and returns its resulting state.
func (h *TasksHandler) CancelTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid task id")
	}

	if err := h.sched.Cancel(id); err != nil {
		return nil, huma.Error404NotFound("task not found")
	}

	task, err := h.sched.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("task not found")
	}
	return &TaskOutput{Body: *task}, nil
}

// ClearCompleted removes terminal tasks from the list.
func (h *TasksHandler) ClearCompleted(ctx context.Context, _ *struct{}) (*ClearCompletedOutput, error) {
	return &ClearCompletedOutput{Body: ClearCompletedBody{Removed: h.sched.ClearCompleted()}}, nil
}

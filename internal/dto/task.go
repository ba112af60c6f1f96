package dto

import (
	"time"

	"golang-taskrunner/internal/model"
)

type RunningTasksResponse struct {
	Count int            `json:"count"`
	IDs   []model.TaskID `json:"ids"`
}

type CancelTaskResponse struct {
	ID     model.TaskID     `json:"id"`
	Killed bool             `json:"killed"`
	Status model.TaskStatus `json:"status"`
}

type TaskCompletionResponse struct {
	ID            model.TaskID     `json:"id"`
	TaskName      string           `json:"task_name"`
	ExitCode      int              `json:"exit_code"`
	HookSucceeded bool             `json:"hook_succeeded"`
	Status        model.TaskStatus `json:"status"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

func NewTaskCompletionResponse(record model.CompletionRecord) TaskCompletionResponse {
	return TaskCompletionResponse{
		ID:            record.ID,
		TaskName:      record.TaskName,
		ExitCode:      record.ExitCode,
		HookSucceeded: record.HookSucceeded,
		Status:        record.Status,
		StartedAt:     record.StartedAt,
		CompletedAt:   record.CompletedAt,
	}
}

package model

import (
	"time"
)

// TaskExecutionInfo is the mutable record the runtime manipulates for one
// submitted task. ID, Task, Script and LogFile are immutable after
// submission; Status and the dates are written only by the runtime, and
// never again once the status is terminal.
type TaskExecutionInfo struct {
	ID        TaskID
	Task      Task
	Resources Resources
	Script    string
	LogFile   string
	Status    TaskStatus
	StartDate *time.Time
	EndDate   *time.Time
}

// Completion is the per-task tuple reported by a poll sweep.
type Completion struct {
	ExitCode      int  `json:"exit_code"`
	HookSucceeded bool `json:"hook_succeeded"`
}

// CompletionRecord is the archived view of a harvested task, kept for
// status queries and webhook notifications.
type CompletionRecord struct {
	ID            TaskID     `json:"id"`
	TaskName      string     `json:"task_name"`
	ExitCode      int        `json:"exit_code"`
	HookSucceeded bool       `json:"hook_succeeded"`
	Status        TaskStatus `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

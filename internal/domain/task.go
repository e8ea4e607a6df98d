package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SourceType records who created a task.
type SourceType string

const (
	SourceAIGenerated SourceType = "ai_generated"
	SourceUserCreated SourceType = "user_created"
)

// Task is one checklist item owned by a single owner.
type Task struct {
	ID             string
	OwnerID        string
	Title          string
	Description    string
	Category       string
	Priority       Priority
	DueDate        *time.Time
	Status         TaskStatus
	OrderIndex     int
	GenerationStep Stage
	SourceType     SourceType
	Tips           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskDraft is a candidate task returned by the generation service.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    Priority `json:"priority"`
	DueDays     int      `json:"due_days"`
	Tips        string   `json:"tips"`
}

// TaskView is a task as rendered to an owner; masked views carry no content.
type TaskView struct {
	Index    int
	IsMasked bool
	Task     *Task
}

package domain

import "time"

// JobName identifies the worker a queued job is delivered to.
type JobName string

const (
	JobGenerateBasic        JobName = "generate_basic"
	JobGeneratePersonalized JobName = "generate_personalized"
	JobEnhanceTasks         JobName = "enhance_tasks"
)

// JobForStage returns the job that executes stage.
func JobForStage(stage Stage) JobName {
	switch stage {
	case StagePersonalized:
		return JobGeneratePersonalized
	case StageEnhanced:
		return JobEnhanceTasks
	default:
		return JobGenerateBasic
	}
}

// Stage returns the pipeline stage executed by the job, or "" for unknown names.
func (n JobName) Stage() Stage {
	switch n {
	case JobGenerateBasic:
		return StageBasic
	case JobGeneratePersonalized:
		return StagePersonalized
	case JobEnhanceTasks:
		return StageEnhanced
	default:
		return ""
	}
}

// Job is the payload delivered by the job queue.
type Job struct {
	ID         string    `json:"job_id"`
	Name       JobName   `json:"job_name"`
	OwnerID    string    `json:"owner_id"`
	ChannelID  string    `json:"channel_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

package domain

import "time"

// Stage is one phase of the task generation pipeline.
type Stage string

const (
	StageBasic        Stage = "basic"
	StagePersonalized Stage = "personalized"
	StageEnhanced     Stage = "enhanced"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageBasic, StagePersonalized, StageEnhanced}

func (s Stage) Valid() bool {
	switch s {
	case StageBasic, StagePersonalized, StageEnhanced:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single stage for a single owner.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s without a deliberate retrigger.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// GenerationStep is the current record of one stage for one owner.
type GenerationStep struct {
	OwnerID      string
	Stage        Stage
	Status       StepStatus
	Attempt      int
	JobID        string
	ClaimedAt    *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Metadata     map[string]string
	ErrorMessage string
	UpdatedAt    time.Time
}

// Stale reports whether an in-progress step started before cutoff.
func (s GenerationStep) Stale(cutoff time.Time) bool {
	return s.Status == StepInProgress && s.StartedAt != nil && s.StartedAt.Before(cutoff)
}

// StepEvent is one entry of the append-only step audit log.
type StepEvent struct {
	OwnerID      string
	Stage        Stage
	Status       StepStatus
	Attempt      int
	JobID        string
	ErrorMessage string
	At           time.Time
}

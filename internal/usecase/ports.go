package usecase

import (
	"context"
	"time"

	"estate-assistant/internal/domain"
)

// StateStore persists the single current flow state per owner.
type StateStore interface {
	GetFlowState(ctx context.Context, ownerID string) (domain.ConversationState, bool, error)
	PutFlowState(ctx context.Context, state domain.ConversationState) error
	// DeleteFlowState removes the owner's state; a non-empty name only
	// removes it when it is the stored state.
	DeleteFlowState(ctx context.Context, ownerID string, name domain.FlowState) error
}

// StepStartRequest describes a guard-and-set transition to in_progress.
type StepStartRequest struct {
	OwnerID     string
	Stage       domain.Stage
	JobID       string
	Now         time.Time
	StaleBefore time.Time
	// Requires names a stage that must be completed for the start to apply.
	Requires domain.Stage
}

// StepFinishRequest describes the end of a running step.
type StepFinishRequest struct {
	OwnerID      string
	Stage        domain.Stage
	JobID        string
	Status       domain.StepStatus
	Metadata     map[string]string
	ErrorMessage string
	Now          time.Time
}

// StepStore persists one mutable record per (owner, stage) plus an audit log.
type StepStore interface {
	GetStep(ctx context.Context, ownerID string, stage domain.Stage) (domain.GenerationStep, bool, error)
	PutStep(ctx context.Context, step domain.GenerationStep) error
	// TryStartStep atomically moves the step to in_progress unless it is
	// already in_progress (and fresh) or completed. It reports whether the
	// transition happened.
	TryStartStep(ctx context.Context, req StepStartRequest) (domain.GenerationStep, bool, error)
	// ClaimStep marks the in_progress step as picked up by jobID. It fails
	// when the step moved on, belongs to another job or is already claimed.
	ClaimStep(ctx context.Context, ownerID string, stage domain.Stage, jobID string, now, staleBefore time.Time) (bool, error)
	// FinishStep moves the in_progress step owned by JobID to a terminal
	// status. It reports false when the step was reset or handed to another
	// job in the meantime.
	FinishStep(ctx context.Context, req StepFinishRequest) (domain.GenerationStep, bool, error)
	// ResetStep unconditionally starts a new attempt with the given status.
	ResetStep(ctx context.Context, ownerID string, stage domain.Stage, status domain.StepStatus, jobID string, now time.Time) (domain.GenerationStep, error)
	AppendStepEvent(ctx context.Context, ev domain.StepEvent) error
	ListStepEvents(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error)
}

// TaskStore persists an owner's checklist.
type TaskStore interface {
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (domain.Task, error)
	SaveTasks(ctx context.Context, tasks []domain.Task) error
	PutTask(ctx context.Context, task domain.Task) error
	DeleteTasks(ctx context.Context, ownerID string, taskIDs []string) error
	PurgeTasks(ctx context.Context, ownerID string) (int, error)
}

// ChatStore keeps the owner's free-form question history.
type ChatStore interface {
	// RecentChatTurns returns at most limit turns, oldest first.
	RecentChatTurns(ctx context.Context, ownerID string, limit int) ([]domain.ChatTurn, error)
	SaveChatTurn(ctx context.Context, turn domain.ChatTurn, expiresAt time.Time) error
}

// QuestionStore persists follow-up questions.
type QuestionStore interface {
	ListQuestions(ctx context.Context, ownerID string) ([]domain.FollowUpQuestion, error)
	// InsertQuestion reports false when the key already exists for the owner.
	InsertQuestion(ctx context.Context, q domain.FollowUpQuestion) (bool, error)
	// AnswerQuestion reports false when the question was already answered.
	AnswerQuestion(ctx context.Context, ownerID, key, answer string, at time.Time) (bool, error)
}

// UserStore maps channel identities to owners and stores profiles.
type UserStore interface {
	OwnerByChannel(ctx context.Context, channelID string) (string, error)
	// RegisterChannel binds channelID to ownerID unless it is already bound,
	// and returns the bound owner.
	RegisterChannel(ctx context.Context, channelID, ownerID string) (string, error)
	GetProfile(ctx context.Context, ownerID string) (domain.Profile, error)
	PutProfile(ctx context.Context, profile domain.Profile) error
}

// CounterStore keeps per-owner daily request counters.
type CounterStore interface {
	// IncrementDailyCounter atomically adds one and returns the new value.
	IncrementDailyCounter(ctx context.Context, ownerID, day string, expiresAt time.Time) (int, error)
	GetDailyCounter(ctx context.Context, ownerID, day string) (int, error)
}

// EntitlementReader is the read-only billing view.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, ownerID string) (domain.PlanEntitlement, bool, error)
}

// JobQueue delivers named jobs to workers at least once.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Notifier pushes a message to the owner's channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, message string) error
}

// GenerationRequest is what a stage asks the generation service for.
type GenerationRequest struct {
	Stage          domain.Stage
	Profile        domain.Profile
	Answers        map[string]string
	ExistingTitles []string
}

// Generator produces task drafts; it may be slow and may fail.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) ([]domain.TaskDraft, error)
}

// Metrics records pipeline events.
type Metrics interface {
	StepTransition(stage domain.Stage, status domain.StepStatus)
	JobEnqueued(name domain.JobName)
	WorkerOutcome(name domain.JobName, outcome string)
	RateLimitDecision(allowed bool)
}

type nopMetrics struct{}

func (nopMetrics) StepTransition(domain.Stage, domain.StepStatus) {}
func (nopMetrics) JobEnqueued(domain.JobName)                    {}
func (nopMetrics) WorkerOutcome(domain.JobName, string)          {}
func (nopMetrics) RateLimitDecision(bool)                        {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

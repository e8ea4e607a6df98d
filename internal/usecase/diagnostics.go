package usecase

import (
	"context"
	"errors"

	"estate-assistant/internal/domain"
)

// OwnerReport is an operator view of one owner's pipeline.
type OwnerReport struct {
	OwnerID       string
	State         domain.ConversationState
	Steps         []domain.GenerationStep
	TaskCount     int
	Unanswered    int
	RequestsToday int
	Entitlement   domain.PlanEntitlement
}

// Diagnostics answers operator questions about owners.
type Diagnostics struct {
	users     UserStore
	tasks     TaskStore
	questions QuestionStore
	flow      *FlowManager
	steps     *StepTracker
	limiter   *RateLimiter
	gate      *PlanGate
}

func NewDiagnostics(users UserStore, tasks TaskStore, questions QuestionStore, flow *FlowManager, steps *StepTracker, limiter *RateLimiter, gate *PlanGate) (*Diagnostics, error) {
	if users == nil || tasks == nil || questions == nil || flow == nil || steps == nil || limiter == nil || gate == nil {
		return nil, errors.New("usecase: diagnostics dependencies must not be nil")
	}
	return &Diagnostics{users: users, tasks: tasks, questions: questions, flow: flow, steps: steps, limiter: limiter, gate: gate}, nil
}

// OwnerForChannel resolves the owner bound to channelID.
func (d *Diagnostics) OwnerForChannel(ctx context.Context, channelID string) (string, error) {
	ownerID, err := d.users.OwnerByChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", newError(ErrorNotFound, "unknown_channel", nil)
	}
	if err != nil {
		return "", newError(ErrorStore, "owner_lookup_error", err)
	}
	return ownerID, nil
}

func (d *Diagnostics) Report(ctx context.Context, ownerID string) (OwnerReport, error) {
	rep := OwnerReport{
		OwnerID:     ownerID,
		State:       d.flow.State(ctx, ownerID),
		Entitlement: d.gate.Entitlement(ctx, ownerID),
	}
	for _, stage := range domain.Stages {
		step, ok, err := d.steps.Step(ctx, ownerID, stage)
		if err != nil {
			return OwnerReport{}, err
		}
		if !ok {
			step = domain.GenerationStep{OwnerID: ownerID, Stage: stage}
		}
		rep.Steps = append(rep.Steps, step)
	}
	tasks, err := d.tasks.ListTasks(ctx, ownerID)
	if err != nil {
		return OwnerReport{}, newError(ErrorStore, "task_read_error", err)
	}
	rep.TaskCount = len(tasks)
	qs, err := d.questions.ListQuestions(ctx, ownerID)
	if err != nil {
		return OwnerReport{}, newError(ErrorStore, "question_read_error", err)
	}
	for _, q := range qs {
		if !q.IsAnswered {
			rep.Unanswered++
		}
	}
	if rep.RequestsToday, err = d.limiter.CurrentCount(ctx, ownerID); err != nil {
		return OwnerReport{}, err
	}
	return rep, nil
}

// History returns the newest step transitions for (owner, stage).
func (d *Diagnostics) History(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error) {
	if !stage.Valid() {
		return nil, newError(ErrorInvalidInput, "unknown_stage", nil)
	}
	return d.steps.History(ctx, ownerID, stage, limit)
}

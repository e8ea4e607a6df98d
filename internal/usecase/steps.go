package usecase

import (
	"context"
	"errors"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const defaultStaleAfter = 30 * time.Minute

// StepTracker records per-owner, per-stage generation status and guards stage starts.
type StepTracker struct {
	store      StepStore
	questions  QuestionStore
	metrics    Metrics
	staleAfter time.Duration
	now        func() time.Time
}

func NewStepTracker(store StepStore, questions QuestionStore, metrics Metrics, staleAfter time.Duration) (*StepTracker, error) {
	if store == nil {
		return nil, errors.New("usecase: step store must not be nil")
	}
	if questions == nil {
		return nil, errors.New("usecase: question store must not be nil")
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &StepTracker{
		store:      store,
		questions:  questions,
		metrics:    metricsOrNop(metrics),
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

func (t *StepTracker) staleBefore() time.Time {
	return t.now().Add(-t.staleAfter)
}

// Step returns the current record for (owner, stage).
func (t *StepTracker) Step(ctx context.Context, ownerID string, stage domain.Stage) (domain.GenerationStep, bool, error) {
	step, ok, err := t.store.GetStep(ctx, ownerID, stage)
	if err != nil {
		return domain.GenerationStep{}, false, newError(ErrorStore, "step_read_error", err)
	}
	return step, ok, nil
}

// Status returns the stage status, or "" when the stage never ran.
func (t *StepTracker) Status(ctx context.Context, ownerID string, stage domain.Stage) (domain.StepStatus, error) {
	step, ok, err := t.Step(ctx, ownerID, stage)
	if err != nil || !ok {
		return "", err
	}
	return step.Status, nil
}

// SetStatus updates the stage record in place, or creates it.
// in_progress stamps started_at; completed and failed stamp completed_at.
func (t *StepTracker) SetStatus(ctx context.Context, ownerID string, stage domain.Stage, status domain.StepStatus, metadata map[string]string, errMsg string) error {
	if !status.Valid() {
		return newError(ErrorInvalidInput, "unknown_step_status", nil)
	}
	step, ok, err := t.store.GetStep(ctx, ownerID, stage)
	if err != nil {
		return newError(ErrorStore, "step_read_error", err)
	}
	now := t.now()
	if !ok {
		step = domain.GenerationStep{OwnerID: ownerID, Stage: stage, Attempt: 1}
	}
	step.Status = status
	switch status {
	case domain.StepInProgress:
		step.StartedAt = &now
		step.CompletedAt = nil
	case domain.StepCompleted, domain.StepFailed:
		step.CompletedAt = &now
	}
	if metadata != nil {
		step.Metadata = metadata
	}
	if errMsg != "" {
		step.ErrorMessage = errMsg
	}
	step.UpdatedAt = now
	if err := t.store.PutStep(ctx, step); err != nil {
		return newError(ErrorStore, "step_write_error", err)
	}
	t.record(ctx, step)
	return nil
}

// ShouldStartPersonalized is true iff basic completed, every follow-up
// question is answered and personalized is neither completed nor running.
func (t *StepTracker) ShouldStartPersonalized(ctx context.Context, ownerID string) (bool, error) {
	basic, err := t.Status(ctx, ownerID, domain.StageBasic)
	if err != nil {
		return false, err
	}
	if basic != domain.StepCompleted {
		return false, nil
	}
	answered, err := t.AllQuestionsAnswered(ctx, ownerID)
	if err != nil || !answered {
		return false, err
	}
	return t.startable(ctx, ownerID, domain.StagePersonalized)
}

// ShouldStartEnhanced is true iff personalized completed and enhanced is
// neither completed nor running.
func (t *StepTracker) ShouldStartEnhanced(ctx context.Context, ownerID string) (bool, error) {
	personalized, err := t.Status(ctx, ownerID, domain.StagePersonalized)
	if err != nil {
		return false, err
	}
	if personalized != domain.StepCompleted {
		return false, nil
	}
	return t.startable(ctx, ownerID, domain.StageEnhanced)
}

func (t *StepTracker) startable(ctx context.Context, ownerID string, stage domain.Stage) (bool, error) {
	step, ok, err := t.Step(ctx, ownerID, stage)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	switch step.Status {
	case domain.StepCompleted:
		return false, nil
	case domain.StepInProgress:
		return step.Stale(t.staleBefore()), nil
	default:
		return true, nil
	}
}

// AllQuestionsAnswered is true iff no follow-up question is unanswered.
func (t *StepTracker) AllQuestionsAnswered(ctx context.Context, ownerID string) (bool, error) {
	qs, err := t.questions.ListQuestions(ctx, ownerID)
	if err != nil {
		return false, newError(ErrorStore, "question_read_error", err)
	}
	for _, q := range qs {
		if !q.IsAnswered {
			return false, nil
		}
	}
	return true, nil
}

// TryStart performs the guard-and-set to in_progress for a new job.
// requires, when set, must be completed in the same atomic write.
func (t *StepTracker) TryStart(ctx context.Context, ownerID string, stage, requires domain.Stage, jobID string) (domain.GenerationStep, bool, error) {
	step, ok, err := t.store.TryStartStep(ctx, StepStartRequest{
		OwnerID:     ownerID,
		Stage:       stage,
		JobID:       jobID,
		Now:         t.now(),
		StaleBefore: t.staleBefore(),
		Requires:    requires,
	})
	if err != nil {
		return domain.GenerationStep{}, false, newError(ErrorStore, "step_start_error", err)
	}
	if ok {
		t.record(ctx, step)
	}
	return step, ok, nil
}

// Claim marks the step as picked up by jobID; false means a duplicate delivery.
func (t *StepTracker) Claim(ctx context.Context, ownerID string, stage domain.Stage, jobID string) (bool, error) {
	ok, err := t.store.ClaimStep(ctx, ownerID, stage, jobID, t.now(), t.staleBefore())
	if err != nil {
		return false, newError(ErrorStore, "step_claim_error", err)
	}
	return ok, nil
}

// Complete ends jobID's attempt as completed. False means the step was reset
// or taken over by another job after the claim.
func (t *StepTracker) Complete(ctx context.Context, ownerID string, stage domain.Stage, jobID string, metadata map[string]string) (bool, error) {
	return t.finish(ctx, StepFinishRequest{
		OwnerID:  ownerID,
		Stage:    stage,
		JobID:    jobID,
		Status:   domain.StepCompleted,
		Metadata: metadata,
	})
}

// Fail ends jobID's attempt as failed, with the same fencing as Complete.
func (t *StepTracker) Fail(ctx context.Context, ownerID string, stage domain.Stage, jobID, errMsg string) (bool, error) {
	return t.finish(ctx, StepFinishRequest{
		OwnerID:      ownerID,
		Stage:        stage,
		JobID:        jobID,
		Status:       domain.StepFailed,
		ErrorMessage: errMsg,
	})
}

func (t *StepTracker) finish(ctx context.Context, req StepFinishRequest) (bool, error) {
	req.Now = t.now()
	step, ok, err := t.store.FinishStep(ctx, req)
	if err != nil {
		return false, newError(ErrorStore, "step_finish_error", err)
	}
	if ok {
		t.record(ctx, step)
	}
	return ok, nil
}

// Reset starts a fresh attempt regardless of the current status.
func (t *StepTracker) Reset(ctx context.Context, ownerID string, stage domain.Stage, status domain.StepStatus, jobID string) (domain.GenerationStep, error) {
	step, err := t.store.ResetStep(ctx, ownerID, stage, status, jobID, t.now())
	if err != nil {
		return domain.GenerationStep{}, newError(ErrorStore, "step_reset_error", err)
	}
	t.record(ctx, step)
	return step, nil
}

// History returns the newest audit events for (owner, stage).
func (t *StepTracker) History(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error) {
	evs, err := t.store.ListStepEvents(ctx, ownerID, stage, limit)
	if err != nil {
		return nil, newError(ErrorStore, "step_history_error", err)
	}
	return evs, nil
}

// record appends the audit event; the log is best effort.
func (t *StepTracker) record(ctx context.Context, step domain.GenerationStep) {
	t.metrics.StepTransition(step.Stage, step.Status)
	log := observability.LoggerFromContext(ctx)
	log.Info("generation step transition",
		"stage", step.Stage, "status", step.Status, "attempt", step.Attempt)
	err := t.store.AppendStepEvent(ctx, domain.StepEvent{
		OwnerID:      step.OwnerID,
		Stage:        step.Stage,
		Status:       step.Status,
		Attempt:      step.Attempt,
		JobID:        step.JobID,
		ErrorMessage: step.ErrorMessage,
		At:           t.now(),
	})
	if err != nil {
		log.Warn("step audit append failed", "stage", step.Stage, "err", err)
	}
}

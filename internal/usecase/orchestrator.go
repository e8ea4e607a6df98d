package usecase

import (
	"context"
	"errors"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

// Orchestrator triggers pipeline stages. Stage work runs in workers reached
// through the job queue, never inline.
type Orchestrator struct {
	flow    *FlowManager
	steps   *StepTracker
	tasks   TaskStore
	users   UserStore
	queue   JobQueue
	metrics Metrics
	now     func() time.Time
}

func NewOrchestrator(flow *FlowManager, steps *StepTracker, tasks TaskStore, users UserStore, queue JobQueue, metrics Metrics) (*Orchestrator, error) {
	switch {
	case flow == nil:
		return nil, errors.New("usecase: flow manager must not be nil")
	case steps == nil:
		return nil, errors.New("usecase: step tracker must not be nil")
	case tasks == nil:
		return nil, errors.New("usecase: task store must not be nil")
	case users == nil:
		return nil, errors.New("usecase: user store must not be nil")
	case queue == nil:
		return nil, errors.New("usecase: job queue must not be nil")
	}
	return &Orchestrator{
		flow:    flow,
		steps:   steps,
		tasks:   tasks,
		users:   users,
		queue:   queue,
		metrics: metricsOrNop(metrics),
		now:     time.Now,
	}, nil
}

// TriggerBasic starts Stage 1. It reports false without error when the stage
// is already running or completed.
func (o *Orchestrator) TriggerBasic(ctx context.Context, ownerID, channelID string) (bool, error) {
	ctx = withOwnerLogger(ctx, ownerID)
	profile, err := o.users.GetProfile(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, newError(ErrorPreconditionFailed, "profile_missing", nil)
	}
	if err != nil {
		return false, newError(ErrorStore, "profile_read_error", err)
	}
	if !profile.Complete() {
		return false, newError(ErrorPreconditionFailed, "profile_incomplete", nil)
	}
	started, err := o.start(ctx, ownerID, channelID, domain.StageBasic, "")
	if err != nil || !started {
		return started, err
	}
	if err := o.flow.ClearState(ctx, ownerID); err != nil {
		observability.LoggerFromContext(ctx).Warn("flow state clear failed", "err", err)
	}
	return true, nil
}

// TriggerPersonalized starts Stage 2 once Basic completed and every
// follow-up question is answered.
func (o *Orchestrator) TriggerPersonalized(ctx context.Context, ownerID, channelID string) (bool, error) {
	ctx = withOwnerLogger(ctx, ownerID)
	basic, err := o.steps.Status(ctx, ownerID, domain.StageBasic)
	if err != nil {
		return false, err
	}
	if basic != domain.StepCompleted {
		return false, o.reject(ctx, ownerID, domain.StagePersonalized, "basic_not_completed")
	}
	answered, err := o.steps.AllQuestionsAnswered(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if !answered {
		return false, o.reject(ctx, ownerID, domain.StagePersonalized, "questions_unanswered")
	}
	started, err := o.start(ctx, ownerID, channelID, domain.StagePersonalized, domain.StageBasic)
	if err != nil || !started {
		return started, err
	}
	o.setFlow(ctx, ownerID, domain.FlowPersonalizedTasksGenerating)
	return true, nil
}

// TriggerEnhanced starts Stage 3 once Personalized completed.
func (o *Orchestrator) TriggerEnhanced(ctx context.Context, ownerID, channelID string) (bool, error) {
	ctx = withOwnerLogger(ctx, ownerID)
	personalized, err := o.steps.Status(ctx, ownerID, domain.StagePersonalized)
	if err != nil {
		return false, err
	}
	if personalized != domain.StepCompleted {
		return false, o.reject(ctx, ownerID, domain.StageEnhanced, "personalized_not_completed")
	}
	started, err := o.start(ctx, ownerID, channelID, domain.StageEnhanced, domain.StagePersonalized)
	if err != nil || !started {
		return started, err
	}
	o.setFlow(ctx, ownerID, domain.FlowEnhancedTasksGenerating)
	return true, nil
}

// Regenerate purges the owner's tasks and restarts the pipeline from Basic,
// bypassing the stage guards. Steps are reset before the purge, so a job of
// the previous attempt can no longer complete and anything it saved earlier
// is purged.
func (o *Orchestrator) Regenerate(ctx context.Context, ownerID, channelID string) error {
	ctx = withOwnerLogger(ctx, ownerID)
	profile, err := o.users.GetProfile(ctx, ownerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorStore, "profile_read_error", err)
	}
	if !profile.Complete() {
		return newError(ErrorPreconditionFailed, "profile_incomplete", nil)
	}
	jobID := newUUID()
	step, err := o.steps.Reset(ctx, ownerID, domain.StageBasic, domain.StepInProgress, jobID)
	if err != nil {
		return err
	}
	for _, stage := range []domain.Stage{domain.StagePersonalized, domain.StageEnhanced} {
		if _, err := o.steps.Reset(ctx, ownerID, stage, domain.StepPending, ""); err != nil {
			return err
		}
	}
	purged, err := o.tasks.PurgeTasks(ctx, ownerID)
	if err != nil {
		o.failStep(ctx, ownerID, step.Stage, jobID, "task purge failed: "+err.Error())
		return newError(ErrorStore, "task_purge_error", err)
	}
	if err := o.flow.ClearState(ctx, ownerID); err != nil {
		o.failStep(ctx, ownerID, step.Stage, jobID, "flow state clear failed: "+err.Error())
		return err
	}
	observability.LoggerFromContext(ctx).Info("pipeline regenerated",
		"purged_tasks", purged, "attempt", step.Attempt)
	return o.enqueue(ctx, ownerID, channelID, step, jobID)
}

func (o *Orchestrator) start(ctx context.Context, ownerID, channelID string, stage, requires domain.Stage) (bool, error) {
	jobID := newUUID()
	step, ok, err := o.steps.TryStart(ctx, ownerID, stage, requires, jobID)
	if err != nil {
		return false, err
	}
	if !ok {
		observability.LoggerFromContext(ctx).Info("stage already running or completed", "stage", stage)
		return false, nil
	}
	if err := o.enqueue(ctx, ownerID, channelID, step, jobID); err != nil {
		return false, err
	}
	return true, nil
}

// enqueue sends the stage job; a failed send fails the step so it can be
// retriggered.
func (o *Orchestrator) enqueue(ctx context.Context, ownerID, channelID string, step domain.GenerationStep, jobID string) error {
	job := domain.Job{
		ID:         jobID,
		Name:       domain.JobForStage(step.Stage),
		OwnerID:    ownerID,
		ChannelID:  channelID,
		Attempt:    step.Attempt,
		EnqueuedAt: o.now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		o.failStep(ctx, ownerID, step.Stage, jobID, "enqueue failed: "+err.Error())
		return newError(ErrorInternal, "job_enqueue_error", err)
	}
	o.metrics.JobEnqueued(job.Name)
	observability.LoggerFromContext(ctx).Info("job enqueued",
		"job_id", job.ID, "job_name", job.Name, "attempt", job.Attempt)
	return nil
}

// failStep fails the attempt started for jobID so the stage can be
// retriggered. A step that already moved on is left alone.
func (o *Orchestrator) failStep(ctx context.Context, ownerID string, stage domain.Stage, jobID, reason string) {
	if _, err := o.steps.Fail(ctx, ownerID, stage, jobID, reason); err != nil {
		observability.LoggerFromContext(ctx).Error("step fail mark failed", "stage", stage, "err", err)
	}
}

func (o *Orchestrator) reject(ctx context.Context, ownerID string, stage domain.Stage, reason string) error {
	observability.LoggerFromContext(ctx).Info("stage trigger rejected",
		"stage", stage, "reason", reason)
	return newError(ErrorPreconditionFailed, reason, nil)
}

func (o *Orchestrator) setFlow(ctx context.Context, ownerID string, name domain.FlowState) {
	if err := o.flow.SetState(ctx, ownerID, name, nil, 0); err != nil {
		observability.LoggerFromContext(ctx).Warn("flow state write failed",
			"state", name, "err", err)
	}
}

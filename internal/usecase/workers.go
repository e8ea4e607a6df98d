package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const (
	defaultDueDays    = 30
	tipsHeading       = "[Experiences and reviews]"
	summaryCategory   = "summary"
	generationFailMsg = "Sorry, we could not prepare your task list this time. Please try again later."

	outcomeCompleted  = "completed"
	outcomeDuplicate  = "duplicate"
	outcomeFailed     = "failed"
	outcomeRejected   = "rejected"
	outcomeSuperseded = "superseded"
)

// errSuperseded reports that the step was reset or handed to another job
// while this one ran. Its writes have been undone.
var errSuperseded = errors.New("usecase: step superseded")

// Workers execute queued stage jobs.
type Workers struct {
	guard     *OwnershipGuard
	steps     *StepTracker
	orch      *Orchestrator
	flow      *FlowManager
	questions *QuestionCatalog
	tasks     TaskStore
	users     UserStore
	gen       Generator
	notifier  Notifier
	metrics   Metrics
	now       func() time.Time
}

type WorkerDeps struct {
	Guard        *OwnershipGuard
	Steps        *StepTracker
	Orchestrator *Orchestrator
	Flow         *FlowManager
	Questions    *QuestionCatalog
	Tasks        TaskStore
	Users        UserStore
	Generator    Generator
	Notifier     Notifier
	Metrics      Metrics
}

func NewWorkers(d WorkerDeps) (*Workers, error) {
	switch {
	case d.Guard == nil:
		return nil, errors.New("usecase: ownership guard must not be nil")
	case d.Steps == nil:
		return nil, errors.New("usecase: step tracker must not be nil")
	case d.Orchestrator == nil:
		return nil, errors.New("usecase: orchestrator must not be nil")
	case d.Flow == nil:
		return nil, errors.New("usecase: flow manager must not be nil")
	case d.Questions == nil:
		return nil, errors.New("usecase: question catalog must not be nil")
	case d.Tasks == nil:
		return nil, errors.New("usecase: task store must not be nil")
	case d.Users == nil:
		return nil, errors.New("usecase: user store must not be nil")
	case d.Generator == nil:
		return nil, errors.New("usecase: generator must not be nil")
	case d.Notifier == nil:
		return nil, errors.New("usecase: notifier must not be nil")
	}
	return &Workers{
		guard:     d.Guard,
		steps:     d.Steps,
		orch:      d.Orchestrator,
		flow:      d.Flow,
		questions: d.Questions,
		tasks:     d.Tasks,
		users:     d.Users,
		gen:       d.Generator,
		notifier:  d.Notifier,
		metrics:   metricsOrNop(d.Metrics),
		now:       time.Now,
	}, nil
}

// Run executes one delivery of job. Re-deliveries of a job that was already
// picked up return nil without writing anything.
func (w *Workers) Run(ctx context.Context, job domain.Job) error {
	stage := job.Name.Stage()
	if stage == "" {
		return newError(ErrorInvalidInput, "unknown_job", nil)
	}
	ctx = withOwnerLogger(ctx, job.OwnerID)
	log := observability.LoggerFromContext(ctx).With("job_id", job.ID, "job_name", job.Name)
	ctx = observability.WithLogger(ctx, log)

	if err := w.guard.Verify(ctx, job); err != nil {
		w.metrics.WorkerOutcome(job.Name, outcomeRejected)
		log.Warn("job rejected", "err", err)
		return err
	}
	claimed, err := w.steps.Claim(ctx, job.OwnerID, stage, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		w.metrics.WorkerOutcome(job.Name, outcomeDuplicate)
		log.Info("job already handled, skipping")
		return nil
	}

	var message string
	switch stage {
	case domain.StageBasic:
		message, err = w.runBasic(ctx, job)
	case domain.StagePersonalized:
		message, err = w.runPersonalized(ctx, job)
	case domain.StageEnhanced:
		message, err = w.runEnhanced(ctx, job)
	}
	if errors.Is(err, errSuperseded) {
		w.metrics.WorkerOutcome(job.Name, outcomeSuperseded)
		log.Warn("step moved on while the job ran, result discarded", "stage", stage)
		return nil
	}
	if err != nil {
		return w.fail(ctx, job, stage, err)
	}
	w.metrics.WorkerOutcome(job.Name, outcomeCompleted)
	w.notify(ctx, job.ChannelID, message)

	w.chain(ctx, job, stage)
	return nil
}

func (w *Workers) runBasic(ctx context.Context, job domain.Job) (string, error) {
	profile, err := w.users.GetProfile(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	drafts, err := w.gen.Generate(ctx, GenerationRequest{Stage: domain.StageBasic, Profile: profile})
	if err != nil {
		return "", err
	}
	saved, err := w.saveDrafts(ctx, profile, domain.StageBasic, drafts, 0)
	if err != nil {
		return "", err
	}
	rollback := func(cause error) (string, error) {
		w.rollback(ctx, job.OwnerID, saved)
		return "", cause
	}
	if _, err := w.questions.Seed(ctx, profile); err != nil {
		return rollback(err)
	}
	next, pending, err := w.questions.Next(ctx, job.OwnerID)
	if err != nil {
		return rollback(err)
	}
	flowState := domain.FlowBasicTasksGenerated
	if pending {
		flowState = domain.FlowAwaitingFollowUpAnswers
	}
	if err := w.flow.SetState(ctx, job.OwnerID, flowState, nil, 0); err != nil {
		return rollback(err)
	}
	meta := map[string]string{"task_count": strconv.Itoa(len(saved))}
	if err := w.complete(ctx, job, domain.StageBasic, meta, flowState); err != nil {
		return rollback(err)
	}
	msg := fmt.Sprintf("Your basic checklist is ready with %d tasks.", len(saved))
	if pending {
		msg += " A few questions will help us tailor it.\n\n" + next.Text
	}
	return msg, nil
}

func (w *Workers) runPersonalized(ctx context.Context, job domain.Job) (string, error) {
	profile, err := w.users.GetProfile(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	answers, err := w.questions.Answers(ctx, job.OwnerID)
	if err != nil {
		return "", err
	}
	existing, err := w.tasks.ListTasks(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	drafts, err := w.gen.Generate(ctx, GenerationRequest{
		Stage:          domain.StagePersonalized,
		Profile:        profile,
		Answers:        answers,
		ExistingTitles: taskTitles(existing),
	})
	if err != nil {
		return "", err
	}
	saved, err := w.saveDrafts(ctx, profile, domain.StagePersonalized, drafts, nextOrderIndex(existing))
	if err != nil {
		return "", err
	}
	if err := w.flow.SetState(ctx, job.OwnerID, domain.FlowPersonalizedTasksGenerated, nil, 0); err != nil {
		w.rollback(ctx, job.OwnerID, saved)
		return "", err
	}
	meta := map[string]string{"task_count": strconv.Itoa(len(saved))}
	if err := w.complete(ctx, job, domain.StagePersonalized, meta, domain.FlowPersonalizedTasksGenerated); err != nil {
		w.rollback(ctx, job.OwnerID, saved)
		return "", err
	}
	return fmt.Sprintf("Thanks for your answers. We added %d tasks for your situation.", len(saved)), nil
}

func (w *Workers) runEnhanced(ctx context.Context, job domain.Job) (string, error) {
	profile, err := w.users.GetProfile(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	answers, err := w.questions.Answers(ctx, job.OwnerID)
	if err != nil {
		return "", err
	}
	existing, err := w.tasks.ListTasks(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	drafts, err := w.gen.Generate(ctx, GenerationRequest{
		Stage:          domain.StageEnhanced,
		Profile:        profile,
		Answers:        answers,
		ExistingTitles: taskTitles(existing),
	})
	if err != nil {
		return "", err
	}
	updated, summary := mergeTips(existing, drafts)
	var summaryTasks []domain.Task
	if summary != nil {
		summaryTasks = buildTasks(profile, domain.StageEnhanced, []domain.TaskDraft{*summary}, nextOrderIndex(existing), w.now())
		summaryTasks[0].Category = summaryCategory
		updated = append(updated, summaryTasks[0])
	}
	if len(updated) > 0 {
		if err := w.tasks.SaveTasks(ctx, updated); err != nil {
			return "", fmt.Errorf("save tasks: %w", err)
		}
	}
	if err := w.flow.SetState(ctx, job.OwnerID, domain.FlowCompleted, nil, 0); err != nil {
		return "", err
	}
	enhanced := len(updated)
	if summary != nil {
		enhanced--
	}
	meta := map[string]string{
		"enhanced_count": strconv.Itoa(enhanced),
		"summary_added":  strconv.FormatBool(summary != nil),
	}
	if err := w.complete(ctx, job, domain.StageEnhanced, meta, domain.FlowCompleted); err != nil {
		if errors.Is(err, errSuperseded) {
			w.undoTips(ctx, job, existing, updated, summaryTasks)
		}
		return "", err
	}
	return "Your checklist now includes practical tips from others who went through the same procedures.", nil
}

// chain triggers the stage that follows a successful one.
func (w *Workers) chain(ctx context.Context, job domain.Job, stage domain.Stage) {
	var err error
	switch stage {
	case domain.StageBasic:
		if w.flow.CurrentState(ctx, job.OwnerID) == domain.FlowBasicTasksGenerated {
			_, err = w.orch.TriggerPersonalized(ctx, job.OwnerID, job.ChannelID)
		}
	case domain.StagePersonalized:
		_, err = w.orch.TriggerEnhanced(ctx, job.OwnerID, job.ChannelID)
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Error("next stage trigger failed", "stage", stage, "err", err)
	}
}

// complete finishes the job's step. When the step moved on in the meantime
// the flow state this job wrote is withdrawn and errSuperseded is returned.
func (w *Workers) complete(ctx context.Context, job domain.Job, stage domain.Stage, meta map[string]string, written domain.FlowState) error {
	ok, err := w.steps.Complete(ctx, job.OwnerID, stage, job.ID, meta)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := w.flow.ClearState(ctx, job.OwnerID, written); err != nil {
		observability.LoggerFromContext(ctx).Warn("flow state withdraw failed", "state", written, "err", err)
	}
	return errSuperseded
}

// undoTips reverts an enhanced merge whose step moved on. After a
// regeneration every task it wrote goes; otherwise the previous versions
// are restored.
func (w *Workers) undoTips(ctx context.Context, job domain.Job, existing, updated, summary []domain.Task) {
	step, ok, err := w.steps.Step(ctx, job.OwnerID, domain.StageEnhanced)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("tip rollback skipped", "err", err)
		return
	}
	if ok && step.Status == domain.StepPending {
		w.rollback(ctx, job.OwnerID, updated)
		return
	}
	w.rollback(ctx, job.OwnerID, summary)
	byID := make(map[string]domain.Task, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
	}
	var previous []domain.Task
	for _, t := range updated {
		if orig, ok := byID[t.ID]; ok {
			previous = append(previous, orig)
		}
	}
	if len(previous) == 0 {
		return
	}
	if err := w.tasks.SaveTasks(ctx, previous); err != nil {
		observability.LoggerFromContext(ctx).Error("tip rollback failed", "count", len(previous), "err", err)
	}
}

// fail records the failure durably and tells the user. Generation failures
// are not retried by the queue. A job whose step already moved on is acked
// silently.
func (w *Workers) fail(ctx context.Context, job domain.Job, stage domain.Stage, cause error) error {
	log := observability.LoggerFromContext(ctx)
	log.Error("stage failed", "stage", stage, "err", cause)
	ok, err := w.steps.Fail(ctx, job.OwnerID, stage, job.ID, cause.Error())
	if err != nil {
		log.Error("step fail mark failed", "stage", stage, "err", err)
	}
	if err == nil && !ok {
		w.metrics.WorkerOutcome(job.Name, outcomeSuperseded)
		log.Warn("step moved on while the job ran, failure discarded", "stage", stage)
		return nil
	}
	w.metrics.WorkerOutcome(job.Name, outcomeFailed)
	w.notify(ctx, job.ChannelID, generationFailMsg)
	return newError(ErrorUpstream, string(stage)+"_generation_failed", cause)
}

func (w *Workers) notify(ctx context.Context, channelID, message string) {
	if err := w.notifier.Notify(ctx, channelID, message); err != nil {
		observability.LoggerFromContext(ctx).Warn("notification failed", "err", err)
	}
}

func (w *Workers) saveDrafts(ctx context.Context, profile domain.Profile, stage domain.Stage, drafts []domain.TaskDraft, start int) ([]domain.Task, error) {
	tasks := buildTasks(profile, stage, drafts, start, w.now())
	if len(tasks) == 0 {
		return nil, nil
	}
	if err := w.tasks.SaveTasks(ctx, tasks); err != nil {
		w.rollback(ctx, profile.OwnerID, tasks)
		return nil, fmt.Errorf("save tasks: %w", err)
	}
	return tasks, nil
}

// rollback removes tasks written by a stage that did not complete.
func (w *Workers) rollback(ctx context.Context, ownerID string, tasks []domain.Task) {
	if len(tasks) == 0 {
		return
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	if err := w.tasks.DeleteTasks(ctx, ownerID, ids); err != nil {
		observability.LoggerFromContext(ctx).Error("task rollback failed", "count", len(ids), "err", err)
	}
}

func buildTasks(profile domain.Profile, stage domain.Stage, drafts []domain.TaskDraft, start int, now time.Time) []domain.Task {
	out := make([]domain.Task, 0, len(drafts))
	for _, d := range drafts {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			continue
		}
		t := domain.Task{
			ID:             newUUID(),
			OwnerID:        profile.OwnerID,
			Title:          title,
			Description:    strings.TrimSpace(d.Description),
			Category:       d.Category,
			Priority:       normalizePriority(d.Priority),
			Status:         domain.TaskPending,
			OrderIndex:     start + len(out),
			GenerationStep: stage,
			SourceType:     domain.SourceAIGenerated,
			Tips:           strings.TrimSpace(d.Tips),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if profile.ReferenceDate != nil {
			days := d.DueDays
			if days <= 0 {
				days = defaultDueDays
			}
			due := profile.ReferenceDate.AddDate(0, 0, days)
			t.DueDate = &due
		}
		out = append(out, t)
	}
	return out
}

// mergeTips appends draft tips to the tasks whose titles match, and returns
// the first unmatched draft as a summary task candidate.
func mergeTips(tasks []domain.Task, drafts []domain.TaskDraft) ([]domain.Task, *domain.TaskDraft) {
	var (
		updated []domain.Task
		summary *domain.TaskDraft
		touched = make(map[string]int)
	)
	for i := range drafts {
		d := drafts[i]
		title := strings.TrimSpace(d.Title)
		tips := strings.TrimSpace(d.Tips)
		if title == "" {
			continue
		}
		idx := matchTask(tasks, title)
		if idx < 0 {
			if summary == nil && (tips != "" || strings.TrimSpace(d.Description) != "") {
				summary = &d
			}
			continue
		}
		if tips == "" {
			continue
		}
		t := tasks[idx]
		if pos, ok := touched[t.ID]; ok {
			t = updated[pos]
		}
		if t.Tips != "" {
			t.Tips += "\n\n"
		}
		t.Tips += tipsHeading + "\n" + tips
		if pos, ok := touched[t.ID]; ok {
			updated[pos] = t
		} else {
			touched[t.ID] = len(updated)
			updated = append(updated, t)
		}
	}
	return updated, summary
}

func matchTask(tasks []domain.Task, title string) int {
	for i, t := range tasks {
		if strings.Contains(t.Title, title) || strings.Contains(title, t.Title) {
			return i
		}
	}
	return -1
}

func taskTitles(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func nextOrderIndex(tasks []domain.Task) int {
	next := 0
	for _, t := range tasks {
		if t.OrderIndex >= next {
			next = t.OrderIndex + 1
		}
	}
	return next
}

func normalizePriority(p domain.Priority) domain.Priority {
	switch domain.Priority(strings.ToLower(string(p))) {
	case domain.PriorityHigh:
		return domain.PriorityHigh
	case domain.PriorityLow:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}

package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const (
	helpMessage = "Send \"tasks\" to see your checklist, \"all tasks\" to include finished ones, " +
		"\"complete 1\" to mark the first task done and \"settings\" to review your details or plan."
	rateLimitedMessage     = "You have reached today's message limit. Please continue tomorrow."
	offTopicMessage        = "I can only help with the procedures after a death and your checklist. Send \"help\" to see what I can do."
	questionTooLongMessage = "Your question is too long. Please shorten it and send it again."
	askUnavailableMessage  = "I cannot answer questions right now. Please try again in a little while."
	generatingMessage      = "We are still preparing your checklist. We will message you as soon as it is ready."
	personalizingMessage   = "Thank you for your answers. We are adding tasks for your situation and will message you when they are ready."
)

// Moderator screens user-supplied text.
type Moderator interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

// Asker answers free-form questions once the owner has a checklist.
type Asker interface {
	Ask(ctx context.Context, in AskInput) (AskOutput, error)
}

// Assistant turns inbound channel events into replies, driving the flow
// state and the pipeline.
type Assistant struct {
	users     UserStore
	tasks     TaskStore
	flow      *FlowManager
	steps     *StepTracker
	orch      *Orchestrator
	questions *QuestionCatalog
	gate      *PlanGate
	limiter   *RateLimiter
	moderator Moderator
	asker     Asker
	now       func() time.Time
}

type AssistantDeps struct {
	Users        UserStore
	Tasks        TaskStore
	Flow         *FlowManager
	Steps        *StepTracker
	Orchestrator *Orchestrator
	Questions    *QuestionCatalog
	Gate         *PlanGate
	Limiter      *RateLimiter
	// Moderator is optional; custom tasks are not screened without it.
	Moderator Moderator
	// Asker is optional; without it unmatched text gets the help message.
	Asker Asker
}

func NewAssistant(d AssistantDeps) (*Assistant, error) {
	switch {
	case d.Users == nil:
		return nil, errors.New("usecase: user store must not be nil")
	case d.Tasks == nil:
		return nil, errors.New("usecase: task store must not be nil")
	case d.Flow == nil:
		return nil, errors.New("usecase: flow manager must not be nil")
	case d.Steps == nil:
		return nil, errors.New("usecase: step tracker must not be nil")
	case d.Orchestrator == nil:
		return nil, errors.New("usecase: orchestrator must not be nil")
	case d.Questions == nil:
		return nil, errors.New("usecase: question catalog must not be nil")
	case d.Gate == nil:
		return nil, errors.New("usecase: plan gate must not be nil")
	case d.Limiter == nil:
		return nil, errors.New("usecase: rate limiter must not be nil")
	}
	return &Assistant{
		users:     d.Users,
		tasks:     d.Tasks,
		flow:      d.Flow,
		steps:     d.Steps,
		orch:      d.Orchestrator,
		questions: d.Questions,
		gate:      d.Gate,
		limiter:   d.Limiter,
		moderator: d.Moderator,
		asker:     d.Asker,
		now:       time.Now,
	}, nil
}

// session is the per-event context passed between handlers.
type session struct {
	ownerID   string
	channelID string
}

// HandleEvent handles one inbound event. User mistakes are answered with a
// reply; only store and pipeline failures are returned as errors.
func (a *Assistant) HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.Reply, error) {
	channelID := strings.TrimSpace(ev.ChannelID)
	if channelID == "" {
		return domain.Reply{}, newError(ErrorInvalidInput, "missing_channel_id", nil)
	}
	ownerID, err := a.resolveOwner(ctx, channelID)
	if err != nil {
		return domain.Reply{}, err
	}
	s := session{ownerID: ownerID, channelID: channelID}
	ctx = withOwnerLogger(ctx, ownerID)

	if ev.Kind == domain.EventFollow {
		return a.welcome(ctx, s)
	}

	category := classify(ev)
	if !a.limiter.CheckAndIncrement(ctx, ownerID, category) {
		return domain.TextReply(rateLimitedMessage), nil
	}
	switch category {
	case CategoryHelp:
		return domain.TextReply(helpMessage), nil
	case CategorySettings:
		return a.settings(ctx, s)
	case CategoryBilling:
		return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.PlanStatusMessage(ctx, ownerID)}, nil
	}

	switch ev.Kind {
	case domain.EventAction:
		return a.handleAction(ctx, s, ev)
	case domain.EventText:
		return a.handleText(ctx, s, ev.Text)
	default:
		return domain.Reply{Kind: domain.ReplyNone}, nil
	}
}

func (a *Assistant) resolveOwner(ctx context.Context, channelID string) (string, error) {
	ownerID, err := a.users.OwnerByChannel(ctx, channelID)
	if err == nil {
		return ownerID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", newError(ErrorStore, "owner_lookup_error", err)
	}
	ownerID, err = a.users.RegisterChannel(ctx, channelID, newUUID())
	if err != nil {
		return "", newError(ErrorStore, "owner_register_error", err)
	}
	observability.LoggerFromContext(ctx).Info("owner registered", "owner_id", ownerID)
	return ownerID, nil
}

func (a *Assistant) handleText(ctx context.Context, s session, text string) (domain.Reply, error) {
	text = normalizeInput(text)
	if text == "" {
		return domain.Reply{Kind: domain.ReplyNone}, nil
	}
	st := a.flow.State(ctx, s.ownerID)
	switch st.Name {
	case domain.FlowProfileCollection:
		return a.collectProfile(ctx, s, text)
	case domain.FlowEditingRelationship, domain.FlowEditingRegion,
		domain.FlowEditingMunicipality, domain.FlowEditingReferenceDate:
		return a.applyEdit(ctx, s, st, text)
	case domain.FlowAwaitingFollowUpAnswers:
		return a.answer(ctx, s, text)
	}

	if reply, ok, err := a.command(ctx, s, text); ok || err != nil {
		return reply, err
	}

	profile, err := a.profile(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	if !profile.Complete() {
		return a.startProfile(ctx, s, profile)
	}
	switch st.Name {
	case domain.FlowPersonalizedTasksGenerating, domain.FlowEnhancedTasksGenerating:
		return domain.TextReply(generatingMessage), nil
	}
	if status, err := a.steps.Status(ctx, s.ownerID, domain.StageBasic); err == nil && status == domain.StepInProgress {
		return domain.TextReply(generatingMessage), nil
	}
	if a.resumePersonalized(ctx, s) {
		return domain.TextReply(personalizingMessage), nil
	}
	return a.ask(ctx, s, text)
}

func (a *Assistant) handleAction(ctx context.Context, s session, ev domain.InboundEvent) (domain.Reply, error) {
	switch ev.Action {
	case domain.ActionRegenerateTasks:
		return a.regenerate(ctx, s)
	case domain.ActionViewTask:
		return a.viewTask(ctx, s, ev.Params["index"])
	case domain.ActionCompleteTask:
		return a.completeTask(ctx, s, ev.Params["task_id"])
	case domain.ActionAddTask:
		return a.addTask(ctx, s, ev.Params)
	case domain.ActionDeleteTask:
		return a.deleteTask(ctx, s, ev.Params["task_id"])
	case domain.ActionEditRelationship:
		return a.startEdit(ctx, s, domain.FlowEditingRelationship)
	case domain.ActionEditAddress:
		return a.startEdit(ctx, s, domain.FlowEditingRegion)
	case domain.ActionEditReferenceDate:
		return a.startEdit(ctx, s, domain.FlowEditingReferenceDate)
	case domain.ActionSetReferenceDate:
		return a.handleText(ctx, s, ev.Params["date"])
	default:
		observability.LoggerFromContext(ctx).Info("unknown action", "action", ev.Action)
		return domain.TextReply(helpMessage), nil
	}
}

func (a *Assistant) answer(ctx context.Context, s session, text string) (domain.Reply, error) {
	q, ok, err := a.questions.Next(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	if ok {
		if _, err := a.questions.Answer(ctx, q, text); err != nil {
			if CodeOf(err) == ErrorInvalidInput {
				return questionReply(q, "Please choose one of the options."), nil
			}
			return domain.Reply{}, err
		}
		next, more, err := a.questions.Next(ctx, s.ownerID)
		if err != nil {
			return domain.Reply{}, err
		}
		if more {
			return questionReply(next, ""), nil
		}
	}
	// The state stays until the trigger went through, so the next message
	// lands here again and retries it.
	started, err := a.orch.TriggerPersonalized(ctx, s.ownerID, s.channelID)
	if err != nil && CodeOf(err) != ErrorPreconditionFailed {
		return domain.Reply{}, err
	}
	if err := a.flow.ClearState(ctx, s.ownerID, domain.FlowAwaitingFollowUpAnswers); err != nil {
		return domain.Reply{}, err
	}
	if !started {
		return domain.TextReply("Thank you for your answers."), nil
	}
	return domain.TextReply(personalizingMessage), nil
}

// ask hands unmatched text to the Asker once the owner has tasks.
func (a *Assistant) ask(ctx context.Context, s session, text string) (domain.Reply, error) {
	if a.asker == nil {
		return domain.TextReply(helpMessage), nil
	}
	tasks, err := a.tasks.ListTasks(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, newError(ErrorStore, "task_read_error", err)
	}
	if len(tasks) == 0 {
		return domain.TextReply(helpMessage), nil
	}
	out, err := a.asker.Ask(ctx, AskInput{OwnerID: s.ownerID, Question: text})
	if err == nil {
		return domain.TextReply(out.Answer), nil
	}
	switch CodeOf(err) {
	case ErrorInvalidInput:
		var ue *Error
		if errors.As(err, &ue) && ue.Reason == "question_too_long" {
			return domain.TextReply(questionTooLongMessage), nil
		}
		return domain.TextReply(offTopicMessage), nil
	case ErrorUpstream, ErrorRateLimited, ErrorInternal:
		observability.LoggerFromContext(ctx).Warn("question not answered", "err", err)
		return domain.TextReply(askUnavailableMessage), nil
	default:
		return domain.Reply{}, err
	}
}

// resumePersonalized starts Stage 2 for an owner whose answers are all in
// but whose personalized stage never started.
func (a *Assistant) resumePersonalized(ctx context.Context, s session) bool {
	status, err := a.steps.Status(ctx, s.ownerID, domain.StagePersonalized)
	if err != nil || (status != "" && status != domain.StepPending) {
		return false
	}
	ready, err := a.steps.ShouldStartPersonalized(ctx, s.ownerID)
	if err != nil || !ready {
		return false
	}
	started, err := a.orch.TriggerPersonalized(ctx, s.ownerID, s.channelID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("personalized resume failed", "err", err)
		return false
	}
	return started
}

func (a *Assistant) regenerate(ctx context.Context, s session) (domain.Reply, error) {
	if err := a.orch.Regenerate(ctx, s.ownerID, s.channelID); err != nil {
		if CodeOf(err) == ErrorPreconditionFailed {
			profile, perr := a.profile(ctx, s.ownerID)
			if perr != nil {
				return domain.Reply{}, perr
			}
			return a.startProfile(ctx, s, profile)
		}
		return domain.Reply{}, err
	}
	return domain.TextReply("We are rebuilding your checklist from the start. We will message you when it is ready."), nil
}

func (a *Assistant) settings(ctx context.Context, s session) (domain.Reply, error) {
	profile, err := a.profile(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	var b strings.Builder
	b.WriteString("Your details:\n")
	b.WriteString("Relationship: " + orDash(profile.Relationship) + "\n")
	b.WriteString("Address: " + orDash(profile.Location()) + "\n")
	date := ""
	if profile.ReferenceDate != nil {
		date = profile.ReferenceDate.Format(time.DateOnly)
	}
	b.WriteString("Date of death: " + orDash(date) + "\n\n")
	b.WriteString(a.gate.PlanStatusMessage(ctx, s.ownerID))
	return domain.Reply{
		Kind:    domain.ReplyConfirm,
		Text:    b.String(),
		Actions: []string{domain.ActionEditRelationship, domain.ActionEditAddress, domain.ActionEditReferenceDate},
	}, nil
}

func (a *Assistant) profile(ctx context.Context, ownerID string) (domain.Profile, error) {
	p, err := a.users.GetProfile(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Profile{OwnerID: ownerID}, nil
	}
	if err != nil {
		return domain.Profile{}, newError(ErrorStore, "profile_read_error", err)
	}
	return p, nil
}

func classify(ev domain.InboundEvent) MessageCategory {
	if ev.Kind != domain.EventText {
		return CategoryGeneral
	}
	switch strings.ToLower(normalizeInput(ev.Text)) {
	case "help", "ヘルプ", "使い方":
		return CategoryHelp
	case "settings", "設定":
		return CategorySettings
	case "plan", "billing", "upgrade", "プラン":
		return CategoryBilling
	}
	return CategoryGeneral
}

func questionReply(q domain.FollowUpQuestion, prefix string) domain.Reply {
	text := q.Text
	if prefix != "" {
		text = prefix + "\n" + text
	}
	return domain.Reply{Kind: domain.ReplyQuestion, Text: text, Options: QuestionOptions(q), Question: &q}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

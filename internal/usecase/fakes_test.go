package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"estate-assistant/internal/domain"
)

// memStore is an in-memory implementation of every store port.
type memStore struct {
	mu sync.Mutex

	channels     map[string]string
	profiles     map[string]domain.Profile
	flows        map[string]domain.ConversationState
	steps        map[string]domain.GenerationStep
	events       []domain.StepEvent
	tasks        map[string]map[string]domain.Task
	questions    map[string]map[string]domain.FollowUpQuestion
	counters     map[string]int
	entitlements map[string]domain.PlanEntitlement
	chats        map[string][]domain.ChatTurn

	flowReadErr       error
	flowWriteErr      error
	saveTasksErr      error
	counterErr        error
	entitlementErr    error
	insertQuestionErr error
	chatErr           error
	entitlementGets   int
}

func newMemStore() *memStore {
	return &memStore{
		channels:     map[string]string{},
		profiles:     map[string]domain.Profile{},
		flows:        map[string]domain.ConversationState{},
		steps:        map[string]domain.GenerationStep{},
		tasks:        map[string]map[string]domain.Task{},
		questions:    map[string]map[string]domain.FollowUpQuestion{},
		counters:     map[string]int{},
		entitlements: map[string]domain.PlanEntitlement{},
	}
}

func stepKey(ownerID string, stage domain.Stage) string { return ownerID + "/" + string(stage) }

func (m *memStore) GetFlowState(_ context.Context, ownerID string) (domain.ConversationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowReadErr != nil {
		return domain.ConversationState{}, false, m.flowReadErr
	}
	st, ok := m.flows[ownerID]
	return st, ok, nil
}

func (m *memStore) PutFlowState(_ context.Context, st domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowWriteErr != nil {
		return m.flowWriteErr
	}
	m.flows[st.OwnerID] = st
	return nil
}

func (m *memStore) DeleteFlowState(_ context.Context, ownerID string, name domain.FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowWriteErr != nil {
		return m.flowWriteErr
	}
	if st, ok := m.flows[ownerID]; ok && (name == "" || st.Name == name) {
		delete(m.flows, ownerID)
	}
	return nil
}

func (m *memStore) GetStep(_ context.Context, ownerID string, stage domain.Stage) (domain.GenerationStep, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepKey(ownerID, stage)]
	return s, ok, nil
}

func (m *memStore) PutStep(_ context.Context, step domain.GenerationStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[stepKey(step.OwnerID, step.Stage)] = step
	return nil
}

func (m *memStore) TryStartStep(_ context.Context, req StepStartRequest) (domain.GenerationStep, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Requires != "" {
		prev, ok := m.steps[stepKey(req.OwnerID, req.Requires)]
		if !ok || prev.Status != domain.StepCompleted {
			return domain.GenerationStep{}, false, nil
		}
	}
	cur, ok := m.steps[stepKey(req.OwnerID, req.Stage)]
	if ok && (cur.Status == domain.StepCompleted || (cur.Status == domain.StepInProgress && !cur.Stale(req.StaleBefore))) {
		return cur, false, nil
	}
	now := req.Now
	next := domain.GenerationStep{
		OwnerID:   req.OwnerID,
		Stage:     req.Stage,
		Status:    domain.StepInProgress,
		Attempt:   cur.Attempt + 1,
		JobID:     req.JobID,
		StartedAt: &now,
		UpdatedAt: now,
	}
	m.steps[stepKey(req.OwnerID, req.Stage)] = next
	return next, true, nil
}

func (m *memStore) FinishStep(_ context.Context, req StepFinishRequest) (domain.GenerationStep, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.steps[stepKey(req.OwnerID, req.Stage)]
	if !ok || cur.Status != domain.StepInProgress || cur.JobID != req.JobID {
		return domain.GenerationStep{}, false, nil
	}
	now := req.Now
	cur.Status = req.Status
	cur.CompletedAt = &now
	cur.UpdatedAt = now
	if len(req.Metadata) > 0 {
		cur.Metadata = req.Metadata
	}
	if req.ErrorMessage != "" {
		cur.ErrorMessage = req.ErrorMessage
	}
	m.steps[stepKey(req.OwnerID, req.Stage)] = cur
	return cur, true, nil
}

func (m *memStore) RecentChatTurns(_ context.Context, ownerID string, limit int) ([]domain.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	turns := m.chats[ownerID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.ChatTurn(nil), turns...), nil
}

func (m *memStore) SaveChatTurn(_ context.Context, turn domain.ChatTurn, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chatErr != nil {
		return m.chatErr
	}
	if m.chats == nil {
		m.chats = map[string][]domain.ChatTurn{}
	}
	m.chats[turn.OwnerID] = append(m.chats[turn.OwnerID], turn)
	return nil
}

func (m *memStore) ClaimStep(_ context.Context, ownerID string, stage domain.Stage, jobID string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.steps[stepKey(ownerID, stage)]
	if !ok || cur.Status != domain.StepInProgress || cur.JobID != jobID {
		return false, nil
	}
	if cur.ClaimedAt != nil && !cur.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	cur.ClaimedAt = &now
	m.steps[stepKey(ownerID, stage)] = cur
	return true, nil
}

func (m *memStore) ResetStep(_ context.Context, ownerID string, stage domain.Stage, status domain.StepStatus, jobID string, now time.Time) (domain.GenerationStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.steps[stepKey(ownerID, stage)]
	next := domain.GenerationStep{
		OwnerID:   ownerID,
		Stage:     stage,
		Status:    status,
		Attempt:   cur.Attempt + 1,
		JobID:     jobID,
		UpdatedAt: now,
	}
	if status == domain.StepInProgress {
		next.StartedAt = &now
	}
	m.steps[stepKey(ownerID, stage)] = next
	return next, nil
}

func (m *memStore) AppendStepEvent(_ context.Context, ev domain.StepEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) ListStepEvents(_ context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StepEvent
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if ev := m.events[i]; ev.OwnerID == ownerID && ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) ListTasks(_ context.Context, ownerID string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, len(m.tasks[ownerID]))
	for _, t := range m.tasks[ownerID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *memStore) GetTask(_ context.Context, ownerID, taskID string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[ownerID][taskID]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memStore) SaveTasks(_ context.Context, tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveTasksErr != nil {
		return m.saveTasksErr
	}
	for _, t := range tasks {
		m.putTaskLocked(t)
	}
	return nil
}

func (m *memStore) PutTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTaskLocked(t)
	return nil
}

func (m *memStore) putTaskLocked(t domain.Task) {
	if m.tasks[t.OwnerID] == nil {
		m.tasks[t.OwnerID] = map[string]domain.Task{}
	}
	m.tasks[t.OwnerID][t.ID] = t
}

func (m *memStore) DeleteTasks(_ context.Context, ownerID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tasks[ownerID], id)
	}
	return nil
}

func (m *memStore) PurgeTasks(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.tasks[ownerID])
	delete(m.tasks, ownerID)
	return n, nil
}

func (m *memStore) ListQuestions(_ context.Context, ownerID string) ([]domain.FollowUpQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.FollowUpQuestion, 0, len(m.questions[ownerID]))
	for _, q := range m.questions[ownerID] {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) InsertQuestion(_ context.Context, q domain.FollowUpQuestion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertQuestionErr != nil {
		return false, m.insertQuestionErr
	}
	if m.questions[q.OwnerID] == nil {
		m.questions[q.OwnerID] = map[string]domain.FollowUpQuestion{}
	}
	if _, ok := m.questions[q.OwnerID][q.Key]; ok {
		return false, nil
	}
	m.questions[q.OwnerID][q.Key] = q
	return true, nil
}

func (m *memStore) AnswerQuestion(_ context.Context, ownerID, key, answer string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[ownerID][key]
	if !ok || q.IsAnswered {
		return false, nil
	}
	q.Answer, q.IsAnswered, q.AnsweredAt = answer, true, &at
	m.questions[ownerID][key] = q
	return true, nil
}

func (m *memStore) OwnerByChannel(_ context.Context, channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.channels[channelID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

func (m *memStore) RegisterChannel(_ context.Context, channelID, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.channels[channelID]; ok {
		return id, nil
	}
	m.channels[channelID] = ownerID
	return ownerID, nil
}

func (m *memStore) GetProfile(_ context.Context, ownerID string) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[ownerID]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memStore) PutProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.OwnerID] = p
	return nil
}

func (m *memStore) IncrementDailyCounter(_ context.Context, ownerID, day string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counterErr != nil {
		return 0, m.counterErr
	}
	m.counters[ownerID+"/"+day]++
	return m.counters[ownerID+"/"+day], nil
}

func (m *memStore) GetDailyCounter(_ context.Context, ownerID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[ownerID+"/"+day], nil
}

func (m *memStore) GetEntitlement(_ context.Context, ownerID string) (domain.PlanEntitlement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitlementGets++
	if m.entitlementErr != nil {
		return domain.PlanEntitlement{}, false, m.entitlementErr
	}
	e, ok := m.entitlements[ownerID]
	return e, ok, nil
}

func (m *memStore) step(ownerID string, stage domain.Stage) domain.GenerationStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[stepKey(ownerID, stage)]
}

func (m *memStore) taskCount(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks[ownerID])
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) named(name domain.JobName) []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Job
	for _, j := range q.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

type fakeGenerator struct {
	mu       sync.Mutex
	byStage  map[domain.Stage][]domain.TaskDraft
	err      error
	requests []GenerationRequest
	// during runs inside Generate, after the request is recorded.
	during func(req GenerationRequest)
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerationRequest) ([]domain.TaskDraft, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	out, err, during := g.byStage[req.Stage], g.err, g.during
	g.mu.Unlock()
	if during != nil {
		during(req)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func drafts(prefix string, n int) []domain.TaskDraft {
	out := make([]domain.TaskDraft, n)
	for i := range out {
		out[i] = domain.TaskDraft{
			Title:    prefix + " task " + strconv.Itoa(i+1),
			Category: "general",
			Priority: domain.PriorityHigh,
			DueDays:  i + 1,
		}
	}
	return out
}

// fixture wires every usecase component over one memStore.
type fixture struct {
	store     *memStore
	queue     *fakeQueue
	notifier  *fakeNotifier
	gen       *fakeGenerator
	now       time.Time
	flow      *FlowManager
	steps     *StepTracker
	orch      *Orchestrator
	questions *QuestionCatalog
	gate      *PlanGate
	limiter   *RateLimiter
	workers   *Workers
	assistant *Assistant
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		gen:      &fakeGenerator{byStage: map[domain.Stage][]domain.TaskDraft{}},
		now:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.flow, _ = NewFlowManager(f.store, 0)
	f.flow.now = clock
	f.steps, _ = NewStepTracker(f.store, f.store, nil, 0)
	f.steps.now = clock
	f.orch, _ = NewOrchestrator(f.flow, f.steps, f.store, f.store, f.queue, nil)
	f.orch.now = clock
	f.questions, _ = NewQuestionCatalog(f.store)
	f.questions.now = clock
	f.gate, _ = NewPlanGate(f.store, PlanGateOptions{})
	f.limiter, _ = NewRateLimiter(f.store, 0, nil, nil)
	f.limiter.now = clock
	guard, _ := NewOwnershipGuard(f.store)
	f.workers, _ = NewWorkers(WorkerDeps{
		Guard:        guard,
		Steps:        f.steps,
		Orchestrator: f.orch,
		Flow:         f.flow,
		Questions:    f.questions,
		Tasks:        f.store,
		Users:        f.store,
		Generator:    f.gen,
		Notifier:     f.notifier,
	})
	f.workers.now = clock
	f.assistant, _ = NewAssistant(AssistantDeps{
		Users:        f.store,
		Tasks:        f.store,
		Flow:         f.flow,
		Steps:        f.steps,
		Orchestrator: f.orch,
		Questions:    f.questions,
		Gate:         f.gate,
		Limiter:      f.limiter,
	})
	f.assistant.now = clock
	return f
}

// owner registers a channel with a complete profile.
func (f *fixture) owner(ownerID, channelID string) {
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f.store.channels[channelID] = ownerID
	f.store.profiles[ownerID] = domain.Profile{
		OwnerID:       ownerID,
		Relationship:  "spouse",
		Region:        "Tokyo",
		Municipality:  "Setagaya",
		ReferenceDate: &date,
	}
}

var errBoom = errors.New("boom")

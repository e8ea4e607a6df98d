package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
)

func TestTriggerBasic_TwiceEnqueuesOnce(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()

	started, err := f.orch.TriggerBasic(ctx, "o1", "U1")
	require.NoError(t, err)
	require.True(t, started)

	started, err = f.orch.TriggerBasic(ctx, "o1", "U1")
	require.NoError(t, err)
	require.False(t, started)

	jobs := f.queue.named(domain.JobGenerateBasic)
	require.Len(t, jobs, 1)
	require.Equal(t, "o1", jobs[0].OwnerID)
	require.Equal(t, "U1", jobs[0].ChannelID)
	step := f.store.step("o1", domain.StageBasic)
	require.Equal(t, domain.StepInProgress, step.Status)
	require.Equal(t, jobs[0].ID, step.JobID)
}

func TestTriggerBasic_ConcurrentTriggersEnqueueOnce(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.TriggerBasic(context.Background(), "o1", "U1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, f.queue.named(domain.JobGenerateBasic), 1)
}

func TestTriggerBasic_IncompleteProfile(t *testing.T) {
	f := newFixture()
	f.store.profiles["o1"] = domain.Profile{OwnerID: "o1", Relationship: "child"}

	_, err := f.orch.TriggerBasic(context.Background(), "o1", "U1")
	require.Equal(t, ErrorPreconditionFailed, CodeOf(err))
	require.Empty(t, f.queue.jobs)
	require.Empty(t, f.store.steps)
}

func TestTriggerBasic_EnqueueFailureFailsStep(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	f.queue.err = errBoom
	ctx := context.Background()

	_, err := f.orch.TriggerBasic(ctx, "o1", "U1")
	require.Error(t, err)
	require.True(t, IsRetryable(err))
	step := f.store.step("o1", domain.StageBasic)
	require.Equal(t, domain.StepFailed, step.Status)
	require.Contains(t, step.ErrorMessage, "boom")

	f.queue.err = nil
	started, err := f.orch.TriggerBasic(ctx, "o1", "U1")
	require.NoError(t, err)
	require.True(t, started, "failed step can be retriggered")
	require.Equal(t, 2, f.store.step("o1", domain.StageBasic).Attempt)
}

func TestTriggerPersonalized_RequiresBasicCompleted(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()

	_, err := f.orch.TriggerPersonalized(ctx, "o1", "U1")
	require.Equal(t, ErrorPreconditionFailed, CodeOf(err))

	_, err = f.orch.TriggerBasic(ctx, "o1", "U1")
	require.NoError(t, err)
	_, err = f.orch.TriggerPersonalized(ctx, "o1", "U1")
	require.Equal(t, ErrorPreconditionFailed, CodeOf(err))
	require.Empty(t, f.queue.named(domain.JobGeneratePersonalized))
	_, ok := f.store.steps[stepKey("o1", domain.StagePersonalized)]
	require.False(t, ok)
}

func TestTriggerPersonalized_RequiresAnswers(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()
	f.store.steps[stepKey("o1", domain.StageBasic)] = domain.GenerationStep{OwnerID: "o1", Stage: domain.StageBasic, Status: domain.StepCompleted}
	_, _ = f.store.InsertQuestion(ctx, domain.FollowUpQuestion{OwnerID: "o1", Key: "has_vehicle"})

	_, err := f.orch.TriggerPersonalized(ctx, "o1", "U1")
	require.Equal(t, ErrorPreconditionFailed, CodeOf(err))

	_, err = f.store.AnswerQuestion(ctx, "o1", "has_vehicle", "no", f.now)
	require.NoError(t, err)
	started, err := f.orch.TriggerPersonalized(ctx, "o1", "U1")
	require.NoError(t, err)
	require.True(t, started)
	require.Equal(t, domain.FlowPersonalizedTasksGenerating, f.flow.CurrentState(ctx, "o1"))
}

func TestTriggerPersonalized_NeverStartsWhileBasicNotCompleted(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()
	f.store.steps[stepKey("o1", domain.StageBasic)] = domain.GenerationStep{OwnerID: "o1", Stage: domain.StageBasic, Status: domain.StepCompleted}

	// Basic is reset between the guard read and the conditional start.
	step, ok, err := f.steps.TryStart(ctx, "o1", domain.StagePersonalized, domain.StageBasic, "job-x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StepInProgress, step.Status)

	_, err = f.steps.Reset(ctx, "o1", domain.StageBasic, domain.StepInProgress, "job-b")
	require.NoError(t, err)
	_, err = f.steps.Reset(ctx, "o1", domain.StagePersonalized, domain.StepPending, "")
	require.NoError(t, err)
	_, ok, err = f.steps.TryStart(ctx, "o1", domain.StagePersonalized, domain.StageBasic, "job-y")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.StepPending, f.store.step("o1", domain.StagePersonalized).Status)
}

func TestTriggerEnhanced_Guarded(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()

	_, err := f.orch.TriggerEnhanced(ctx, "o1", "U1")
	require.Equal(t, ErrorPreconditionFailed, CodeOf(err))

	f.store.steps[stepKey("o1", domain.StagePersonalized)] = domain.GenerationStep{OwnerID: "o1", Stage: domain.StagePersonalized, Status: domain.StepCompleted}
	started, err := f.orch.TriggerEnhanced(ctx, "o1", "U1")
	require.NoError(t, err)
	require.True(t, started)
	started, err = f.orch.TriggerEnhanced(ctx, "o1", "U1")
	require.NoError(t, err)
	require.False(t, started)
	require.Len(t, f.queue.named(domain.JobEnhanceTasks), 1)
}

func TestRegenerate_ResetsPipeline(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	ctx := context.Background()
	for _, stage := range domain.Stages {
		f.store.steps[stepKey("o1", stage)] = domain.GenerationStep{OwnerID: "o1", Stage: stage, Status: domain.StepCompleted, Attempt: 1}
	}
	f.store.putTaskLocked(domain.Task{ID: "t1", OwnerID: "o1", Title: "old"})
	f.store.putTaskLocked(domain.Task{ID: "t2", OwnerID: "o1", Title: "older"})
	require.NoError(t, f.flow.SetState(ctx, "o1", domain.FlowCompleted, nil, 0))

	require.NoError(t, f.orch.Regenerate(ctx, "o1", "U1"))

	require.Zero(t, f.store.taskCount("o1"))
	basic := f.store.step("o1", domain.StageBasic)
	require.Equal(t, domain.StepInProgress, basic.Status)
	require.Equal(t, 2, basic.Attempt)
	require.Equal(t, domain.StepPending, f.store.step("o1", domain.StagePersonalized).Status)
	require.Equal(t, domain.StepPending, f.store.step("o1", domain.StageEnhanced).Status)
	require.Equal(t, domain.FlowInitial, f.flow.CurrentState(ctx, "o1"))

	jobs := f.queue.named(domain.JobGenerateBasic)
	require.Len(t, jobs, 1)
	require.Equal(t, basic.JobID, jobs[0].ID)
	require.Equal(t, 2, jobs[0].Attempt)
}

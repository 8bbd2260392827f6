package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/executionsvc"
	"github.com/mel-run/taskflow/internal/handler"
	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/handler/testhandlers"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/orchestrator"
	"github.com/mel-run/taskflow/internal/store"
	"github.com/mel-run/taskflow/internal/workflowsvc"
)

func setup(t *testing.T) (*workflowsvc.Service, *executionsvc.Service, *orchestrator.Orchestrator, *handler.Registry) {
	t.Helper()
	st := store.NewMemStore()
	wfSvc := workflowsvc.New(st)
	execSvc := executionsvc.New(st)
	reg := handler.NewRegistry()
	reg.Register(builtin.LogHandler{})
	reg.Register(builtin.TransformHandler{})
	policy := orchestrator.RetryPolicy{BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	return wfSvc, execSvc, orchestrator.New(st, execSvc, reg, policy), reg
}

// S1: Happy path.
func TestExecute_HappyPath(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "happy-path", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, model.JSONMap{"message": "hi"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.False(t, outcome.Failed)

	got, err := execSvc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, got.Status)

	steps := got.OutputData["steps"].(model.JSONMap)
	s0 := steps["s0"].(model.JSONMap)
	require.Equal(t, "hi", s0["logged_message"])
	require.Equal(t, "info", s0["level"])

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, 1, attempts[0].AttemptNumber)
	require.Equal(t, model.StepCompleted, attempts[0].Status)
}

// S2: Retry then succeed.
func TestExecute_RetryThenSucceed(t *testing.T) {
	wfSvc, execSvc, orch, reg := setup(t)
	ctx := context.Background()
	flaky := &testhandlers.Flaky{FailCount: 1}
	reg.Register(flaky)

	wf, err := wfSvc.CreateWorkflow(ctx, "retry-then-succeed", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "flaky", 0, nil, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	start := time.Now()
	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.False(t, outcome.Failed)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 10*time.Millisecond) // base_delay * 2^1

	got, err := execSvc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, got.Status)

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, 1, attempts[0].AttemptNumber)
	require.Equal(t, model.StepFailed, attempts[0].Status)
	require.Equal(t, 2, attempts[1].AttemptNumber)
	require.Equal(t, model.StepCompleted, attempts[1].Status)
}

// S3: Retry exhaustion.
func TestExecute_RetryExhaustion(t *testing.T) {
	wfSvc, execSvc, orch, reg := setup(t)
	ctx := context.Background()
	alwaysFails := &testhandlers.Flaky{FailCount: 100}
	reg.Register(alwaysFails)

	wf, err := wfSvc.CreateWorkflow(ctx, "retry-exhaustion", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "flaky", 0, nil, 30, 2)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, outcome.Failed)

	got, err := execSvc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "s0")

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, model.StepFailed, attempts[0].Status)
	require.Equal(t, model.StepFailed, attempts[1].Status)
}

// S7 (universal property): resumability after crash.
func TestExecute_ResumesFromCheckpointedStep(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "multi-step", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, model.JSONMap{"message": "step0"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s1", "log", 1, model.JSONMap{"message": "step1"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	// Simulate a crash after step 0 committed: start the execution and
	// checkpoint current_step_order=1, as the orchestrator would have left it.
	_, err = execSvc.StartExecution(ctx, exec.ID)
	require.NoError(t, err)
	err = execSvc.CheckpointStepOrder(ctx, exec.ID, 1)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.False(t, outcome.Failed)

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	// Only step 1 should have been (re-)executed; step 0 was skipped.
	require.Len(t, attempts, 1)
	require.Equal(t, 1, attempts[0].StepOrder)
}

// S6: Cancellation.
func TestExecute_AlreadyCancelledIsFatal(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "cancel-path", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, model.JSONMap{"message": "hi"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)
	_, err = execSvc.CancelExecution(ctx, exec.ID)
	require.NoError(t, err)

	_, err = orch.Execute(ctx, exec.ID)
	require.Error(t, err)
}

func TestExecute_AlreadyCompletedReturnsCachedOutput(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "idempotent-rerun", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, model.JSONMap{"message": "hi"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	_, err = orch.Execute(ctx, exec.ID)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, outcome.AlreadyCompleted)
}

// A scheduled execution dequeued early should be deferred rather than
// started.
func TestExecute_ScheduledInFutureReturnsRequeueWithoutStarting(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "deferred-start", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, model.JSONMap{"message": "hi"}, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, &future)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.Greater(t, outcome.Requeue, time.Duration(0))
	require.LessOrEqual(t, outcome.Requeue, time.Hour)

	got, err := execSvc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionPending, got.Status)

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Empty(t, attempts)
}

func TestExecute_UnknownTaskTypeFailsWithoutRetry(t *testing.T) {
	wfSvc, execSvc, orch, _ := setup(t)
	ctx := context.Background()

	wf, err := wfSvc.CreateWorkflow(ctx, "unknown-handler", "", nil)
	require.NoError(t, err)
	_, err = wfSvc.AddStep(ctx, wf.ID, "s0", "does_not_exist", 0, nil, 30, 3)
	require.NoError(t, err)
	_, err = wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)

	outcome, err := orch.Execute(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, outcome.Failed)

	attempts, err := execSvc.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

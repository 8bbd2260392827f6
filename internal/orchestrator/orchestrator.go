// Package orchestrator implements the core execution engine: step-by-step
// dispatch with per-step exponential-backoff retry and durable
// checkpointing of current_step_order, enabling crash-resumption.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/executionsvc"
	"github.com/mel-run/taskflow/internal/handler"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/statemachine"
	"github.com/mel-run/taskflow/internal/store"
)

// RetryPolicy configures the per-step exponential backoff, grounded on the
// teacher's pkg/execution/types.go RetryPolicy.CalculateRetryDelay.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// CalculateDelay returns min(base * 2^attempt, max_delay).
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Outcome describes the terminal shape of one execute(execution_id) call.
type Outcome struct {
	AlreadyCompleted bool
	Failed           bool
	Cancelled        bool
	ExecutionID      uuid.UUID
	Output           model.JSONMap

	// Requeue is set when the execution's scheduled_at is still in the
	// future: the caller should re-enqueue the same execution_id after this
	// delay instead of treating the dequeue as a normal attempt. No state is
	// touched when this is set.
	Requeue time.Duration
}

// OrchestratorError is a fatal, non-retryable failure of the orchestrator
// itself (e.g. the execution's workflow no longer exists).
type OrchestratorError struct {
	ExecutionID uuid.UUID
	Cause       error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator: execution %s: %v", e.ExecutionID, e.Cause)
}

func (e *OrchestratorError) Unwrap() error { return e.Cause }

// Orchestrator drives one execution through its remaining steps.
type Orchestrator struct {
	store       store.Store
	execSvc     *executionsvc.Service
	registry    *handler.Registry
	retryPolicy RetryPolicy
}

// New returns an Orchestrator wired to st and reg, using policy for backoff.
func New(st store.Store, execSvc *executionsvc.Service, reg *handler.Registry, policy RetryPolicy) *Orchestrator {
	return &Orchestrator{store: st, execSvc: execSvc, registry: reg, retryPolicy: policy}
}

// Execute drives executionID through however many of its remaining steps
// complete before either a terminal state or a step failure.
func (o *Orchestrator) Execute(ctx context.Context, executionID uuid.UUID) (*Outcome, error) {
	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
	}

	wf, err := o.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
	}

	if exec.Status == model.ExecutionCompleted {
		return &Outcome{AlreadyCompleted: true, ExecutionID: executionID, Output: exec.OutputData}, nil
	}
	if exec.Status == model.ExecutionCancelled {
		return nil, &OrchestratorError{ExecutionID: executionID, Cause: fmt.Errorf("execution is cancelled")}
	}

	if exec.ScheduledAt != nil && exec.ScheduledAt.After(time.Now()) {
		return &Outcome{ExecutionID: executionID, Requeue: time.Until(*exec.ScheduledAt)}, nil
	}

	if exec.Status == model.ExecutionPending || exec.Status == model.ExecutionRetrying {
		if _, err := o.execSvc.StartExecution(ctx, executionID); err != nil {
			return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
		}
	}

	steps, err := o.store.ListStepsByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
	}

	currentData := exec.InputData.Clone()
	if currentData == nil {
		currentData = model.JSONMap{}
	}
	stepOutputs := model.JSONMap{}

	for _, step := range steps {
		if step.StepOrder < exec.CurrentStepOrder {
			continue
		}

		output, err := o.executeStep(ctx, exec, step, currentData)
		if err != nil {
			var stepErr *apperr.StepExecutionError
			if errors.As(err, &stepErr) {
				msg := stepErr.Error()
				if _, tErr := o.execSvc.TransitionStatus(ctx, executionID, model.ExecutionFailed, &msg, nil); tErr != nil {
					log.Printf("orchestrator: execution %s: failed to persist failure transition: %v", executionID, tErr)
				}
				return &Outcome{Failed: true, ExecutionID: executionID}, nil
			}
			return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
		}

		stepOutputs[step.Name] = output
		currentData = currentData.Merge(output)

		nextStepOrder := step.StepOrder + 1
		if err := o.execSvc.CheckpointStepOrder(ctx, executionID, nextStepOrder); err != nil {
			return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
		}
		exec.CurrentStepOrder = nextStepOrder
	}

	finalOutput := model.JSONMap{
		"steps":      stepOutputs,
		"final_data": currentData,
	}
	if _, err := o.execSvc.CompleteExecution(ctx, executionID, finalOutput); err != nil {
		if outcome, ok := o.asCancelledOutcome(ctx, executionID, err); ok {
			return outcome, nil
		}
		return nil, &OrchestratorError{ExecutionID: executionID, Cause: err}
	}

	return &Outcome{ExecutionID: executionID, Output: finalOutput}, nil
}

// executeStep implements per-step retry with exponential backoff (spec
// §4.6). It creates a fresh StepExecution per attempt (reusing the same
// step_order) and returns the handler's output on the first success, or an
// *apperr.StepExecutionError on exhaustion.
func (o *Orchestrator) executeStep(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, inputData model.JSONMap) (model.JSONMap, error) {
	h, ok := o.registry.Get(step.TaskType)
	if !ok {
		se := &model.StepExecution{
			ExecutionID:   exec.ID,
			StepID:        step.ID,
			StepOrder:     step.StepOrder,
			Status:        model.StepFailed,
			AttemptNumber: 1,
			InputData:     inputData,
			ErrorMessage:  fmt.Sprintf("no handler registered for task_type %q", step.TaskType),
		}
		_ = o.execSvc.CreateStepExecution(ctx, se)
		return nil, apperr.StepExecution(step.Name, fmt.Errorf("unknown task_type %q", step.TaskType))
	}

	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		se := &model.StepExecution{
			ExecutionID:   exec.ID,
			StepID:        step.ID,
			StepOrder:     step.StepOrder,
			Status:        model.StepPending,
			AttemptNumber: attempt,
			InputData:     inputData,
		}
		if err := o.execSvc.CreateStepExecution(ctx, se); err != nil {
			return nil, fmt.Errorf("create step execution: %w", err)
		}

		running := model.StepRunning
		_ = o.execSvc.UpdateStepExecution(ctx, se.ID, store.StepExecutionUpdate{Status: &running})
		o.execSvc.Log(ctx, exec.ID, &se.ID, model.LogInfo, fmt.Sprintf("step %q attempt %d started", step.Name, attempt))

		timeout := time.Duration(step.TimeoutSeconds) * time.Second
		output, err := h.Execute(ctx, step.Config, inputData, timeout)
		if err == nil {
			completed := model.StepCompleted
			_ = o.execSvc.UpdateStepExecution(ctx, se.ID, store.StepExecutionUpdate{Status: &completed, OutputData: output})
			o.execSvc.Log(ctx, exec.ID, &se.ID, model.LogInfo, fmt.Sprintf("step %q attempt %d completed", step.Name, attempt))
			return output, nil
		}

		lastErr = err
		failed := model.StepFailed
		errMsg := err.Error()
		_ = o.execSvc.UpdateStepExecution(ctx, se.ID, store.StepExecutionUpdate{
			Status:       &failed,
			ErrorMessage: &errMsg,
			ErrorDetails: model.JSONMap{"attempt": attempt, "error_message": errMsg},
		})
		o.execSvc.Log(ctx, exec.ID, &se.ID, model.LogError, fmt.Sprintf("step %q attempt %d failed: %v", step.Name, attempt, err))

		if attempt < maxRetries {
			delay := o.retryPolicy.CalculateDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, apperr.StepExecution(step.Name, lastErr)
}

// asCancelledOutcome recognizes the benign case where a concurrent
// cancel_execution raced this step's terminal transition: the transition
// fails as an InvalidTransition, but the execution itself is sitting in
// cancelled, not broken.
func (o *Orchestrator) asCancelledOutcome(ctx context.Context, executionID uuid.UUID, err error) (*Outcome, bool) {
	var transErr *statemachine.InvalidTransitionError
	if !errors.As(err, &transErr) {
		return nil, false
	}
	refreshed, getErr := o.store.GetExecution(ctx, executionID)
	if getErr != nil || refreshed.Status != model.ExecutionCancelled {
		return nil, false
	}
	return &Outcome{Cancelled: true, ExecutionID: executionID}, true
}

// Package executionsvc implements the Execution Service: the public
// operations for creating, transitioning and retrying workflow executions,
// with every lifecycle move validated through internal/statemachine and
// recorded to the audit log.
package executionsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/statemachine"
	"github.com/mel-run/taskflow/internal/store"
)

// Service implements execution lifecycle operations.
type Service struct {
	store store.Store
}

// New returns a Service backed by st.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// CreateExecution fetches the workflow (must be active), dedupes on
// (workflow_id, idempotency_key), and inserts a new pending execution.
func (s *Service) CreateExecution(ctx context.Context, workflowID uuid.UUID, idempotencyKey string, inputData model.JSONMap, maxRetries int, scheduledAt *time.Time) (*model.WorkflowExecution, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowActive {
		return nil, apperr.Validation("workflow %s is not active", wf.ID)
	}

	existing, err := s.store.GetExecutionByIdempotencyKey(ctx, workflowID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.DuplicateExecution(existing.ID)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}

	exec := &model.WorkflowExecution{
		WorkflowID:     workflowID,
		IdempotencyKey: idempotencyKey,
		Status:         model.ExecutionPending,
		InputData:      inputData,
		MaxRetries:     maxRetries,
	}
	exec.ScheduledAt = scheduledAt

	if err := s.store.InsertExecution(ctx, exec); err != nil {
		if dup, ok := apperr.IsDuplicateExecution(err); ok {
			return nil, apperr.DuplicateExecution(dup.ExistingID)
		}
		if store.IsUniqueViolation(err) {
			if existing, getErr := s.store.GetExecutionByIdempotencyKey(ctx, workflowID, idempotencyKey); getErr == nil && existing != nil {
				return nil, apperr.DuplicateExecution(existing.ID)
			}
		}
		return nil, err
	}

	s.log(ctx, exec.ID, nil, model.LogInfo, fmt.Sprintf("execution created for workflow %s", wf.Name))
	return exec, nil
}

// TransitionStatus validates newStatus against the current status via the
// state machine, persists the partial update, and appends an audit log
// naming both the previous and new status.
func (s *Service) TransitionStatus(ctx context.Context, executionID uuid.UUID, newStatus model.ExecutionStatus, errorMessage *string, currentStepOrder *int) (*model.WorkflowExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(exec.Status, newStatus); err != nil {
		return nil, err
	}

	previous := exec.Status
	if err := s.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
		Status:           &newStatus,
		ErrorMessage:     errorMessage,
		CurrentStepOrder: currentStepOrder,
	}); err != nil {
		return nil, err
	}

	s.log(ctx, executionID, nil, model.LogInfo, fmt.Sprintf("status %s -> %s", previous, newStatus))

	exec.Status = newStatus
	if errorMessage != nil {
		exec.ErrorMessage = *errorMessage
	}
	if currentStepOrder != nil {
		exec.CurrentStepOrder = *currentStepOrder
	}
	return exec, nil
}

// CheckpointStepOrder durably advances current_step_order without a status
// transition: the execution remains running (or whatever status it already
// has) while the orchestrator moves on to the next step.
func (s *Service) CheckpointStepOrder(ctx context.Context, executionID uuid.UUID, nextStepOrder int) error {
	if err := s.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{CurrentStepOrder: &nextStepOrder}); err != nil {
		return err
	}
	return nil
}

// StartExecution transitions pending/retrying -> running.
func (s *Service) StartExecution(ctx context.Context, executionID uuid.UUID) (*model.WorkflowExecution, error) {
	return s.TransitionStatus(ctx, executionID, model.ExecutionRunning, nil, nil)
}

// CompleteExecution transitions running -> completed and persists output_data.
func (s *Service) CompleteExecution(ctx context.Context, executionID uuid.UUID, output model.JSONMap) (*model.WorkflowExecution, error) {
	exec, err := s.TransitionStatus(ctx, executionID, model.ExecutionCompleted, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetExecutionOutput(ctx, executionID, output); err != nil {
		return nil, err
	}
	exec.OutputData = output
	return exec, nil
}

// FailExecution transitions running -> failed with a message.
func (s *Service) FailExecution(ctx context.Context, executionID uuid.UUID, message string) (*model.WorkflowExecution, error) {
	return s.TransitionStatus(ctx, executionID, model.ExecutionFailed, &message, nil)
}

// CancelExecution transitions to cancelled; refuses if already terminal.
func (s *Service) CancelExecution(ctx context.Context, executionID uuid.UUID) (*model.WorkflowExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if statemachine.IsTerminal(exec.Status) {
		return nil, apperr.Validation("execution %s is already in a terminal status %s", exec.ID, exec.Status)
	}
	return s.TransitionStatus(ctx, executionID, model.ExecutionCancelled, nil, nil)
}

// RetryExecution fails unless the execution is failed and retry_count <
// max_retries; atomically increments retry_count and transitions to
// retrying.
func (s *Service) RetryExecution(ctx context.Context, executionID uuid.UUID) (*model.WorkflowExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != model.ExecutionFailed {
		return nil, apperr.Validation("execution %s is not in failed status", exec.ID)
	}
	if exec.RetryCount >= exec.MaxRetries {
		return nil, apperr.Validation("execution %s has exhausted its retry budget", exec.ID)
	}

	if _, err := s.store.IncrementRetryCount(ctx, executionID); err != nil {
		return nil, err
	}
	return s.TransitionStatus(ctx, executionID, model.ExecutionRetrying, nil, nil)
}

// CreateStepExecution inserts a fresh StepExecution record.
func (s *Service) CreateStepExecution(ctx context.Context, se *model.StepExecution) error {
	return s.store.InsertStepExecution(ctx, se)
}

// UpdateStepExecution applies a partial update to a StepExecution.
func (s *Service) UpdateStepExecution(ctx context.Context, id uuid.UUID, update store.StepExecutionUpdate) error {
	return s.store.UpdateStepExecution(ctx, id, update)
}

// ListStepExecutions returns every attempt recorded for an execution.
func (s *Service) ListStepExecutions(ctx context.Context, executionID uuid.UUID) ([]*model.StepExecution, error) {
	return s.store.ListStepExecutionsByExecution(ctx, executionID)
}

// GetExecution fetches an execution by id.
func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*model.WorkflowExecution, error) {
	return s.store.GetExecution(ctx, id)
}

// ListExecutions returns a page of executions.
func (s *Service) ListExecutions(ctx context.Context, filter store.ExecutionFilter, page store.Page) ([]*model.WorkflowExecution, int, error) {
	return s.store.ListExecutions(ctx, filter, page)
}

// GetExecutionLogs verifies the execution exists, then returns a page of its
// audit log.
func (s *Service) GetExecutionLogs(ctx context.Context, executionID uuid.UUID, filter store.LogFilter, page store.Page) ([]*model.ExecutionLog, int, error) {
	if _, err := s.store.GetExecution(ctx, executionID); err != nil {
		return nil, 0, err
	}
	return s.store.ListLogsByExecution(ctx, executionID, filter, page)
}

// Log appends an audit log entry for an execution, optionally attributed to
// a specific step execution.
func (s *Service) Log(ctx context.Context, executionID uuid.UUID, stepExecutionID *uuid.UUID, level model.LogLevel, message string) {
	s.log(ctx, executionID, stepExecutionID, level, message)
}

func (s *Service) log(ctx context.Context, executionID uuid.UUID, stepExecutionID *uuid.UUID, level model.LogLevel, message string) {
	_ = s.store.InsertLog(ctx, &model.ExecutionLog{
		ExecutionID:     executionID,
		StepExecutionID: stepExecutionID,
		Level:           level,
		Message:         message,
	})
}

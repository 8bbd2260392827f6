// Package store defines the durable-store contract of the orchestration
// core: transactional persistence for workflows, steps, executions,
// step-executions and logs. internal/store/postgres.go is the only
// production implementation, backed by lib/pq.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/model"
)

// Page bounds a paginated list query.
type Page struct {
	Limit  int
	Offset int
}

// WorkflowFilter narrows list-by-status queries.
type WorkflowFilter struct {
	Status *model.WorkflowStatus
}

// ExecutionFilter narrows list queries over executions.
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	Status     *model.ExecutionStatus
}

// ExecutionUpdate is a partial update applied to a WorkflowExecution. Nil
// fields are left untouched. Status transitions auto-stamp StartedAt on the
// first move into running and CompletedAt on any move into a terminal
// status; callers never set those fields directly.
type ExecutionUpdate struct {
	Status           *model.ExecutionStatus
	ErrorMessage     *string
	CurrentStepOrder *int
	OutputData       model.JSONMap
}

// StepExecutionUpdate is a partial update applied to a StepExecution.
type StepExecutionUpdate struct {
	Status       *model.StepExecutionStatus
	OutputData   model.JSONMap
	ErrorMessage *string
	ErrorDetails model.JSONMap
}

// LogFilter narrows a log listing to one severity.
type LogFilter struct {
	Level *model.LogLevel
}

// Store is the full durable-store contract the core depends on.
type Store interface {
	// Workflow
	InsertWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	GetLatestWorkflowByName(ctx context.Context, name string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter, page Page) ([]*model.Workflow, int, error)
	UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status model.WorkflowStatus) error

	// Step
	InsertStep(ctx context.Context, step *model.WorkflowStep) error
	ListStepsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*model.WorkflowStep, error)
	GetStep(ctx context.Context, id uuid.UUID) (*model.WorkflowStep, error)

	// Execution
	InsertExecution(ctx context.Context, exec *model.WorkflowExecution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*model.WorkflowExecution, error)
	GetExecutionByIdempotencyKey(ctx context.Context, workflowID uuid.UUID, key string) (*model.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, id uuid.UUID, update ExecutionUpdate) error
	IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error)
	SetExecutionOutput(ctx context.Context, id uuid.UUID, output model.JSONMap) error
	ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*model.WorkflowExecution, int, error)
	ListPendingReady(ctx context.Context, page Page) ([]*model.WorkflowExecution, error)

	// StepExecution
	InsertStepExecution(ctx context.Context, se *model.StepExecution) error
	UpdateStepExecution(ctx context.Context, id uuid.UUID, update StepExecutionUpdate) error
	ListStepExecutionsByExecution(ctx context.Context, executionID uuid.UUID) ([]*model.StepExecution, error)

	// Log
	InsertLog(ctx context.Context, log *model.ExecutionLog) error
	ListLogsByExecution(ctx context.Context, executionID uuid.UUID, filter LogFilter, page Page) ([]*model.ExecutionLog, int, error)

	// Ping verifies the store is reachable, for health checks.
	Ping(ctx context.Context) error
}

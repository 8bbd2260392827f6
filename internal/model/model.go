// Package model defines the durable entities of the workflow orchestration
// core: Workflow, WorkflowStep, WorkflowExecution, StepExecution and
// ExecutionLog, plus their status enums. Entities are plain value types
// rebuilt on every read from the store; the store is the source of truth,
// not an in-memory mutable graph.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle status of a Workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "draft"
	WorkflowActive     WorkflowStatus = "active"
	WorkflowDeprecated WorkflowStatus = "deprecated"
	WorkflowArchived   WorkflowStatus = "archived"
)

// ExecutionStatus is the lifecycle status of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionRetrying  ExecutionStatus = "retrying"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepExecutionStatus is the status of one attempt of one step.
type StepExecutionStatus string

const (
	StepPending   StepExecutionStatus = "pending"
	StepRunning   StepExecutionStatus = "running"
	StepCompleted StepExecutionStatus = "completed"
	StepFailed    StepExecutionStatus = "failed"
	StepSkipped   StepExecutionStatus = "skipped"
)

// LogLevel is the severity of an ExecutionLog entry.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// JSONMap is an opaque, JSON-shaped structured document: config, input_data,
// output_data, error_details, details, metadata.
type JSONMap map[string]any

// Clone returns a shallow copy of m (nil-safe).
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge shallow-merges other into a copy of m and returns the result. Keys in
// other win over keys in m.
func (m JSONMap) Merge(other JSONMap) JSONMap {
	out := m.Clone()
	if out == nil {
		out = make(JSONMap, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Workflow is a versioned workflow definition.
type Workflow struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Version     int            `json:"version"`
	Metadata    JSONMap        `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep is a slot in a workflow definition, addressed by StepOrder.
type WorkflowStep struct {
	ID             uuid.UUID `json:"id"`
	WorkflowID     uuid.UUID `json:"workflow_id"`
	Name           string    `json:"name"`
	TaskType       string    `json:"task_type"`
	StepOrder      int       `json:"step_order"`
	Config         JSONMap   `json:"config,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	MaxRetries     int       `json:"max_retries"`
}

// WorkflowExecution is one run of a Workflow definition.
type WorkflowExecution struct {
	ID               uuid.UUID       `json:"id"`
	WorkflowID       uuid.UUID       `json:"workflow_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepOrder int             `json:"current_step_order"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	InputData        JSONMap         `json:"input_data,omitempty"`
	OutputData       JSONMap         `json:"output_data,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// StepExecution is one attempt of one step inside one WorkflowExecution.
type StepExecution struct {
	ID            uuid.UUID           `json:"id"`
	ExecutionID   uuid.UUID           `json:"execution_id"`
	StepID        uuid.UUID           `json:"step_id"`
	StepOrder     int                 `json:"step_order"`
	Status        StepExecutionStatus `json:"status"`
	AttemptNumber int                 `json:"attempt_number"`
	InputData     JSONMap             `json:"input_data,omitempty"`
	OutputData    JSONMap             `json:"output_data,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	ErrorDetails  JSONMap             `json:"error_details,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// ExecutionLog is an append-only audit record, workflow-level (StepExecutionID
// nil) or step-level.
type ExecutionLog struct {
	ID              uuid.UUID  `json:"id"`
	ExecutionID     uuid.UUID  `json:"execution_id"`
	StepExecutionID *uuid.UUID `json:"step_execution_id,omitempty"`
	Level           LogLevel   `json:"level"`
	Message         string     `json:"message"`
	Details         JSONMap    `json:"details,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

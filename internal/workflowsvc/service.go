// Package workflowsvc implements the Workflow Service: the public
// operations for defining workflows and their step lists, deliberately an
// ordered step list rather than a DAG.
package workflowsvc

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/store"
)

// Service implements workflow definition and lifecycle operations.
type Service struct {
	store store.Store
}

// New returns a Service backed by st.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// CreateWorkflow trims name, fails Validation on empty name or a name
// collision against the latest version, and inserts a new draft workflow.
func (s *Service) CreateWorkflow(ctx context.Context, name, description string, metadata model.JSONMap) (*model.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}

	existing, err := s.store.GetLatestWorkflowByName(ctx, name)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Validation("workflow %q already exists", name)
	}

	wf := &model.Workflow{
		Name:        name,
		Description: description,
		Status:      model.WorkflowDraft,
		Version:     1,
		Metadata:    metadata,
	}
	if err := s.store.InsertWorkflow(ctx, wf, nil); err != nil {
		return nil, err
	}
	return wf, nil
}

// AddStep appends a step to a draft workflow.
func (s *Service) AddStep(ctx context.Context, workflowID uuid.UUID, name, taskType string, stepOrder int, config model.JSONMap, timeoutSeconds, maxRetries int) (*model.WorkflowStep, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowDraft {
		return nil, apperr.Validation("workflow %s is not in draft status", wf.ID)
	}

	name = strings.TrimSpace(name)
	taskType = strings.TrimSpace(taskType)
	if name == "" {
		return nil, apperr.Validation("step name is required")
	}
	if taskType == "" {
		return nil, apperr.Validation("step task_type is required")
	}
	if stepOrder < 0 {
		return nil, apperr.Validation("step_order must be >= 0")
	}

	existingSteps, err := s.store.ListStepsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, existing := range existingSteps {
		if existing.StepOrder == stepOrder {
			return nil, apperr.Validation("step_order %d is already taken", stepOrder)
		}
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}

	step := &model.WorkflowStep{
		WorkflowID:     workflowID,
		Name:           name,
		TaskType:       taskType,
		StepOrder:      stepOrder,
		Config:         config,
		TimeoutSeconds: timeoutSeconds,
		MaxRetries:     maxRetries,
	}
	if err := s.store.InsertStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// ActivateWorkflow transitions a draft workflow to active, provided its
// step_orders form a contiguous, non-empty range.
func (s *Service) ActivateWorkflow(ctx context.Context, workflowID uuid.UUID) (*model.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowDraft {
		return nil, apperr.Validation("workflow %s is not in draft status", wf.ID)
	}

	steps, err := s.store.ListStepsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, apperr.Validation("workflow %s has no steps", wf.ID)
	}
	if !isContiguous(steps) {
		return nil, apperr.Validation("workflow %s step_orders are not contiguous", wf.ID)
	}

	if err := s.store.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowActive); err != nil {
		return nil, err
	}
	wf.Status = model.WorkflowActive
	return wf, nil
}

func isContiguous(steps []*model.WorkflowStep) bool {
	orders := make([]int, len(steps))
	for i, st := range steps {
		orders[i] = st.StepOrder
	}
	sort.Ints(orders)
	for i := 1; i < len(orders); i++ {
		if orders[i] != orders[i-1]+1 {
			return false
		}
	}
	return true
}

// DeprecateWorkflow moves a draft or active workflow to deprecated.
func (s *Service) DeprecateWorkflow(ctx context.Context, workflowID uuid.UUID) (*model.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowDraft && wf.Status != model.WorkflowActive {
		return nil, apperr.Validation("workflow %s cannot be deprecated from status %s", wf.ID, wf.Status)
	}
	if err := s.store.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowDeprecated); err != nil {
		return nil, err
	}
	wf.Status = model.WorkflowDeprecated
	return wf, nil
}

// ArchiveWorkflow unconditionally moves a workflow to archived.
func (s *Service) ArchiveWorkflow(ctx context.Context, workflowID uuid.UUID) (*model.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowArchived); err != nil {
		return nil, err
	}
	wf.Status = model.WorkflowArchived
	return wf, nil
}

// GetWorkflow fetches a workflow by id.
func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

// GetWorkflowByName fetches the latest version of a workflow by name.
func (s *Service) GetWorkflowByName(ctx context.Context, name string) (*model.Workflow, error) {
	return s.store.GetLatestWorkflowByName(ctx, name)
}

// ListWorkflows returns a page of workflows, optionally filtered by status.
func (s *Service) ListWorkflows(ctx context.Context, filter store.WorkflowFilter, page store.Page) ([]*model.Workflow, int, error) {
	return s.store.ListWorkflows(ctx, filter, page)
}

// ListSteps returns every step of a workflow, ordered by step_order.
func (s *Service) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*model.WorkflowStep, error) {
	return s.store.ListStepsByWorkflow(ctx, workflowID)
}

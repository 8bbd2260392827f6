package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/model"
)

// MemStore is an in-memory Store implementation used by service and
// orchestrator unit tests: a simple in-process stand-in so business logic
// can be tested without a real database.
type MemStore struct {
	mu             sync.Mutex
	workflows      map[uuid.UUID]*model.Workflow
	steps          map[uuid.UUID]*model.WorkflowStep
	executions     map[uuid.UUID]*model.WorkflowExecution
	stepExecutions map[uuid.UUID]*model.StepExecution
	logs           []*model.ExecutionLog
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:      make(map[uuid.UUID]*model.Workflow),
		steps:          make(map[uuid.UUID]*model.WorkflowStep),
		executions:     make(map[uuid.UUID]*model.WorkflowExecution),
		stepExecutions: make(map[uuid.UUID]*model.StepExecution),
	}
}

func (m *MemStore) Ping(ctx context.Context) error { return nil }

func (m *MemStore) InsertWorkflow(ctx context.Context, wf *model.Workflow, steps []*model.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	now := time.Now()
	wf.CreatedAt, wf.UpdatedAt = now, now
	cp := *wf
	m.workflows[wf.ID] = &cp

	for _, step := range steps {
		if step.ID == uuid.Nil {
			step.ID = uuid.New()
		}
		step.WorkflowID = wf.ID
		stepCp := *step
		m.steps[step.ID] = &stepCp
	}
	return nil
}

func (m *MemStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, apperr.NotFound("Workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemStore) GetLatestWorkflowByName(ctx context.Context, name string) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Workflow
	for _, wf := range m.workflows {
		if wf.Name != name {
			continue
		}
		if best == nil || wf.Version > best.Version {
			best = wf
		}
	}
	if best == nil {
		return nil, apperr.NotFound("Workflow", stringerID(name))
	}
	cp := *best
	return &cp, nil
}

type stringerID string

func (s stringerID) String() string { return string(s) }

func (m *MemStore) ListWorkflows(ctx context.Context, filter WorkflowFilter, page Page) ([]*model.Workflow, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Workflow
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		cp := *wf
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, page), total, nil
}

func (m *MemStore) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status model.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return apperr.NotFound("Workflow", id)
	}
	wf.Status = status
	wf.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) InsertStep(ctx context.Context, step *model.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	cp := *step
	m.steps[step.ID] = &cp
	return nil
}

func (m *MemStore) ListStepsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*model.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.WorkflowStep
	for _, st := range m.steps {
		if st.WorkflowID == workflowID {
			cp := *st
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StepOrder < result[j].StepOrder })
	return result, nil
}

func (m *MemStore) GetStep(ctx context.Context, id uuid.UUID) (*model.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.steps[id]
	if !ok {
		return nil, apperr.NotFound("WorkflowStep", id)
	}
	cp := *st
	return &cp, nil
}

func (m *MemStore) InsertExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.WorkflowID == exec.WorkflowID && e.IdempotencyKey == exec.IdempotencyKey {
			return apperr.DuplicateExecution(e.ID)
		}
	}
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	now := time.Now()
	exec.CreatedAt, exec.UpdatedAt = now, now
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, apperr.NotFound("WorkflowExecution", id)
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) GetExecutionByIdempotencyKey(ctx context.Context, workflowID uuid.UUID, key string) (*model.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.WorkflowID == workflowID && e.IdempotencyKey == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) UpdateExecution(ctx context.Context, id uuid.UUID, update ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return apperr.NotFound("WorkflowExecution", id)
	}
	if update.Status != nil {
		e.Status = *update.Status
		now := time.Now()
		if *update.Status == model.ExecutionRunning && e.StartedAt == nil {
			e.StartedAt = &now
		}
		if isTerminal(*update.Status) {
			e.CompletedAt = &now
		}
	}
	if update.ErrorMessage != nil {
		e.ErrorMessage = *update.ErrorMessage
	}
	if update.CurrentStepOrder != nil {
		e.CurrentStepOrder = *update.CurrentStepOrder
	}
	if update.OutputData != nil {
		e.OutputData = update.OutputData
	}
	e.UpdatedAt = time.Now()
	return nil
}

func isTerminal(s model.ExecutionStatus) bool {
	return s == model.ExecutionCompleted || s == model.ExecutionFailed || s == model.ExecutionCancelled
}

func (m *MemStore) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return 0, apperr.NotFound("WorkflowExecution", id)
	}
	e.RetryCount++
	return e.RetryCount, nil
}

func (m *MemStore) SetExecutionOutput(ctx context.Context, id uuid.UUID, output model.JSONMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return apperr.NotFound("WorkflowExecution", id)
	}
	e.OutputData = output
	return nil
}

func (m *MemStore) ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*model.WorkflowExecution, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.WorkflowExecution
	for _, e := range m.executions {
		if filter.WorkflowID != nil && e.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := len(all)
	return paginateExec(all, page), total, nil
}

func (m *MemStore) ListPendingReady(ctx context.Context, page Page) ([]*model.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.WorkflowExecution
	now := time.Now()
	for _, e := range m.executions {
		if e.Status != model.ExecutionPending {
			continue
		}
		if e.ScheduledAt != nil && e.ScheduledAt.After(now) {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginateExec(all, page), nil
}

func (m *MemStore) InsertStepExecution(ctx context.Context, se *model.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	cp := *se
	m.stepExecutions[se.ID] = &cp
	return nil
}

func (m *MemStore) UpdateStepExecution(ctx context.Context, id uuid.UUID, update StepExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.stepExecutions[id]
	if !ok {
		return apperr.NotFound("StepExecution", id)
	}
	if update.Status != nil {
		se.Status = *update.Status
		now := time.Now()
		switch *update.Status {
		case model.StepRunning:
			if se.StartedAt == nil {
				se.StartedAt = &now
			}
		case model.StepCompleted, model.StepFailed, model.StepSkipped:
			se.CompletedAt = &now
		}
	}
	if update.OutputData != nil {
		se.OutputData = update.OutputData
	}
	if update.ErrorMessage != nil {
		se.ErrorMessage = *update.ErrorMessage
	}
	if update.ErrorDetails != nil {
		se.ErrorDetails = update.ErrorDetails
	}
	return nil
}

func (m *MemStore) ListStepExecutionsByExecution(ctx context.Context, executionID uuid.UUID) ([]*model.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.StepExecution
	for _, se := range m.stepExecutions {
		if se.ExecutionID == executionID {
			cp := *se
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StepOrder != result[j].StepOrder {
			return result[i].StepOrder < result[j].StepOrder
		}
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

func (m *MemStore) InsertLog(ctx context.Context, logEntry *model.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logEntry.ID == uuid.Nil {
		logEntry.ID = uuid.New()
	}
	if logEntry.Timestamp.IsZero() {
		logEntry.Timestamp = time.Now()
	}
	cp := *logEntry
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemStore) ListLogsByExecution(ctx context.Context, executionID uuid.UUID, filter LogFilter, page Page) ([]*model.ExecutionLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.ExecutionLog
	for _, l := range m.logs {
		if l.ExecutionID != executionID {
			continue
		}
		if filter.Level != nil && l.Level != *filter.Level {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	total := len(all)
	return paginateLogs(all, page), total, nil
}

func paginate(items []*model.Workflow, page Page) []*model.Workflow {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset
	if start > len(items) {
		return nil
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func paginateExec(items []*model.WorkflowExecution, page Page) []*model.WorkflowExecution {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset
	if start > len(items) {
		return nil
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func paginateLogs(items []*model.ExecutionLog, page Page) []*model.ExecutionLog {
	if page.Limit <= 0 {
		return items
	}
	start := page.Offset
	if start > len(items) {
		return nil
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

var _ Store = (*MemStore)(nil)

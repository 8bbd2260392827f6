package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/queue"
	"github.com/mel-run/taskflow/internal/store"
)

type createExecutionRequest struct {
	WorkflowID     uuid.UUID     `json:"workflow_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	InputData      model.JSONMap `json:"input_data,omitempty"`
	MaxRetries     int           `json:"max_retries,omitempty"`
	ScheduledAt    *time.Time    `json:"scheduled_at,omitempty"`
}

// createExecution returns 201 and enqueues a fresh execution, or 200 with
// the pre-existing record on an idempotency collision.
func (s *Server) createExecution(w http.ResponseWriter, r *http.Request) {
	var in createExecutionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	exec, err := s.execSvc.CreateExecution(r.Context(), in.WorkflowID, in.IdempotencyKey, in.InputData, in.MaxRetries, in.ScheduledAt)
	if err != nil {
		if dup, ok := apperr.IsDuplicateExecution(err); ok {
			existing, getErr := s.execSvc.GetExecution(r.Context(), dup.ExistingID)
			if getErr != nil {
				writeServiceError(w, getErr)
				return
			}
			writeJSON(w, http.StatusOK, existing)
			return
		}
		writeServiceError(w, err)
		return
	}

	opts := queue.EnqueueOptions{TaskType: "workflow_execution"}
	if exec.ScheduledAt != nil {
		if delay := time.Until(*exec.ScheduledAt); delay > 0 {
			opts.DelaySeconds = int(delay.Seconds()) + 1
		}
	}
	if _, err := s.queue.Enqueue(r.Context(), exec.ID, opts); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}
	exec, err := s.execSvc.GetExecution(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	var filter store.ExecutionFilter
	if raw := r.URL.Query().Get("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid workflow_id")
			return
		}
		filter.WorkflowID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.ExecutionStatus(raw)
		filter.Status = &status
	}
	page := parsePage(r)

	executions, count, err := s.execSvc.ListExecutions(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      count,
		"limit":      page.Limit,
		"offset":     page.Offset,
	})
}

// retryExecution re-enqueues a failed execution for another pass through the
// orchestrator; the orchestrator resumes from current_step_order, never
// replaying a step already committed.
func (s *Server) retryExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := s.execSvc.RetryExecution(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if _, err := s.queue.Enqueue(r.Context(), exec.ID, queue.EnqueueOptions{TaskType: "workflow_execution"}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}
	exec, err := s.execSvc.CancelExecution(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) listExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	var filter store.LogFilter
	if raw := r.URL.Query().Get("level"); raw != "" {
		level := model.LogLevel(raw)
		filter.Level = &level
	}
	page := parsePage(r)

	logs, count, err := s.execSvc.GetExecutionLogs(r.Context(), id, filter, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"count":  count,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

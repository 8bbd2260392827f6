package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/store"
)

type createWorkflowRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Metadata    model.JSONMap `json:"metadata,omitempty"`
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var in createWorkflowRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wf, err := s.wfSvc.CreateWorkflow(r.Context(), in.Name, in.Description, in.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	wf, err := s.wfSvc.GetWorkflow(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	var filter store.WorkflowFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.WorkflowStatus(raw)
		filter.Status = &status
	}
	page := parsePage(r)

	workflows, count, err := s.wfSvc.ListWorkflows(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     count,
		"limit":     page.Limit,
		"offset":    page.Offset,
	})
}

type addStepRequest struct {
	Name           string        `json:"name"`
	TaskType       string        `json:"task_type"`
	StepOrder      int           `json:"step_order"`
	Config         model.JSONMap `json:"config,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	MaxRetries     int           `json:"max_retries,omitempty"`
}

func (s *Server) addStep(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var in addStepRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	step, err := s.wfSvc.AddStep(r.Context(), workflowID, in.Name, in.TaskType, in.StepOrder, in.Config, in.TimeoutSeconds, in.MaxRetries)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (s *Server) activateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := s.wfSvc.ActivateWorkflow(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) deprecateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := s.wfSvc.DeprecateWorkflow(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func parsePage(r *http.Request) store.Page {
	page := store.Page{Limit: 20, Offset: 0}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			page.Offset = n
		}
	}
	return page
}

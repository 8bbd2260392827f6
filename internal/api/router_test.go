package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/executionsvc"
	"github.com/mel-run/taskflow/internal/model"
	"github.com/mel-run/taskflow/internal/queue"
	"github.com/mel-run/taskflow/internal/store"
	"github.com/mel-run/taskflow/internal/workflowsvc"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewMemStore()
	s := NewServer(workflowsvc.New(st), executionsvc.New(st), queue.New(rdb, "taskflow", 30*time.Second), st)
	return s, s.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateWorkflow_ValidationReturns400(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", createWorkflowRequest{Name: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowLifecycle_CreateAddStepActivate(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", createWorkflowRequest{Name: "onboarding"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var wf model.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	require.Equal(t, model.WorkflowDraft, wf.Status)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+wf.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/steps", addStepRequest{
		Name: "s0", TaskType: "log", StepOrder: 0, Config: model.JSONMap{"message": "hi"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activated model.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activated))
	require.Equal(t, model.WorkflowActive, activated.Status)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.EqualValues(t, 1, listed["count"])
}

func TestGetWorkflow_BadIDReturns400_UnknownReturns404(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows/00000000-0000-0000-0000-000000000000", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// Idempotent execution creation via the HTTP boundary.
func TestCreateExecution_DuplicateIdempotencyKeyReturns200WithExisting(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", createWorkflowRequest{Name: "billing"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var wf model.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/steps", addStepRequest{
		Name: "s0", TaskType: "log", StepOrder: 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	createReq := createExecutionRequest{WorkflowID: wf.ID, IdempotencyKey: "k1"}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/executions", createReq)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first model.WorkflowExecution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/executions", createReq)
	require.Equal(t, http.StatusOK, rec.Code)
	var second model.WorkflowExecution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, first.ID, second.ID)
}

func TestCancelExecution_AlreadyTerminalReturns400(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()

	wf, err := s.wfSvc.CreateWorkflow(ctx, "cancel-me", "", nil)
	require.NoError(t, err)
	_, err = s.wfSvc.AddStep(ctx, wf.ID, "s0", "log", 0, nil, 30, 3)
	require.NoError(t, err)
	_, err = s.wfSvc.ActivateWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	exec, err := s.execSvc.CreateExecution(ctx, wf.ID, "k1", model.JSONMap{}, 3, nil)
	require.NoError(t, err)
	_, err = s.execSvc.CancelExecution(ctx, exec.ID)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/executions/"+exec.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReportsOKWhenStoreAndQueueReachable(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

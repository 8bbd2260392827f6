package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mel-run/taskflow/internal/executionsvc"
	"github.com/mel-run/taskflow/internal/queue"
	"github.com/mel-run/taskflow/internal/store"
	"github.com/mel-run/taskflow/internal/workflowsvc"
)

// Server holds the dependencies every route handler needs: the two
// application services, the raw queue (for enqueue/health) and the store
// (for health only — all other persistence goes through the services).
type Server struct {
	wfSvc   *workflowsvc.Service
	execSvc *executionsvc.Service
	queue   *queue.Queue
	store   store.Store
}

// NewServer wires a Server from its dependencies.
func NewServer(wfSvc *workflowsvc.Service, execSvc *executionsvc.Service, q *queue.Queue, st store.Store) *Server {
	return &Server{wfSvc: wfSvc, execSvc: execSvc, queue: q, store: st}
}

// Router builds the chi mux implementing every administrative route: workflow
// CRUD and lifecycle transitions, execution creation/retry/cancel, and log
// retrieval, plus a liveness endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Get("/", s.listWorkflows)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getWorkflow)
				r.Post("/steps", s.addStep)
				r.Post("/activate", s.activateWorkflow)
				r.Post("/deprecate", s.deprecateWorkflow)
			})
		})

		r.Route("/executions", func(r chi.Router) {
			r.Post("/", s.createExecution)
			r.Get("/", s.listExecutions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getExecution)
				r.Post("/retry", s.retryExecution)
				r.Post("/cancel", s.cancelExecution)
				r.Get("/logs", s.listExecutionLogs)
			})
		})
	})

	return r
}

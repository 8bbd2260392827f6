// Package handler defines the TaskHandler contract the orchestrator
// dispatches to by task_type: a mutex-guarded lookup from a type string to a
// concrete implementation, registered at startup.
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// TaskHandler executes one workflow step. Handlers are expected to be
// idempotent or tolerant of replay: a crash-resumed step may be re-run.
type TaskHandler interface {
	TaskType() string
	Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error)
}

// Registry maps task_type to TaskHandler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]TaskHandler)}
}

// Register adds h, replacing any existing handler for the same task type.
func (r *Registry) Register(h TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.TaskType()] = h
}

// Get retrieves the handler for taskType, or (nil, false) if unregistered.
func (r *Registry) Get(taskType string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// ListTaskTypes returns every registered task_type.
func (r *Registry) ListTaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

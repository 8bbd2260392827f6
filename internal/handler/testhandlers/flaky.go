// Package testhandlers holds TaskHandler implementations used only by
// tests: handlers that fail a fixed number of times before succeeding, or
// always fail. None of these are registered by production wiring
// (cmd/taskflow).
package testhandlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// Flaky fails on its first FailCount invocations, then succeeds.
type Flaky struct {
	FailCount int

	mu    sync.Mutex
	calls int
}

func (h *Flaky) TaskType() string { return "flaky" }

func (h *Flaky) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	h.mu.Lock()
	h.calls++
	attempt := h.calls
	h.mu.Unlock()

	if attempt <= h.FailCount {
		return nil, fmt.Errorf("flaky: simulated failure on attempt %d", attempt)
	}
	return model.JSONMap{"succeeded_on_attempt": attempt}, nil
}

// Calls returns the number of times Execute has been invoked so far.
func (h *Flaky) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

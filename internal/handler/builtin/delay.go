package builtin

import (
	"context"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// DelayHandler sleeps config["seconds"], cancellable via ctx, grounded on
// pkg/nodes/delay/delay.go.
type DelayHandler struct{}

func (DelayHandler) TaskType() string { return "delay" }

func (DelayHandler) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	seconds, _ := config["seconds"].(float64)
	if seconds <= 0 {
		return input.Clone(), nil
	}

	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return input.Clone(), nil
}

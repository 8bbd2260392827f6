package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/model"
)

func TestDelayHandler_SleepsForConfiguredSeconds(t *testing.T) {
	h := builtin.DelayHandler{}
	start := time.Now()
	out, err := h.Execute(context.Background(), model.JSONMap{"seconds": 0.05}, model.JSONMap{"x": 1.0}, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 1.0, out["x"])
}

func TestDelayHandler_CancelledByContext(t *testing.T) {
	h := builtin.DelayHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Execute(ctx, model.JSONMap{"seconds": 10.0}, model.JSONMap{}, 0)
	require.Error(t, err)
}

func TestDelayHandler_ZeroSecondsIsNoop(t *testing.T) {
	h := builtin.DelayHandler{}
	start := time.Now()
	_, err := h.Execute(context.Background(), model.JSONMap{}, model.JSONMap{}, 0)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 20*time.Millisecond)
}

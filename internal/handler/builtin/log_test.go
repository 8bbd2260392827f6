package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/model"
)

func TestLogHandler_FormatsMessage(t *testing.T) {
	h := builtin.LogHandler{}
	out, err := h.Execute(context.Background(),
		model.JSONMap{"message": "hi", "level": "info"},
		model.JSONMap{},
		10*time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, "hi", out["logged_message"])
	require.Equal(t, "info", out["level"])
}

func TestLogHandler_DefaultsToInfoLevel(t *testing.T) {
	h := builtin.LogHandler{}
	out, err := h.Execute(context.Background(), model.JSONMap{"message": "hello"}, model.JSONMap{}, 0)
	require.NoError(t, err)
	require.Equal(t, "info", out["level"])
}

func TestLogHandler_TemplatesAgainstInput(t *testing.T) {
	h := builtin.LogHandler{}
	out, err := h.Execute(context.Background(),
		model.JSONMap{"message": "order {{.input.order_id}} received"},
		model.JSONMap{"order_id": "42"},
		0,
	)
	require.NoError(t, err)
	require.Equal(t, "order 42 received", out["logged_message"])
}
